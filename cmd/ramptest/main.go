// Command ramptest is an integration harness for rate-limiting PAM modules.
package main

import (
	"os"

	"github.com/34n0/ramptest/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
