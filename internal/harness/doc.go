// Package harness composes the fixture writer, authentication driver, and
// tally inspector into independent, repeatable test scenarios against a
// rate-limiting PAM module.
//
// Each scenario is hermetic: it writes its own service configuration, drives
// one or more authentication attempts through the PAM stack, inspects the
// module's persisted tally state, and then unconditionally removes the
// configuration and sweeps the tally directory on every exit path,
// including early return from a failed assertion. A failed scenario
// therefore never leaks state into the next one.
//
// Scenarios come from two places: the built-in suite (BuiltinSuite), which
// mirrors the module's canonical valid/invalid/bounce cases, and YAML files
// loaded with LoadScenario, which are validated against an embedded CUE
// schema before they run.
package harness
