// Package pamsvc abstracts the PAM application API behind small interfaces
// so the harness can run against the real libpam stack (build tag "pam") or
// an in-memory fake of the module under test.
package pamsvc

import (
	"errors"
	"sync"
)

// Style classifies a conversation message, mirroring the PAM message styles.
type Style int

const (
	// PromptEchoOff asks for a secret (password prompt).
	PromptEchoOff Style = iota + 1
	// PromptEchoOn asks for visible input (username prompt).
	PromptEchoOn
	// ErrorMsg carries an error message from a module to the user.
	ErrorMsg
	// TextInfo carries an informational message from a module to the user.
	TextInfo
)

// ErrUnavailable is returned by Open when the binary was built without the
// "pam" build tag and no fake service was injected.
var ErrUnavailable = errors.New("pamsvc: PAM transport not compiled in (build with -tags pam)")

// Conversation answers prompts on behalf of the user. It is the injectable
// strategy for the PAM conversation callback: the harness uses a fixed
// non-interactive implementation, an interactive tool could wire a terminal.
type Conversation interface {
	// Respond handles one message. For prompt styles the returned string is
	// the user's answer; for info/error styles it is ignored.
	Respond(style Style, prompt string) (string, error)
}

// Service opens authentication sessions against a named PAM service.
type Service interface {
	// Open starts a session for user under the named service configuration.
	// The conversation supplies credentials when the stack asks for them.
	Open(service, user string, conv Conversation) (Session, error)
}

// Session is one open PAM transaction. Exactly one session is open at a time
// in this harness; every session must be closed on every exit path.
type Session interface {
	// Authenticate submits credentials through the conversation.
	Authenticate() error

	// AcctMgmt asks whether the authenticated account may be used now.
	// Lockout modules typically intervene here or in Authenticate.
	AcctMgmt() error

	// Close ends the transaction. last is the outcome of the preceding
	// phases; transports that report it to the stack may use it, others
	// ignore it. A Close error never replaces the business outcome.
	Close(last error) error
}

// FixedConversation answers secret prompts with a preset password and records
// info/error messages so tests can assert on module output (for example the
// lockout notice emitted once the rate limiter trips).
type FixedConversation struct {
	Password string

	mu  sync.Mutex
	log []string
}

// NewFixedConversation creates a conversation that always answers password.
func NewFixedConversation(password string) *FixedConversation {
	return &FixedConversation{Password: password}
}

// Respond implements Conversation.
func (c *FixedConversation) Respond(style Style, prompt string) (string, error) {
	switch style {
	case PromptEchoOff, PromptEchoOn:
		return c.Password, nil
	case ErrorMsg, TextInfo:
		c.mu.Lock()
		c.log = append(c.log, prompt)
		c.mu.Unlock()
		return "", nil
	default:
		return "", errors.New("pamsvc: unsupported conversation style")
	}
}

// Messages returns a copy of the info/error messages seen so far.
func (c *FixedConversation) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.log))
	copy(out, c.log)
	return out
}
