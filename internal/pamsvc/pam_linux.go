//go:build pam

package pamsvc

import (
	"fmt"

	"github.com/msteinert/pam/v2"
)

// LibPAM drives transactions through the system libpam stack. It needs cgo,
// libpam headers, and usually elevated privileges, so it sits behind the
// "pam" build tag the same way other projects gate their PAM integration.
type LibPAM struct{}

// NewLibPAM returns the libpam-backed service.
func NewLibPAM() *LibPAM {
	return &LibPAM{}
}

// Open starts a PAM transaction for user under the named service.
func (*LibPAM) Open(service, user string, conv Conversation) (Session, error) {
	tx, err := pam.StartFunc(service, user, func(style pam.Style, msg string) (string, error) {
		return conv.Respond(fromPAMStyle(style), msg)
	})
	if err != nil {
		return nil, fmt.Errorf("pam start %q for %q: %w", service, user, err)
	}
	return &libpamSession{tx: tx}, nil
}

type libpamSession struct {
	tx *pam.Transaction
}

func (s *libpamSession) Authenticate() error {
	if err := s.tx.Authenticate(0); err != nil {
		return fmt.Errorf("pam authenticate: %w", err)
	}
	return nil
}

func (s *libpamSession) AcctMgmt() error {
	if err := s.tx.AcctMgmt(0); err != nil {
		return fmt.Errorf("pam acct_mgmt: %w", err)
	}
	return nil
}

// Close ends the transaction. libpam's pam_end derives its status from the
// transaction itself, so last is not forwarded.
func (s *libpamSession) Close(last error) error {
	if err := s.tx.End(); err != nil {
		return fmt.Errorf("pam end: %w", err)
	}
	return nil
}

func fromPAMStyle(style pam.Style) Style {
	switch style {
	case pam.PromptEchoOff:
		return PromptEchoOff
	case pam.PromptEchoOn:
		return PromptEchoOn
	case pam.ErrorMsg:
		return ErrorMsg
	default:
		return TextInfo
	}
}
