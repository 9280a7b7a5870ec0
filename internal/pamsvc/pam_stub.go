//go:build !pam

package pamsvc

// LibPAM is a stub when the binary is built without the "pam" tag.
// Open always fails with ErrUnavailable; use Fake to run without libpam.
type LibPAM struct{}

// NewLibPAM returns the stub service.
func NewLibPAM() *LibPAM {
	return &LibPAM{}
}

// Open implements Service.
func (*LibPAM) Open(service, user string, conv Conversation) (Session, error) {
	return nil, ErrUnavailable
}
