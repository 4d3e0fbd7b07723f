package signaling

import "github.com/pkg/errors"

var (
	ErrBind        = errors.New("signaling: bind failed")
	ErrConnect     = errors.New("signaling: connect failed")
	ErrProtocol    = errors.New("signaling: protocol violation")
	ErrNegotiation = errors.New("signaling: negotiation failed")
)

// kindError matches its sentinel with errors.Is and still unwraps to the
// underlying error, so errors.As reaches e.g. a *net.OpError.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string        { return e.kind.Error() + ": " + e.cause.Error() }
func (e *kindError) Is(target error) bool { return target == e.kind }
func (e *kindError) Unwrap() error        { return e.cause }
