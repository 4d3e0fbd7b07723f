package ingest

import "github.com/pkg/errors"

var (
	ErrBind          = errors.New("ingest: bind failed")
	ErrReceive       = errors.New("ingest: receive failed")
	ErrFrameTooLarge = errors.New("ingest: frame size exceeds slot capacity")
)

// kindError matches its sentinel with errors.Is and still unwraps to the
// underlying error.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string        { return e.kind.Error() + ": " + e.cause.Error() }
func (e *kindError) Is(target error) bool { return target == e.kind }
func (e *kindError) Unwrap() error        { return e.cause }
