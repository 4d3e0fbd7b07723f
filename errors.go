package sinksource

import (
	"github.com/pkg/errors"

	"github.com/lanikai/sinksource/internal/framebuf"
	"github.com/lanikai/sinksource/internal/ingest"
	"github.com/lanikai/sinksource/internal/signaling"
)

var (
	ErrStart       = errors.New("sinksource: failed to start")
	ErrJoinTimeout = errors.New("sinksource: loops did not stop in time")
)

// Errors from the internal packages, for callers matching with errors.Is.
var (
	ErrIngestBind     = ingest.ErrBind
	ErrFrameTooLarge  = ingest.ErrFrameTooLarge
	ErrSignalingBind  = signaling.ErrBind
	ErrExchangeClosed = framebuf.ErrClosed
)
