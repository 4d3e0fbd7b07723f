// Package ingest receives fixed-size frames from a local producer over a
// Unix-domain stream socket and publishes them through a framebuf.Exchange.
//
// There is no in-band framing. A frame is complete when exactly FrameSize
// bytes have been received, so producer and consumer must be configured with
// the same frame size.
package ingest

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/sinksource/internal/framebuf"
	"github.com/lanikai/sinksource/internal/logging"
)

var log = logging.DefaultLogger.WithTag("ingest")

const DefaultPollInterval = time.Millisecond

type Config struct {
	// Filesystem path of the listening socket.
	Path string

	// Number of bytes that make up one frame.
	FrameSize int

	// Granularity of the accept loop and of the backpressure wait. Defaults
	// to DefaultPollInterval.
	PollInterval time.Duration
}

type Stats struct {
	Connections   uint64
	Bytes         uint64
	Frames        uint64
	ReceiveErrors uint64
}

// A Listener accepts one producer connection at a time.
type Listener struct {
	cfg    Config
	frames *framebuf.Exchange
	ln     *net.UnixListener

	mu     sync.Mutex
	conn   *net.UnixConn // active producer, nil between connections
	closed bool

	closeOnce sync.Once
	closeErr  error

	connections   atomic.Uint64
	bytes         atomic.Uint64
	frameCount    atomic.Uint64
	receiveErrors atomic.Uint64
}

// Listen binds the socket at cfg.Path, replacing a stale socket left behind by
// an earlier run. Completed frames are published to frames, whose slots must
// be able to hold cfg.FrameSize bytes.
func Listen(cfg Config, frames *framebuf.Exchange) (*Listener, error) {
	if cfg.FrameSize <= 0 {
		return nil, errors.Errorf("ingest: invalid frame size %d", cfg.FrameSize)
	}
	if capacity := frames.WriteSlot().Cap(); cfg.FrameSize > capacity {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d > %d", cfg.FrameSize, capacity)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if err := removeStale(cfg.Path); err != nil {
		return nil, &kindError{ErrBind, err}
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: cfg.Path, Net: "unix"})
	if err != nil {
		return nil, &kindError{ErrBind, err}
	}
	// Close removes the path itself.
	ln.SetUnlinkOnClose(false)

	return &Listener{cfg: cfg, frames: frames, ln: ln}, nil
}

// removeStale deletes a leftover socket at path. Anything other than a socket
// is left alone and reported.
func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return errors.Errorf("%s exists and is not a socket", path)
	}
	log.Debug("Removing stale socket %s", path)
	return os.Remove(path)
}

func (l *Listener) Addr() string {
	return l.cfg.Path
}

func (l *Listener) Stats() Stats {
	return Stats{
		Connections:   l.connections.Load(),
		Bytes:         l.bytes.Load(),
		Frames:        l.frameCount.Load(),
		ReceiveErrors: l.receiveErrors.Load(),
	}
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Accept attempts time out after PollInterval so that cancellation is
// observed within one interval. Connection-level failures are logged and the
// loop goes back to accepting.
func (l *Listener) Serve(ctx context.Context) error {
	log.Info("Listening for frames on %s (%d bytes per frame)", l.cfg.Path, l.cfg.FrameSize)

	for ctx.Err() == nil {
		if err := l.ln.SetDeadline(time.Now().Add(l.cfg.PollInterval)); err != nil {
			if l.isClosed() {
				return nil
			}
			return errors.Wrap(err, "ingest: set accept deadline")
		}
		conn, err := l.ln.AcceptUnix()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if l.isClosed() {
				return nil
			}
			log.Warn("Failed to accept connection: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(l.cfg.PollInterval):
			}
			continue
		}
		if err := l.serveConn(ctx, conn); errors.Is(err, framebuf.ErrClosed) {
			log.Info("Frame exchange closed, no longer accepting producers")
			return nil
		}
	}
	return nil
}

// serveConn receives frames until the producer disconnects. It returns
// framebuf.ErrClosed if the exchange was closed under it, and nil otherwise.
func (l *Listener) serveConn(ctx context.Context, conn *net.UnixConn) error {
	if !l.track(conn) {
		conn.Close()
		return nil
	}
	defer l.untrack(conn)

	// Reads block; a past deadline makes a pending read return on shutdown.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	l.connections.Add(1)
	if cred, ok := peerCredentials(conn); ok {
		log.Info("Producer connected (%s)", cred)
	} else {
		log.Info("Producer connected")
	}

	for {
		slot := l.frames.WriteSlot()

		// Never read past the current frame. Bytes of the next frame stay
		// queued in the socket, so the slot cannot overflow.
		n, err := conn.Read(slot.Free()[:l.cfg.FrameSize-slot.Len()])
		if n > 0 {
			slot.Advance(n)
			l.bytes.Add(uint64(n))
			if slot.Len() == l.cfg.FrameSize {
				if perr := l.frames.Publish(ctx, l.cfg.PollInterval); perr != nil {
					log.Debug("Frame not published: %v", perr)
					slot.Reset()
					if errors.Is(perr, framebuf.ErrClosed) {
						return perr
					}
					return nil
				}
				l.frameCount.Add(1)
				log.Trace(5, "Published frame %d", l.frames.Stats().Published)
			}
		}
		if err == nil {
			continue
		}

		switch {
		case err == io.EOF:
			log.Info("Producer disconnected")
		case ctx.Err() != nil || l.isClosed():
			log.Debug("Producer connection closed for shutdown")
		default:
			l.receiveErrors.Add(1)
			log.Warn("%v", &kindError{ErrReceive, err})
		}
		// A partial frame cannot be completed by a different connection.
		if partial := l.frames.WriteSlot(); partial.Len() > 0 {
			log.Debug("Discarding %d bytes of incomplete frame", partial.Len())
			partial.Reset()
		}
		return nil
	}
}

func (l *Listener) track(conn *net.UnixConn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conn = conn
	return true
}

func (l *Listener) untrack(conn *net.UnixConn) {
	l.mu.Lock()
	l.conn = nil
	l.mu.Unlock()
	conn.Close()
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close closes the active connection and the listening socket, and removes
// the socket path. Safe to call more than once; only the first call acts.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		if l.conn != nil {
			l.conn.Close()
		}
		l.mu.Unlock()

		err := l.ln.Close()
		if rerr := os.Remove(l.cfg.Path); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
		l.closeErr = err
	})
	return l.closeErr
}
