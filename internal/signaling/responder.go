package signaling

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
)

const DefaultResponderAddress = "127.0.0.1:5567"

// Pause after a failed accept, so a persistent failure does not spin.
const acceptRetryDelay = 10 * time.Millisecond

type ResponderConfig struct {
	// TCP address to listen on.
	Address string

	// Upper bound on a single incoming message.
	MaxMessageSize int

	// Connections served at once. Zero means unlimited.
	MaxConnections int
}

type ResponderStats struct {
	Connections    uint64
	ProtocolErrors uint64
	Failures       uint64
}

// A Responder accepts signaling connections and answers the offers it
// receives, one Peer per connection.
type Responder struct {
	cfg     ResponderConfig
	newPeer PeerFactory
	ln      net.Listener

	wg        sync.WaitGroup
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	connections    atomic.Uint64
	protocolErrors atomic.Uint64
	failures       atomic.Uint64
}

// Listen binds the responder's TCP address.
func Listen(cfg ResponderConfig, newPeer PeerFactory) (*Responder, error) {
	if cfg.Address == "" {
		cfg.Address = DefaultResponderAddress
	}
	ln, err := ListenTCP(cfg.Address)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}
	return &Responder{cfg: cfg, newPeer: newPeer, ln: ln}, nil
}

// ListenTCP binds a TCP address for signaling. Failures match ErrBind.
func ListenTCP(address string) (net.Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, &kindError{ErrBind, err}
	}
	return ln, nil
}

func (r *Responder) Addr() net.Addr {
	return r.ln.Addr()
}

func (r *Responder) Stats() ResponderStats {
	return ResponderStats{
		Connections:    r.connections.Load(),
		ProtocolErrors: r.protocolErrors.Load(),
		Failures:       r.failures.Load(),
	}
}

// Serve accepts connections until ctx is cancelled or Close is called, then
// waits for the connections in flight to finish. Each connection runs in its
// own goroutine; its failures are logged and never stop the responder.
func (r *Responder) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()
	defer r.wg.Wait()

	log.Info("Answering offers on %v", r.ln.Addr())
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if r.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("Failed to accept signaling connection: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptRetryDelay):
			}
			continue
		}

		r.connections.Add(1)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.serveConn(ctx, conn)
		}()
	}
}

func (r *Responder) serveConn(ctx context.Context, conn net.Conn) {
	err := runExchange(ctx, newStreamConn(conn, r.cfg.MaxMessageSize), r.newPeer, false)
	switch {
	case err == nil:
	case errors.Is(err, ErrProtocol):
		r.protocolErrors.Add(1)
		log.Warn("Closing signaling connection from %v: %v", conn.RemoteAddr(), err)
	default:
		r.failures.Add(1)
		log.Warn("Signaling with %v failed: %v", conn.RemoteAddr(), err)
	}
}

// Close stops accepting. Connections in flight are closed through the
// context passed to Serve.
func (r *Responder) Close() error {
	r.closeOnce.Do(func() {
		r.closing.Store(true)
		r.closeErr = r.ln.Close()
	})
	return r.closeErr
}
