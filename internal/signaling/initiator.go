package signaling

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// DefaultRetryDelay is the fixed pause between connection attempts.
const DefaultRetryDelay = 5 * time.Second

// Role selects which side of the offer/answer exchange the initiator plays
// once connected.
type Role string

const (
	// Wait for the remote offer and answer it.
	RoleAnswer Role = "answer"

	// Send an offer first and apply the remote answer.
	RoleOffer Role = "offer"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleAnswer:
		return RoleAnswer, nil
	case RoleOffer:
		return RoleOffer, nil
	}
	return "", errors.Errorf("signaling: unknown role %q", s)
}

type InitiatorConfig struct {
	// TCP address of the remote signaling peer.
	Address string

	Role Role

	// Pause between failed connection attempts. There is no limit on the
	// number of attempts and no backoff.
	RetryDelay time.Duration

	// Bound on a single connection attempt. Zero leaves it to the OS.
	DialTimeout time.Duration

	MaxMessageSize int

	// Go back to dialing after an exchange ends instead of returning.
	Redial bool
}

// An Initiator dials a remote signaling peer, retrying forever, and then
// takes part in the same offer/answer exchange as a Responder connection.
type Initiator struct {
	cfg     InitiatorConfig
	newPeer PeerFactory

	attempts atomic.Uint64
}

func NewInitiator(cfg InitiatorConfig, newPeer PeerFactory) *Initiator {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Role == "" {
		cfg.Role = RoleAnswer
	}
	return &Initiator{cfg: cfg, newPeer: newPeer}
}

// Attempts returns the number of connection attempts made so far.
func (in *Initiator) Attempts() uint64 {
	return in.attempts.Load()
}

// Run connects and runs the exchange, blocking until it ends (or, with
// Redial, until ctx is cancelled). Exchange failures are logged, not
// returned: the remote peer's availability has no bearing on this process.
func (in *Initiator) Run(ctx context.Context) error {
	for {
		conn, err := in.connect(ctx)
		if err != nil {
			return nil
		}

		err = runExchange(ctx, newStreamConn(conn, in.cfg.MaxMessageSize), in.newPeer, in.cfg.Role == RoleOffer)
		if err != nil {
			log.Warn("Signaling with %s ended: %v", in.cfg.Address, err)
		}
		if !in.cfg.Redial || ctx.Err() != nil {
			return nil
		}
	}
}

// connect dials until it succeeds or ctx is cancelled.
func (in *Initiator) connect(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: in.cfg.DialTimeout}
	for {
		in.attempts.Add(1)
		conn, err := d.DialContext(ctx, "tcp", in.cfg.Address)
		if err == nil {
			log.Info("Connected to signaling peer %s", in.cfg.Address)
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("%v, retrying in %v", &kindError{ErrConnect, err}, in.cfg.RetryDelay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(in.cfg.RetryDelay):
		}
	}
}
