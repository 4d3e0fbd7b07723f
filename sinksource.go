//////////////////////////////////////////////////////////////////////////////
//
// Source receives frames from a local producer and brokers session
// description signaling for the peer that displays them
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package sinksource

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/lanikai/sinksource/internal/framebuf"
	"github.com/lanikai/sinksource/internal/ingest"
	"github.com/lanikai/sinksource/internal/logging"
	"github.com/lanikai/sinksource/internal/peer"
	"github.com/lanikai/sinksource/internal/signaling"
)

var log = logging.DefaultLogger.WithTag("sinksource")

// A Frame is valid from AcquireFrame until the matching ReleaseFrame.
type Frame = framebuf.Frame

type Stats struct {
	Frames            framebuf.Stats
	Ingest            ingest.Stats
	Signaling         signaling.ResponderStats
	InitiatorAttempts uint64
}

// A Source runs the ingestion listener and the signaling loops in the
// background, and hands completed frames to a single consumer goroutine
// through AcquireFrame and ReleaseFrame.
type Source struct {
	cfg    Config
	frames *framebuf.Exchange
	ingest *ingest.Listener

	responder *signaling.Responder
	initiator *signaling.Initiator
	wsServer  *http.Server
	wsHandler *signaling.WebsocketHandler
	wsLn      net.Listener

	cancel context.CancelFunc
	done   chan struct{}
	err    error // result of the loop group, valid once done is closed

	shutdownOnce sync.Once
	shutdownErr  error
}

// Init binds every configured socket and starts the loops. If anything fails
// to bind, whatever was already bound is released before returning.
func Init(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(ErrStart, err.Error())
	}
	newPeer, err := peer.NewFactory(cfg.Signaling.Peer, peer.WebRTCConfig{
		ICEServers: cfg.Signaling.ICEServers,
	})
	if err != nil {
		return nil, errors.Wrap(ErrStart, err.Error())
	}
	role, _ := signaling.ParseRole(cfg.Signaling.Role)

	s := &Source{
		cfg:    cfg,
		frames: framebuf.NewExchange(cfg.Ingest.capacity(), framebuf.Options{DropUnconsumed: cfg.Ingest.DropUnconsumed}),
		done:   make(chan struct{}),
	}

	s.ingest, err = ingest.Listen(ingest.Config{
		Path:         cfg.Ingest.Path,
		FrameSize:    cfg.Ingest.FrameSize,
		PollInterval: cfg.Ingest.PollInterval,
	}, s.frames)
	if err != nil {
		return nil, err
	}

	sig := cfg.Signaling
	if sig.Address != "" {
		s.responder, err = signaling.Listen(signaling.ResponderConfig{
			Address:        sig.Address,
			MaxMessageSize: sig.MaxMessageSize,
			MaxConnections: sig.MaxConnections,
		}, newPeer)
		if err != nil {
			s.release()
			return nil, err
		}
	}
	if sig.WebsocketAddress != "" {
		s.wsLn, err = signaling.ListenTCP(sig.WebsocketAddress)
		if err != nil {
			s.release()
			return nil, err
		}
		s.wsHandler = signaling.NewWebsocketHandler(newPeer, sig.MaxMessageSize)
		s.wsServer = &http.Server{
			Handler:           signaling.NewWebsocketMux(s.wsHandler),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	if sig.RemoteAddress != "" {
		s.initiator = signaling.NewInitiator(signaling.InitiatorConfig{
			Address:        sig.RemoteAddress,
			Role:           role,
			RetryDelay:     sig.RetryDelay,
			MaxMessageSize: sig.MaxMessageSize,
			Redial:         sig.Redial,
		}, newPeer)
	}

	s.start()
	return s, nil
}

func (s *Source) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.ingest.Serve(ctx) })
	if s.responder != nil {
		g.Go(func() error { return s.responder.Serve(ctx) })
	}
	if s.wsServer != nil {
		// Upgraded connections outlive Close. Their exchanges end through the
		// request context, and the handler joins them.
		s.wsServer.BaseContext = func(net.Listener) context.Context { return ctx }
		g.Go(func() error {
			log.Info("Serving websocket signaling on %v", s.wsLn.Addr())
			if err := s.wsServer.Serve(s.wsLn); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			err := s.wsServer.Close()
			s.wsHandler.Close()
			return err
		})
	}
	if s.initiator != nil {
		g.Go(func() error { return s.initiator.Run(ctx) })
	}

	go func() {
		s.err = g.Wait()
		close(s.done)
	}()
}

// Shutdown stops every loop and waits up to JoinTimeout for them to return.
// On timeout it returns ErrJoinTimeout and leaves the frame slots and the
// socket path in place, since a loop may still be using them. Otherwise the
// exchange is closed and the socket path removed. Later calls return the
// first call's result.
func (s *Source) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown()
	})
	return s.shutdownErr
}

func (s *Source) shutdown() error {
	log.Info("Shutting down")
	s.cancel()

	var timeout <-chan time.Time
	if s.cfg.JoinTimeout > 0 {
		t := time.NewTimer(s.cfg.JoinTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-s.done:
	case <-timeout:
		log.Error("Loops still running after %v, skipping cleanup", s.cfg.JoinTimeout)
		return ErrJoinTimeout
	}

	err := s.release()
	if s.err != nil {
		return s.err
	}
	return err
}

// release closes everything Init bound, returning the first error.
func (s *Source) release() error {
	s.frames.Close()
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	keep(s.ingest.Close())
	if s.responder != nil {
		keep(s.responder.Close())
	}
	return first
}

// Done is closed once every loop has returned.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// AcquireFrame marks the consumer busy and returns the newest unconsumed
// frame. It returns false if there is none or the source is shut down.
func (s *Source) AcquireFrame() (Frame, bool) {
	return s.frames.Acquire()
}

// ReleaseFrame ends the use of the frame returned by AcquireFrame.
func (s *Source) ReleaseFrame() {
	s.frames.Release()
}

// FrameReady reports whether a new frame is waiting.
func (s *Source) FrameReady() bool {
	return s.frames.Ready()
}

// ConsumerBusy reports whether the consumer holds a frame.
func (s *Source) ConsumerBusy() bool {
	return s.frames.Busy()
}

// IngestPath returns the socket path producers connect to.
func (s *Source) IngestPath() string {
	return s.ingest.Addr()
}

// SignalingAddr returns the responder's address, or nil if it is disabled.
func (s *Source) SignalingAddr() net.Addr {
	if s.responder == nil {
		return nil
	}
	return s.responder.Addr()
}

// WebsocketAddr returns the websocket listener's address, or nil if it is
// disabled.
func (s *Source) WebsocketAddr() net.Addr {
	if s.wsLn == nil {
		return nil
	}
	return s.wsLn.Addr()
}

func (s *Source) Stats() Stats {
	st := Stats{
		Frames: s.frames.Stats(),
		Ingest: s.ingest.Stats(),
	}
	if s.responder != nil {
		st.Signaling = s.responder.Stats()
	}
	if s.initiator != nil {
		st.InitiatorAttempts = s.initiator.Attempts()
	}
	return st
}
