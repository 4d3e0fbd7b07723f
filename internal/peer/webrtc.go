// Package peer provides the peer connections that signaling negotiates on
// behalf of: a full WebRTC stack (WebRTC) and an offline answerer (Static).
package peer

import (
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/lanikai/sinksource/internal/logging"
	"github.com/lanikai/sinksource/internal/signaling"
)

var log = logging.DefaultLogger.WithTag("peer")

// DefaultGatherTimeout bounds ICE candidate gathering before a local
// description is handed out.
const DefaultGatherTimeout = 5 * time.Second

type WebRTCConfig struct {
	// STUN/TURN server URLs, e.g. "stun:stun.l.google.com:19302".
	ICEServers []string

	GatherTimeout time.Duration
}

// WebRTC wraps a pion PeerConnection. Candidates are gathered in full before
// LocalDescription returns (no trickle ICE), so a single offer/answer round
// trip is all the signaling the session needs.
type WebRTC struct {
	pc            *webrtc.PeerConnection
	gatherTimeout time.Duration
}

func NewWebRTCFactory(cfg WebRTCConfig) signaling.PeerFactory {
	return func() (signaling.Peer, error) {
		return NewWebRTC(cfg)
	}
}

func NewWebRTC(cfg WebRTCConfig) (*WebRTC, error) {
	var conf webrtc.Configuration
	if len(cfg.ICEServers) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultGatherTimeout
	}

	pc, err := webrtc.NewPeerConnection(conf)
	if err != nil {
		return nil, errors.Wrap(err, "peer: create peer connection")
	}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug("Peer connection state: %s", s)
	})
	return &WebRTC{pc: pc, gatherTimeout: cfg.GatherTimeout}, nil
}

func (w *WebRTC) SetRemoteDescription(d signaling.Description) error {
	typ := webrtc.NewSDPType(d.Type)
	if typ == webrtc.SDPTypeUnknown {
		return errors.Errorf("peer: unknown description type %q", d.Type)
	}
	return w.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: d.SDP})
}

// SetLocalDescription creates an answer when a remote offer is pending and a
// receive-only video offer otherwise, then waits for candidate gathering.
func (w *WebRTC) SetLocalDescription() error {
	var desc webrtc.SessionDescription
	var err error
	if w.pc.SignalingState() == webrtc.SignalingStateHaveRemoteOffer {
		desc, err = w.pc.CreateAnswer(nil)
	} else {
		if len(w.pc.GetTransceivers()) == 0 {
			_, err = w.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			})
			if err != nil {
				return errors.Wrap(err, "peer: add video transceiver")
			}
		}
		desc, err = w.pc.CreateOffer(nil)
	}
	if err != nil {
		return err
	}

	gathered := webrtc.GatheringCompletePromise(w.pc)
	if err := w.pc.SetLocalDescription(desc); err != nil {
		return err
	}
	select {
	case <-gathered:
	case <-time.After(w.gatherTimeout):
		log.Warn("ICE gathering incomplete after %v, sending the candidates found so far", w.gatherTimeout)
	}
	return nil
}

func (w *WebRTC) LocalDescription() (signaling.Description, error) {
	desc := w.pc.LocalDescription()
	if desc == nil {
		return signaling.Description{}, errors.New("peer: no local description")
	}
	return signaling.Description{Type: desc.Type.String(), SDP: desc.SDP}, nil
}

func (w *WebRTC) Close() error {
	return w.pc.Close()
}

// NewFactory returns the factory for a peer kind: "webrtc" or "static".
func NewFactory(kind string, cfg WebRTCConfig) (signaling.PeerFactory, error) {
	switch strings.ToLower(kind) {
	case "", "webrtc":
		return NewWebRTCFactory(cfg), nil
	case "static":
		return NewStaticFactory(), nil
	}
	return nil, errors.Errorf("peer: unknown peer kind %q", kind)
}
