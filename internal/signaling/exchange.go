// Package signaling exchanges session descriptions with a remote peer so that
// a peer-to-peer media session can be negotiated. The wire format is a JSON
// object with "type" and "sdp" fields, sent over TCP (Responder, Initiator)
// or a websocket (WebsocketHandler).
package signaling

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lanikai/sinksource/internal/logging"
)

var log = logging.DefaultLogger.WithTag("signaling")

// runExchange owns mc for the rest of its life. It creates one Peer for the
// connection, answers every offer it receives, applies every answer, and
// returns when the remote end disconnects or something fails. The peer and
// the connection are released exactly once on every path. If offerFirst is
// set, a local offer is generated and sent before reading.
//
// A clean disconnect returns nil.
func runExchange(ctx context.Context, mc messageConn, newPeer PeerFactory, offerFirst bool) error {
	id := uuid.NewString()[:8]
	defer mc.Close()

	// Unblock a pending read on shutdown.
	stop := context.AfterFunc(ctx, func() { mc.Close() })
	defer stop()

	peer, err := newPeer()
	if err != nil {
		return errors.Wrap(err, "signaling: create peer")
	}
	defer func() {
		if err := peer.Close(); err != nil {
			log.Debug("[%s] Closing peer: %v", id, err)
		}
	}()

	log.Info("[%s] Signaling with %v", id, mc.RemoteAddr())

	if offerFirst {
		offer, err := generateLocal(peer)
		if err != nil {
			return err
		}
		if err := mc.WriteDescription(offer); err != nil {
			return errors.Wrap(err, "signaling: send offer")
		}
		log.Debug("[%s] Sent %s", id, offer.Type)
	}

	for {
		remote, err := mc.ReadDescription()
		if err == io.EOF {
			log.Info("[%s] Remote peer disconnected", id)
			return nil
		} else if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Debug("[%s] Received %s (%d bytes of sdp)", id, remote.Type, len(remote.SDP))

		reply, err := negotiate(peer, remote)
		if err != nil {
			return err
		}
		if reply == nil {
			continue
		}
		if err := mc.WriteDescription(*reply); err != nil {
			return errors.Wrap(err, "signaling: send "+reply.Type)
		}
		log.Debug("[%s] Sent %s", id, reply.Type)
	}
}

// negotiate applies a remote description. For an offer it returns the
// generated answer; for an answer there is nothing to send back.
func negotiate(peer Peer, remote Description) (*Description, error) {
	if err := peer.SetRemoteDescription(remote); err != nil {
		return nil, errors.Wrapf(ErrNegotiation, "apply remote %s: %v", remote.Type, err)
	}
	if remote.Type != TypeOffer {
		return nil, nil
	}
	answer, err := generateLocal(peer)
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

func generateLocal(peer Peer) (Description, error) {
	if err := peer.SetLocalDescription(); err != nil {
		return Description{}, errors.Wrapf(ErrNegotiation, "generate local description: %v", err)
	}
	local, err := peer.LocalDescription()
	if err != nil {
		return Description{}, errors.Wrapf(ErrNegotiation, "read local description: %v", err)
	}
	return local, nil
}
