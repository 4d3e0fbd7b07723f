package signaling

// A Peer is the local end of the media session being negotiated. The
// signaling code only moves descriptions in and out of it; it never looks
// inside the SDP beyond a syntax check.
type Peer interface {
	// SetRemoteDescription applies a description received from the remote
	// peer.
	SetRemoteDescription(d Description) error

	// SetLocalDescription generates the local description: an answer if a
	// remote offer has been applied, an offer otherwise.
	SetLocalDescription() error

	// LocalDescription returns the description generated by
	// SetLocalDescription.
	LocalDescription() (Description, error)

	Close() error
}

// A PeerFactory creates a fresh Peer for each signaling connection.
type PeerFactory func() (Peer, error)
