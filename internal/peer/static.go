package peer

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
	"github.com/pion/randutil"
	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"

	"github.com/lanikai/sinksource/internal/signaling"
)

const (
	sdpUsername = "sinksource"

	// ICE credential alphabet, RFC 8839 ice-char.
	iceChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+/"

	offerPayloadType = 96
)

// Static negotiates descriptions without running ICE or DTLS. It accepts the
// codecs it recognizes from a remote offer and produces an answer that a real
// endpoint would accept, which is enough to exercise signaling against
// browsers and tests when no media is meant to flow.
type Static struct {
	mu          sync.Mutex
	fingerprint string

	remote     *sdp.SessionDescription
	remoteType string
	local      *signaling.Description
}

func NewStaticFactory() signaling.PeerFactory {
	return func() (signaling.Peer, error) {
		return NewStatic()
	}
}

func NewStatic() (*Static, error) {
	cert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return nil, errors.Wrap(err, "peer: generate certificate")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, errors.Wrap(err, "peer: parse certificate")
	}
	fp, err := fingerprint.Fingerprint(leaf, crypto.SHA256)
	if err != nil {
		return nil, errors.Wrap(err, "peer: certificate fingerprint")
	}
	return &Static{fingerprint: strings.ToUpper(fp)}, nil
}

func (p *Static) SetRemoteDescription(d signaling.Description) error {
	var s sdp.SessionDescription
	if err := s.Unmarshal([]byte(d.SDP)); err != nil {
		return errors.Wrap(err, "peer: parse remote description")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &s
	p.remoteType = d.Type
	return nil
}

// SetLocalDescription answers the remote offer if there is one, and creates
// a receive-only video offer otherwise.
func (p *Static) SetLocalDescription() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s *sdp.SessionDescription
	var typ string
	var err error
	if p.remote != nil && p.remoteType == signaling.TypeOffer {
		s, err = p.createAnswer()
		typ = signaling.TypeAnswer
	} else {
		s, err = p.createOffer()
		typ = signaling.TypeOffer
	}
	if err != nil {
		return err
	}

	text, err := s.Marshal()
	if err != nil {
		return errors.Wrap(err, "peer: marshal local description")
	}
	p.local = &signaling.Description{Type: typ, SDP: string(text)}
	return nil
}

func (p *Static) LocalDescription() (signaling.Description, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil {
		return signaling.Description{}, errors.New("peer: no local description")
	}
	return *p.local, nil
}

func (p *Static) Close() error {
	return nil
}

func (p *Static) newSession() (*sdp.SessionDescription, error) {
	id, err := sdp.NewSessionID()
	if err != nil {
		return nil, err
	}
	return &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       sdpUsername,
			SessionID:      id,
			SessionVersion: 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName:      "-",
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
	}, nil
}

// newMedia fills in the transport attributes shared by every media section.
func (p *Static) newMedia(kind, mid, setup, direction string) (*sdp.MediaDescription, error) {
	// 24 and 128 bits of randomness for ufrag and pwd, respectively.
	ufrag, err := randutil.GenerateCryptoRandomString(4, iceChars)
	if err != nil {
		return nil, err
	}
	pwd, err := randutil.GenerateCryptoRandomString(22, iceChars)
	if err != nil {
		return nil, err
	}

	m := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  kind,
			Port:   sdp.RangedPort{Value: 9},
			Protos: []string{"UDP", "TLS", "RTP", "SAVPF"},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
	}
	m.WithValueAttribute("mid", mid).
		WithValueAttribute("rtcp", "9 IN IP4 0.0.0.0").
		WithICECredentials(ufrag, pwd).
		WithValueAttribute("ice-options", "trickle").
		WithFingerprint("sha-256", p.fingerprint).
		WithValueAttribute("setup", setup).
		WithPropertyAttribute(direction).
		WithPropertyAttribute("rtcp-mux")
	return m, nil
}

func (p *Static) createOffer() (*sdp.SessionDescription, error) {
	s, err := p.newSession()
	if err != nil {
		return nil, err
	}
	m, err := p.newMedia("video", "0", "actpass", "recvonly")
	if err != nil {
		return nil, err
	}
	pt := strconv.Itoa(offerPayloadType)
	m.MediaName.Formats = []string{pt}
	m.WithValueAttribute("rtpmap", pt+" H264/90000").
		WithValueAttribute("rtcp-fb", pt+" nack").
		WithValueAttribute("fmtp", pt+" level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f")

	s.WithValueAttribute("group", "BUNDLE 0")
	s.MediaDescriptions = append(s.MediaDescriptions, m)
	return s, nil
}

// Per payload type attributes collected from a remote media section.
type payloadType struct {
	codec string
	fmtp  string
	nack  bool
}

func (p *Static) createAnswer() (*sdp.SessionDescription, error) {
	s, err := p.newSession()
	if err != nil {
		return nil, err
	}
	if group, ok := p.remote.Attribute("group"); ok {
		s.WithValueAttribute("group", group)
	}

	for _, remote := range p.remote.MediaDescriptions {
		mid, _ := remote.Attribute("mid")
		m, err := p.newMedia(remote.MediaName.Media, mid, "active", answerDirection(remote))
		if err != nil {
			return nil, err
		}

		pt, attrs, ok := selectPayloadType(remote)
		if !ok {
			// Reject the section, keeping one format so the m= line stays valid.
			m.MediaName.Port = sdp.RangedPort{Value: 0}
			m.MediaName.Formats = []string{"0"}
			if len(remote.MediaName.Formats) > 0 {
				m.MediaName.Formats = remote.MediaName.Formats[:1]
			}
			s.MediaDescriptions = append(s.MediaDescriptions, m)
			continue
		}

		m.MediaName.Formats = []string{pt}
		m.WithValueAttribute("rtpmap", pt+" "+attrs.codec)
		if attrs.nack {
			m.WithValueAttribute("rtcp-fb", pt+" nack")
		}
		if attrs.fmtp != "" {
			m.WithValueAttribute("fmtp", pt+" "+attrs.fmtp)
		}
		s.MediaDescriptions = append(s.MediaDescriptions, m)
	}
	return s, nil
}

// selectPayloadType picks the lowest-numbered payload type whose codec is
// supported. H.264 must use packetization mode 1.
func selectPayloadType(m *sdp.MediaDescription) (string, payloadType, bool) {
	types := make(map[int]*payloadType)
	get := func(pt int) *payloadType {
		if types[pt] == nil {
			types[pt] = &payloadType{}
		}
		return types[pt]
	}

	for _, attr := range m.Attributes {
		switch attr.Key {
		case "rtpmap", "fmtp", "rtcp-fb":
		default:
			continue
		}
		var pt int
		var text string
		if _, err := fmt.Sscanf(attr.Value, "%d %s", &pt, &text); err != nil {
			log.Debug("Ignoring malformed %s: %q", attr.Key, attr.Value)
			continue
		}
		switch attr.Key {
		case "rtpmap":
			get(pt).codec = text
		case "fmtp":
			get(pt).fmtp = text
		case "rtcp-fb":
			if text == "nack" && !strings.Contains(attr.Value, "nack pli") {
				get(pt).nack = true
			}
		}
	}

	var candidates []int
	for pt, a := range types {
		if supported(a) {
			candidates = append(candidates, pt)
		}
	}
	if len(candidates) == 0 {
		return "", payloadType{}, false
	}
	sort.Ints(candidates)
	pt := candidates[0]
	return strconv.Itoa(pt), *types[pt], true
}

func supported(a *payloadType) bool {
	switch strings.ToUpper(a.codec) {
	case "H264/90000":
		return strings.Contains(a.fmtp, "packetization-mode=1")
	case "VP8/90000", "VP9/90000", "AV1/90000":
		return true
	case "OPUS/48000/2", "PCMU/8000":
		return true
	}
	return false
}

func answerDirection(m *sdp.MediaDescription) string {
	for _, attr := range m.Attributes {
		switch attr.Key {
		case "sendonly":
			return "recvonly"
		case "recvonly":
			return "sendonly"
		case "inactive":
			return "inactive"
		case "sendrecv":
			return "sendrecv"
		}
	}
	return "sendrecv"
}
