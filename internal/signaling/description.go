package signaling

import (
	"encoding/json"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

const (
	TypeOffer    = "offer"
	TypeAnswer   = "answer"
	TypePranswer = "pranswer"
)

// A Description is a session description together with its role in the
// offer/answer exchange. It is also the wire message:
//
//	{"type": "offer", "sdp": "v=0\r\n..."}
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Validate checks the type and that the SDP parses.
func (d Description) Validate() error {
	switch d.Type {
	case TypeOffer, TypeAnswer, TypePranswer:
	default:
		return errors.Wrapf(ErrProtocol, "unsupported description type %q", d.Type)
	}
	if d.SDP == "" {
		return errors.Wrap(ErrProtocol, "empty sdp")
	}
	var s sdp.SessionDescription
	if err := s.Unmarshal([]byte(d.SDP)); err != nil {
		return errors.Wrapf(ErrProtocol, "invalid sdp: %v", err)
	}
	return nil
}

// Both fields are pointers so that a missing field can be told apart from an
// empty one.
type wireMessage struct {
	Type *string `json:"type"`
	SDP  *string `json:"sdp"`
}

func (m wireMessage) description() (Description, error) {
	if m.Type == nil {
		return Description{}, errors.Wrap(ErrProtocol, "missing field 'type'")
	}
	if m.SDP == nil {
		return Description{}, errors.Wrap(ErrProtocol, "missing field 'sdp'")
	}
	d := Description{Type: *m.Type, SDP: *m.SDP}
	return d, d.Validate()
}

// ParseDescription decodes a single wire message.
func ParseDescription(data []byte) (Description, error) {
	var m wireMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return Description{}, errors.Wrap(ErrProtocol, err.Error())
	}
	return m.description()
}

func (d Description) Marshal() ([]byte, error) {
	return json.Marshal(d)
}
