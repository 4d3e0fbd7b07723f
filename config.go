//////////////////////////////////////////////////////////////////////////////
//
// Config contains configuration data for Source
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package sinksource

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lanikai/sinksource/internal/ingest"
	"github.com/lanikai/sinksource/internal/peer"
	"github.com/lanikai/sinksource/internal/signaling"
)

const (
	DefaultSocketPath  = "/tmp/sinksource.sock"
	DefaultFrameSize   = 66666
	DefaultJoinTimeout = 5 * time.Second
)

type Config struct {
	Ingest    IngestConfig    `yaml:"ingest"`
	Signaling SignalingConfig `yaml:"signaling"`

	// How long Shutdown waits for the loops to return. Zero waits forever.
	JoinTimeout time.Duration `yaml:"join_timeout"`
}

type IngestConfig struct {
	Path      string `yaml:"path"`
	FrameSize int    `yaml:"frame_size"`

	// Capacity of each of the two frame slots. Zero means FrameSize.
	BufferCapacity int `yaml:"buffer_capacity"`

	PollInterval time.Duration `yaml:"poll_interval"`

	// Overwrite a frame the consumer has not picked up yet instead of
	// stalling the producer.
	DropUnconsumed bool `yaml:"drop_unconsumed"`
}

type SignalingConfig struct {
	// TCP address the responder listens on. Empty disables the responder.
	Address string `yaml:"address"`

	// HTTP address serving websocket signaling at /ws. Empty disables it.
	WebsocketAddress string `yaml:"websocket_address"`

	// TCP address the initiator dials. Empty disables the initiator.
	RemoteAddress string        `yaml:"remote_address"`
	Role          string        `yaml:"role"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	Redial        bool          `yaml:"redial"`

	MaxMessageSize int `yaml:"max_message_size"`
	MaxConnections int `yaml:"max_connections"`

	// "webrtc" or "static".
	Peer       string   `yaml:"peer"`
	ICEServers []string `yaml:"ice_servers"`
}

func DefaultConfig() Config {
	return Config{
		Ingest: IngestConfig{
			Path:         DefaultSocketPath,
			FrameSize:    DefaultFrameSize,
			PollInterval: ingest.DefaultPollInterval,
		},
		Signaling: SignalingConfig{
			Address:        signaling.DefaultResponderAddress,
			Role:           string(signaling.RoleAnswer),
			RetryDelay:     signaling.DefaultRetryDelay,
			MaxMessageSize: signaling.DefaultMaxMessageSize,
			Peer:           "webrtc",
		},
		JoinTimeout: DefaultJoinTimeout,
	}
}

// LoadConfig reads a YAML (or JSON) file on top of DefaultConfig. Durations
// are written as Go duration strings, e.g. "5s".
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	in := c.Ingest
	if in.Path == "" {
		return errors.New("config: ingest.path is empty")
	}
	if in.FrameSize <= 0 {
		return errors.Errorf("config: invalid ingest.frame_size %d", in.FrameSize)
	}
	if in.BufferCapacity != 0 && in.BufferCapacity < in.FrameSize {
		return errors.Wrapf(ingest.ErrFrameTooLarge, "config: frame size %d exceeds buffer capacity %d",
			in.FrameSize, in.BufferCapacity)
	}
	if in.PollInterval < 0 {
		return errors.New("config: negative ingest.poll_interval")
	}

	sig := c.Signaling
	if _, err := signaling.ParseRole(sig.Role); err != nil {
		return errors.Wrap(err, "config")
	}
	if _, err := peer.NewFactory(sig.Peer, peer.WebRTCConfig{}); err != nil {
		return errors.Wrap(err, "config")
	}
	if sig.RetryDelay < 0 || sig.MaxMessageSize < 0 || sig.MaxConnections < 0 {
		return errors.New("config: negative signaling limit")
	}
	if c.JoinTimeout < 0 {
		return errors.New("config: negative join_timeout")
	}
	return nil
}

func (c IngestConfig) capacity() int {
	if c.BufferCapacity > 0 {
		return c.BufferCapacity
	}
	return c.FrameSize
}
