package sinksource

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFrameSize = 256

const testOffer = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=sendonly\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

type message struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Ingest.Path = filepath.Join(t.TempDir(), "frames.sock")
	cfg.Ingest.FrameSize = testFrameSize
	cfg.Signaling.Address = "127.0.0.1:0"
	cfg.Signaling.Peer = "static"
	return cfg
}

func initSource(t *testing.T, cfg Config) *Source {
	t.Helper()
	s, err := Init(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func frame(seed byte) []byte {
	b := make([]byte, testFrameSize)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func acquire(t *testing.T, s *Source) Frame {
	t.Helper()
	var f Frame
	require.Eventually(t, func() bool {
		var ok bool
		f, ok = s.AcquireFrame()
		return ok
	}, 2*time.Second, time.Millisecond)
	return f
}

func offer(t *testing.T, conn net.Conn) message {
	t.Helper()
	require.NoError(t, json.NewEncoder(conn).Encode(message{Type: "offer", SDP: testOffer}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var answer message
	require.NoError(t, json.NewDecoder(conn).Decode(&answer))
	return answer
}

func TestFramesReachConsumer(t *testing.T) {
	s := initSource(t, testConfig(t))
	assert.False(t, s.FrameReady())

	conn, err := net.Dial("unix", s.IngestPath())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(frame(1))
	require.NoError(t, err)

	f := acquire(t, s)
	assert.True(t, s.ConsumerBusy())
	assert.Equal(t, uint64(1), f.Seq)
	assert.True(t, bytes.Equal(frame(1), f.Data))
	s.ReleaseFrame()
	assert.False(t, s.ConsumerBusy())
	assert.False(t, s.FrameReady())

	_, err = conn.Write(frame(2))
	require.NoError(t, err)
	f = acquire(t, s)
	assert.True(t, bytes.Equal(frame(2), f.Data))
	s.ReleaseFrame()

	st := s.Stats()
	assert.Equal(t, uint64(2), st.Frames.Published)
	assert.Equal(t, uint64(2), st.Frames.Consumed)
	assert.Equal(t, uint64(1), st.Ingest.Connections)
	assert.Equal(t, uint64(2*testFrameSize), st.Ingest.Bytes)
}

func TestResponderAnswersOffer(t *testing.T) {
	s := initSource(t, testConfig(t))

	conn, err := net.Dial("tcp", s.SignalingAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	answer := offer(t, conn)
	assert.Equal(t, "answer", answer.Type)
	assert.Contains(t, answer.SDP, "a=rtpmap:96 VP8/90000")
	assert.Contains(t, answer.SDP, "a=recvonly")
	assert.Equal(t, uint64(1), s.Stats().Signaling.Connections)
}

func TestWebsocketAnswersOffer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Signaling.Address = ""
	cfg.Signaling.WebsocketAddress = "127.0.0.1:0"
	s := initSource(t, cfg)
	assert.Nil(t, s.SignalingAddr())

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.WebsocketAddr().String()+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(message{Type: "offer", SDP: testOffer}))
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var answer message
	require.NoError(t, ws.ReadJSON(&answer))
	assert.Equal(t, "answer", answer.Type)
	assert.NotEmpty(t, answer.SDP)

	// Shutdown ends the exchange on an open websocket.
	require.NoError(t, s.Shutdown())
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
}

func TestInitiatorDialsRemote(t *testing.T) {
	remote, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer remote.Close()

	cfg := testConfig(t)
	cfg.Signaling.Address = ""
	cfg.Signaling.RemoteAddress = remote.Addr().String()
	s := initSource(t, cfg)

	conn, err := remote.Accept()
	require.NoError(t, err)
	defer conn.Close()

	answer := offer(t, conn)
	assert.Equal(t, "answer", answer.Type)
	assert.Equal(t, uint64(1), s.Stats().InitiatorAttempts)
}

func TestShutdown(t *testing.T) {
	cfg := testConfig(t)
	s, err := Init(cfg)
	require.NoError(t, err)

	conn, err := net.Dial("unix", s.IngestPath())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(frame(1))
	require.NoError(t, err)
	acquire(t, s)

	// The producer stalls on the second frame while the first is held.
	_, err = conn.Write(frame(2))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.Stats().Frames.Stalls > 0
	}, 2*time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Shutdown())
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-s.Done():
	default:
		t.Fatal("loops still running after Shutdown")
	}

	_, err = os.Lstat(cfg.Ingest.Path)
	assert.True(t, os.IsNotExist(err), "socket path removed")

	s.ReleaseFrame()
	_, ok := s.AcquireFrame()
	assert.False(t, ok)

	// Idempotent.
	assert.NoError(t, s.Shutdown())
}

func TestShutdownJoinTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.JoinTimeout = 10 * time.Millisecond

	// A source whose loops never return.
	s := &Source{cfg: cfg, cancel: func() {}, done: make(chan struct{})}
	assert.True(t, errors.Is(s.Shutdown(), ErrJoinTimeout))
	assert.True(t, errors.Is(s.Shutdown(), ErrJoinTimeout))
}

func TestInitErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ingest.FrameSize = 0
	_, err := Init(cfg)
	assert.True(t, errors.Is(err, ErrStart))

	// Signaling bind failure releases the ingestion socket.
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg = testConfig(t)
	cfg.Signaling.Address = busy.Addr().String()
	_, err = Init(cfg)
	assert.True(t, errors.Is(err, ErrSignalingBind))
	_, err = os.Lstat(cfg.Ingest.Path)
	assert.True(t, os.IsNotExist(err))

	// Ingestion bind failure.
	cfg = testConfig(t)
	cfg.Ingest.Path = filepath.Join(t.TempDir(), "missing", "frames.sock")
	_, err = Init(cfg)
	assert.True(t, errors.Is(err, ErrIngestBind))
}
