package signaling

import (
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// DefaultMaxMessageSize bounds a single signaling message. Offers from
// browsers with gathered candidates run to several kilobytes.
const DefaultMaxMessageSize = 64 * 1024

// A messageConn carries descriptions in both directions. Close may be called
// more than once; only the first call closes the transport.
type messageConn interface {
	ReadDescription() (Description, error)
	WriteDescription(d Description) error
	RemoteAddr() net.Addr
	Close() error
}

// streamConn frames messages on a byte stream by decoding consecutive JSON
// values. A message may arrive split over several reads, and several messages
// may arrive in one read; neither affects parsing.
type streamConn struct {
	conn  net.Conn
	limit *io.LimitedReader
	dec   *json.Decoder
	max   int64

	closeOnce sync.Once
	closeErr  error
}

func newStreamConn(conn net.Conn, maxMessageSize int) *streamConn {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	limit := &io.LimitedReader{R: conn, N: int64(maxMessageSize)}
	return &streamConn{
		conn:  conn,
		limit: limit,
		dec:   json.NewDecoder(limit),
		max:   int64(maxMessageSize),
	}
}

// ReadDescription returns io.EOF when the remote end closes the connection
// between messages.
func (c *streamConn) ReadDescription() (Description, error) {
	// Each message may span at most max bytes counted from the end of the
	// previous one. Bytes the decoder already read ahead count against it.
	c.limit.N = c.max - int64(c.buffered())
	if c.limit.N < 0 {
		c.limit.N = 0
	}

	var m wireMessage
	err := c.dec.Decode(&m)
	switch {
	case err == nil:
		return m.description()
	case c.limit.N <= 0:
		return Description{}, errors.Wrapf(ErrProtocol, "message exceeds %d bytes", c.max)
	case err == io.EOF:
		return Description{}, io.EOF
	case err == io.ErrUnexpectedEOF:
		return Description{}, errors.Wrap(ErrProtocol, "connection closed mid-message")
	}
	switch err.(type) {
	case *json.SyntaxError, *json.UnmarshalTypeError:
		return Description{}, errors.Wrap(ErrProtocol, err.Error())
	}
	return Description{}, err
}

// buffered returns the number of bytes read from the socket but not yet
// consumed by the decoder.
func (c *streamConn) buffered() int {
	if r, ok := c.dec.Buffered().(interface{ Len() int }); ok {
		return r.Len()
	}
	return 0
}

func (c *streamConn) WriteDescription(d Description) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(data)
	return err
}

func (c *streamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// wsConn carries one message per websocket text frame.
type wsConn struct {
	ws *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

func newWebsocketConn(ws *websocket.Conn, maxMessageSize int) *wsConn {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	ws.SetReadLimit(int64(maxMessageSize))
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadDescription() (Description, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Description{}, io.EOF
		}
		if err == websocket.ErrReadLimit {
			return Description{}, errors.Wrap(ErrProtocol, err.Error())
		}
		return Description{}, err
	}
	return ParseDescription(data)
}

func (c *wsConn) WriteDescription(d Description) error {
	return c.ws.WriteJSON(d)
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
