package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/adred-codev/collabhub/internal/broadcast"
	"github.com/adred-codev/collabhub/internal/collab"
)

// writeWait bounds how long a single frame write may take before the
// connection is considered dead.
const writeWait = 5 * time.Second

var errSendBufferFull = errors.New("transport: outbound buffer full")

// wsConn adapts one gobwas websocket connection to collab.Sink for one
// Subscription. It owns a single writer goroutine (writePump) so the
// Subscription's outbound loop (broadcast traffic) and inbound loop
// (acks) never interleave partial frames on the wire.
type wsConn struct {
	objectID string
	conn     net.Conn
	send     chan broadcast.Message
	logger   zerolog.Logger

	closeOnce sync.Once
}

// newWSConn wraps conn for one subscription on objectID. bufferCap is
// the per-connection outbound buffer size.
func newWSConn(objectID string, conn net.Conn, bufferCap int, logger zerolog.Logger) *wsConn {
	return &wsConn{
		objectID: objectID,
		conn:     conn,
		send:     make(chan broadcast.Message, bufferCap),
		logger:   logger,
	}
}

// Send enqueues msg for the write pump. Non-blocking: when the buffer is
// full, msg is not enqueued and errSendBufferFull is returned. No Resync
// is sent at this layer; the Subscription's outbound loop treats the
// error as a broken sink and stops the Subscription, which closes the
// connection.
func (c *wsConn) Send(msg broadcast.Message) error {
	select {
	case c.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and closes the
// underlying connection.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.send) })
	return nil
}

// writePump drains c.send and ping-ticks the connection: one ws.OpText
// write per message, ws.OpPing on a ticker driven by the configured
// cadence.
func (c *wsConn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				wsutil.WriteServerMessage(c.conn, ws.OpClose, nil)
				return
			}
			encoded, err := encodeOutbound(c.objectID, msg)
			if err != nil {
				c.logger.Warn().Err(err).Msg("failed to encode outbound message")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpText, encoded); err != nil {
				c.logger.Debug().Err(err).Msg("write failed, closing connection")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed, closing connection")
				return
			}
		}
	}
}

// readPump reads client frames, decodes them, and feeds them to
// inbound until the connection errors or the client sends a close
// frame, at which point it closes inbound — triggering the
// Subscription's inboundLoop to stop itself. A broken sink or stream
// only ever terminates this one Subscription, never its Group.
func (c *wsConn) readPump(inbound chan<- collab.InboundMessage, pongWait time.Duration) {
	defer close(inbound)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		data, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			msg, err := decodeInbound(data)
			if err != nil {
				// The framing layer itself couldn't make sense of the
				// frame, so there is no InboundMessage to nack — the
				// connection is closed instead.
				c.logger.Warn().Err(err).Msg("fatal decode failure, closing connection")
				return
			}
			inbound <- msg
		case ws.OpClose:
			return
		case ws.OpPing, ws.OpPong:
			// gobwas answers pings automatically on this code path;
			// pongs just refresh the read deadline above.
		}
	}
}
