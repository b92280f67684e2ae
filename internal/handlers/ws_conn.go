// internal/handlers/ws_conn.go
package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// wsConn adapts a websocket to the game.Conn contract. coder/websocket allows
// concurrent writers, so Send writes directly instead of going through a pump.
type wsConn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration
	log          *logrus.Entry

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration, logger *logrus.Entry) *wsConn {
	id := uuid.NewString()
	return &wsConn{
		id:           id,
		ws:           ws,
		writeTimeout: writeTimeout,
		log:          logger.WithField("conn_id", id),
		done:         make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send writes one text frame, bounded by both ctx and the write timeout.
func (c *wsConn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return websocket.CloseError{Code: websocket.StatusGoingAway, Reason: "connection closed"}
	default:
	}
	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, data)
}

// Close starts the close handshake with a policy-violation status. The handshake
// runs in the background since callers may hold a room lock.
func (c *wsConn) Close(reason string) {
	c.closeWith(websocket.StatusPolicyViolation, reason)
}

func (c *wsConn) closeWith(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.log.WithFields(logrus.Fields{"code": code, "reason": reason}).Debug("closing websocket")
		go c.ws.Close(code, reason)
	})
}

// Done is closed once Close has been called.
func (c *wsConn) Done() <-chan struct{} { return c.done }

// pingLoop pings the peer every interval and cancels the connection's context
// when a ping goes unanswered.
func (c *wsConn) pingLoop(ctx context.Context, cancel context.CancelFunc, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, interval)
			err := c.ws.Ping(pingCtx)
			pingCancel()
			if err != nil {
				c.log.WithError(err).Warn("ping failed, assuming disconnect")
				cancel()
				return
			}
		}
	}
}
