package socket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (c *Conn) readPump(ctx context.Context, handle FrameHandler) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("userId", c.UserID).Msg("signal socket read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		handle(ctx, c, data)

		select {
		case <-c.draining:
			return
		default:
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case <-c.done:
			c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return

		case <-c.draining:
			c.flush()
			return

		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes the queued frames and the final frame, then the close message.
func (c *Conn) flush() {
	for len(c.send) > 0 {
		if err := c.write(<-c.send); err != nil {
			return
		}
	}

	if err := c.write(c.last); err != nil {
		return
	}
	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"),
		time.Now().Add(writeWait),
	)
}

func (c *Conn) write(data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).Str("userId", c.UserID).Msg("signal socket write failed")
		return err
	}
	return nil
}
