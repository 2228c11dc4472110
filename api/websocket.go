package api

import (
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/vultisig/dca-exchange/internal/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsBuffer     = 256
)

// StreamEvents upgrades to a websocket and sends event records as JSON text
// messages. With ?since=N the records after N are sent first. A client that
// falls behind the buffer is disconnected and resumes with since.
func (s *Server) StreamEvents(c echo.Context) error {
	var since uint64
	if raw := c.QueryParam("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return types.InvalidArgument("since must be a non-negative integer")
		}
		since = v
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.WithError(err).Error("websocket upgrade error")
		return nil
	}
	defer conn.Close()

	log := s.exchange.Log()
	// subscribe before reading the backlog so nothing falls in between
	records, unsubscribe := log.Subscribe(wsBuffer)
	defer unsubscribe()

	last := since
	for _, rec := range log.Since(since) {
		if err := s.writeJSON(conn, rec); err != nil {
			return nil
		}
		last = rec.Seq
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			if rec.Seq <= last {
				continue
			}
			if rec.Seq != last+1 {
				// dropped records; the client resumes from last
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, strconv.FormatUint(last, 10)),
					time.Now().Add(wsWriteWait))
				return nil
			}
			if err := s.writeJSON(conn, rec); err != nil {
				return nil
			}
			last = rec.Seq
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.WithError(err).Debug("websocket write error")
		return err
	}
	return nil
}
