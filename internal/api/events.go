/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/jukebox/internal/events"
	"github.com/friendsincode/jukebox/internal/telemetry"
)

const (
	wsPingInterval = 15 * time.Second
	wsWriteTimeout = 5 * time.Second
)

type taggedEvent struct {
	eventType events.EventType
	payload   events.Payload
}

// handleEvents streams bus events over a websocket. ?types=now_playing,vote
// narrows the stream; the default is every event type. The current state is
// sent first so clients need no separate fetch.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.WebSocketConnections.Inc()
	defer telemetry.WebSocketConnections.Dec()

	// Reads are not expected; CloseRead handles control frames and cancels
	// ctx when the client goes away.
	ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))
	defer cancel()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.AllTypes
	}

	out := make(chan taggedEvent, 16)
	var wg sync.WaitGroup
	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		sub := a.bus.Subscribe(eventType)
		subscribers = append(subscribers, sub)
		wg.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer wg.Done()
			for payload := range sub {
				select {
				case out <- taggedEvent{eventType: eventType, payload: payload}:
				case <-ctx.Done():
				}
			}
		}(eventType, sub)
	}
	defer func() {
		cancel()
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
		wg.Wait()
	}()

	state := a.jukebox.State()
	if err := a.writeEvent(ctx, conn, "state", events.Payload{"now_playing": state.NowPlaying, "queue": state.Pending}); err != nil {
		a.logger.Debug().Err(err).Msg("websocket initial state write failed")
		return
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return
		case <-ticker.C:
			if err := a.writeEvent(ctx, conn, "ping", nil); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case ev := <-out:
			if err := a.writeEvent(ctx, conn, ev.eventType, ev.payload); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, ws.MessageText, data)
}

func parseEventTypes(raw string) []events.EventType {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	known := make(map[events.EventType]bool, len(events.AllTypes))
	for _, t := range events.AllTypes {
		known[t] = true
	}
	var out []events.EventType
	seen := map[events.EventType]bool{}
	for _, part := range strings.Split(raw, ",") {
		t := events.EventType(strings.TrimSpace(part))
		if known[t] && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
