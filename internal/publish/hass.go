package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/micro-ha/loqed-bridge/addon/internal/flow"
)

const (
	hassEventPrefix  = "loqed_"
	hassReplyTimeout = 10 * time.Second
)

// HassEvents fires each trigger as a Home Assistant bus event over the
// websocket API. The connection is dialed lazily and re-established after
// any failure.
type HassEvents struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	logger  *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int
}

func NewHassEvents(baseURL, token string, logger *slog.Logger) *HassEvents {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HassEvents{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		dialer:  websocket.DefaultDialer,
		logger:  logger.With("component", "hass_events"),
	}
}

func (h *HassEvents) Name() string { return "hass" }

// EventType is the bus event type a card is fired as.
func EventType(card string) string {
	return hassEventPrefix + card
}

func (h *HassEvents) Publish(ctx context.Context, firing flow.Firing) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		conn, err := h.connect(ctx)
		if err != nil {
			return err
		}
		h.conn = conn
	}

	data := map[string]any{
		"device_id":     firing.DeviceID,
		"matched_rules": firing.MatchedRules,
	}
	for k, v := range firing.Tokens {
		data[k] = v
	}
	if err := h.call(ctx, firing.Card, data); err != nil {
		h.conn.Close()
		h.conn = nil
		return err
	}
	return nil
}

func (h *HassEvents) call(ctx context.Context, card string, data map[string]any) error {
	h.nextID++
	id := h.nextID
	msg := map[string]any{
		"id":         id,
		"type":       "fire_event",
		"event_type": EventType(card),
		"event_data": data,
	}
	if err := h.conn.SetWriteDeadline(replyDeadline(ctx)); err != nil {
		return err
	}
	if err := h.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("hass fire_event: %w", err)
	}
	for {
		if err := h.conn.SetReadDeadline(replyDeadline(ctx)); err != nil {
			return err
		}
		var reply struct {
			ID      int    `json:"id"`
			Type    string `json:"type"`
			Success bool   `json:"success"`
			Error   *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := h.conn.ReadJSON(&reply); err != nil {
			return fmt.Errorf("hass fire_event reply: %w", err)
		}
		if reply.Type != "result" || reply.ID != id {
			continue
		}
		if !reply.Success {
			if reply.Error != nil {
				return fmt.Errorf("%w: %s: %s", ErrHassRejected, reply.Error.Code, reply.Error.Message)
			}
			return ErrHassRejected
		}
		return nil
	}
}

func (h *HassEvents) connect(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := toWebsocketURL(h.baseURL + "/api/websocket")
	if err != nil {
		return nil, err
	}
	conn, _, err := h.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("hass dial: %w", err)
	}
	if err := h.authenticate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	h.nextID = 0
	h.logger.Debug("hass websocket authenticated")
	return conn, nil
}

func (h *HassEvents) authenticate(ctx context.Context, conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(replyDeadline(ctx)); err != nil {
		return err
	}
	var hello struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("hass handshake: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("hass handshake: unexpected %q", hello.Type)
	}
	if err := conn.WriteJSON(map[string]any{"type": "auth", "access_token": h.token}); err != nil {
		return fmt.Errorf("hass auth: %w", err)
	}
	var reply struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("hass auth: %w", err)
	}
	if reply.Type != "auth_ok" {
		return fmt.Errorf("%w: %s", ErrHassAuth, reply.Message)
	}
	return nil
}

// Close drops the websocket connection, if any.
func (h *HassEvents) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}

// replyDeadline caps hassReplyTimeout by the caller's deadline.
func replyDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(hassReplyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

func toWebsocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}
