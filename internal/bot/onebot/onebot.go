// Package onebot speaks the OneBot v11 protocol as deployed by NapCat:
// events arrive over an HTTP callback, actions go out over a websocket.
package onebot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pangguai-bot/internal/common/logger"
)

// Event is an inbound message event. Fields beyond these exist on the wire
// but are not needed here.
type Event struct {
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type"`
	RawMessage  string `json:"raw_message"`
	UserID      int64  `json:"user_id"`
	GroupID     int64  `json:"group_id"`
	SelfID      int64  `json:"self_id"`
}

// IsMessage reports whether the event carries a chat message.
func (e *Event) IsMessage() bool {
	return e.PostType == "message" && (e.MessageType == "private" || e.MessageType == "group")
}

// Client issues OneBot actions over a per-call websocket connection, matching
// responses by echo id.
type Client struct {
	url     string
	token   string
	timeout time.Duration
	log     zerolog.Logger
}

func New(url, token string) *Client {
	return &Client{
		url:     url,
		token:   token,
		timeout: 10 * time.Second,
		log:     logger.With("onebot"),
	}
}

type actionResponse struct {
	Status  string `json:"status"`
	RetCode int    `json:"retcode"`
	Echo    string `json:"echo"`
}

func (c *Client) send(ctx context.Context, action string, params map[string]any) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial onebot %s: %w", c.url, err)
	}
	defer conn.Close()

	echo := uuid.NewString()
	payload, err := sonic.Marshal(map[string]any{"action": action, "params": params, "echo": echo})
	if err != nil {
		return fmt.Errorf("encode %s: %w", action, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write %s: %w", action, err)
	}

	// The socket also streams unrelated events; read until our echo comes
	// back or the deadline hits.
	_ = conn.SetReadDeadline(time.Now().Add(c.timeout))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read %s response: %w", action, err)
		}
		var resp actionResponse
		if err := sonic.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Echo != echo {
			continue
		}
		if resp.Status != "ok" {
			return fmt.Errorf("%s failed: status=%s retcode=%d", action, resp.Status, resp.RetCode)
		}
		return nil
	}
}

func textMessage(text string) []map[string]any {
	return []map[string]any{{"type": "text", "data": map[string]any{"text": text}}}
}

func (c *Client) SendPrivate(ctx context.Context, userID int64, text string) error {
	return c.send(ctx, "send_private_msg", map[string]any{
		"user_id": userID,
		"message": textMessage(text),
	})
}

func (c *Client) SendGroup(ctx context.Context, groupID int64, text string) error {
	return c.send(ctx, "send_group_msg", map[string]any{
		"group_id": groupID,
		"message":  textMessage(text),
	})
}
