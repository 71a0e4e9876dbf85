// Package bot is the chat surface: a gin webhook receives OneBot events and
// two adapters (multi-turn prompts and single-line commands) drive the
// account core.
package bot

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pangguai-bot/internal/bot/onebot"
	"pangguai-bot/internal/common/logger"
	"pangguai-bot/internal/service/account"
)

// Sender delivers replies over the OneBot transport.
type Sender interface {
	SendPrivate(ctx context.Context, userID int64, text string) error
	SendGroup(ctx context.Context, groupID int64, text string) error
}

// Core is the account service surface the chat layer drives.
type Core interface {
	BeginLogin(ctx context.Context, userID, phone string) error
	CompleteLogin(ctx context.Context, userID, phone, code string) (*account.LoginSummary, error)
	List(userID string) []account.View
	Authorize(ctx context.Context, owner, accountID string, months int) (string, error)
	AdjustDays(ctx context.Context, owner, accountID string, days int) (string, error)
	Delete(ctx context.Context, userID, accountID string) error
	Query(ctx context.Context, userID string) []account.QueryResult
	AuthorizeAll(ctx context.Context, months int) account.BulkStats
	AdjustAllDays(ctx context.Context, days int) account.BulkStats
	CleanExpired(ctx context.Context) (account.CleanStats, error)
}

type Bot struct {
	core     Core
	sender   Sender
	sessions *StateStore
	admins   map[int64]bool
	log      zerolog.Logger
}

func New(core Core, sender Sender, adminIDs []int64) *Bot {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Bot{
		core:     core,
		sender:   sender,
		sessions: NewStateStore(),
		admins:   admins,
		log:      logger.With("bot"),
	}
}

// Register mounts the OneBot event webhook.
func (b *Bot) Register(r *gin.Engine) {
	r.POST("/", b.handleEvent)
	r.POST("/onebot/event", b.handleEvent)
}

func (b *Bot) handleEvent(c *gin.Context) {
	var ev onebot.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "failed"})
		return
	}
	// Ack immediately; NapCat does not wait for the reply.
	c.JSON(http.StatusOK, gin.H{"status": "success"})
	if !ev.IsMessage() {
		return
	}
	go b.process(ev)
}

func (b *Bot) process(ev onebot.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	text := strings.TrimSpace(ev.RawMessage)
	if text == "" {
		return
	}
	reply := b.handle(ctx, ev, text)
	if reply == "" {
		return
	}
	b.reply(ctx, ev, reply)
}

// handle routes one message: an open session consumes it first, otherwise it
// is matched against the command set. Empty return means "not for us".
func (b *Bot) handle(ctx context.Context, ev onebot.Event, text string) string {
	key := scopeKey(ev)
	owner := strconv.FormatInt(ev.UserID, 10)
	if state, ok := b.sessions.Get(key); ok {
		return b.advance(ctx, key, state, owner, text)
	}
	return b.command(ctx, key, ev, owner, text)
}

// reply answers in the scope the message came from.
func (b *Bot) reply(ctx context.Context, ev onebot.Event, text string) {
	var err error
	if ev.MessageType == "group" {
		err = b.sender.SendGroup(ctx, ev.GroupID, text)
	} else {
		err = b.sender.SendPrivate(ctx, ev.UserID, text)
	}
	if err != nil {
		b.log.Error().Err(err).Int64("user", ev.UserID).Int64("group", ev.GroupID).Msg("send reply")
	}
}

// NotifyUser makes the bot usable as the sweep's notifier.
func (b *Bot) NotifyUser(ctx context.Context, userID, message string) error {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("notify user %q: %w", userID, err)
	}
	return b.sender.SendPrivate(ctx, id, message)
}

func (b *Bot) isAdmin(id int64) bool {
	return b.admins[id]
}

// scopeKey isolates sessions per chat scope, so the same user can hold
// separate conversations in a group and in private.
func scopeKey(ev onebot.Event) string {
	return fmt.Sprintf("%s:%d:%d", ev.MessageType, ev.GroupID, ev.UserID)
}

func accountIDs(views []account.View) []string {
	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.AccountID)
	}
	return ids
}
