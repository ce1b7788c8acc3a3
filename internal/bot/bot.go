package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/metrics"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/models"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/notification"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/storage"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
)

// Replies sent back to chat users
const (
	MsgUnauthorized   = "You are not authorized to use this bot. Please contact the admin to get access."
	MsgNotConnected   = "Your wallet is not connected. Please use the /connect command to link your wallet."
	MsgConnected      = "Welcome back! Your wallet is connected."
	MsgAdminOnly      = "This command is only available to admins."
	MsgAskAddID       = "Please send the user ID to add."
	MsgAskRemoveID    = "Please send the user ID to remove."
	MsgAlreadyExists  = "This user is already in the database."
	MsgUserNotFound   = "This user is not in the database."
	MsgInvalidID      = "That is not a valid user ID. Send a numeric chat ID or an @channel name."
	MsgCancelled      = "Cancelled."
	MsgNothingPending = "Nothing to cancel."
	MsgInternalError  = "Something went wrong. Please try again later."
)

const (
	actionAdd    = "add"
	actionRemove = "remove"
)

// RecipientStore is the subset of storage the bot needs
type RecipientStore interface {
	GetRecipient(ctx context.Context, userID string) (*models.Recipient, error)
	AddRecipient(ctx context.Context, userID string) (*models.Recipient, error)
	DeleteRecipient(ctx context.Context, userID string) error
}

// Replier sends a message to a single chat
type Replier interface {
	Send(ctx context.Context, recipient string, msg notification.Message) error
}

// Config holds bot command configuration
type Config struct {
	ConnectURL          string
	AdminIDs            []string
	ConversationTimeout time.Duration
}

// Handler processes Telegram updates received over the webhook
type Handler struct {
	config  Config
	store   RecipientStore
	replier Replier
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry

	// chat id -> pending admin action
	pending *cache.Cache
}

// NewHandler creates a bot command handler
func NewHandler(config Config, store RecipientStore, replier Replier, m *metrics.PrometheusMetrics) *Handler {
	if config.ConversationTimeout <= 0 {
		config.ConversationTimeout = 5 * time.Minute
	}

	return &Handler{
		config:  config,
		store:   store,
		replier: replier,
		metrics: m,
		logger:  utils.ComponentLogger("bot"),
		pending: cache.New(config.ConversationTimeout, 2*config.ConversationTimeout),
	}
}

// HandleUpdate dispatches a single update. Updates without a text message are ignored.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return nil
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := strings.TrimSpace(msg.Text)
	command, arg := parseCommand(text)

	logger := h.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"command": command,
	})

	isAdmin := h.isAdmin(chatID)
	user, err := h.store.GetRecipient(ctx, chatID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if !isAdmin {
			logger.Debug("Rejected message from unknown chat")
			h.record(commandLabel(command), "unauthorized")
			return h.reply(ctx, chatID, notification.TextMessage(MsgUnauthorized))
		}
	case err != nil:
		logger.WithError(err).Error("Failed to look up recipient")
		h.record(commandLabel(command), "error")
		return h.reply(ctx, chatID, notification.TextMessage(MsgInternalError))
	}

	// A pending admin conversation consumes the next plain message
	if action, ok := h.pending.Get(chatID); ok && command == "" {
		h.pending.Delete(chatID)
		return h.completeAction(ctx, chatID, action.(string), text)
	}

	switch command {
	case "/start":
		h.record(command, "success")
		if user == nil || !user.Connected {
			return h.reply(ctx, chatID, notification.TextMessage(MsgNotConnected))
		}
		return h.reply(ctx, chatID, notification.TextMessage(MsgConnected))

	case "/connect":
		h.record(command, "success")
		return h.reply(ctx, chatID, notification.HTMLMessage(
			fmt.Sprintf(`<a href="%s">Click here </a> to connect your wallet.`, html.EscapeString(h.connectLink(chatID)))))

	case "/help":
		h.record(command, "success")
		return h.reply(ctx, chatID, notification.TextMessage(h.helpText(isAdmin)))

	case "/cancel":
		h.record(command, "success")
		if _, ok := h.pending.Get(chatID); !ok {
			return h.reply(ctx, chatID, notification.TextMessage(MsgNothingPending))
		}
		h.pending.Delete(chatID)
		return h.reply(ctx, chatID, notification.TextMessage(MsgCancelled))

	case "/adduser", "/removeuser":
		if !isAdmin {
			h.record(command, "forbidden")
			return h.reply(ctx, chatID, notification.TextMessage(MsgAdminOnly))
		}

		action := actionAdd
		prompt := MsgAskAddID
		if command == "/removeuser" {
			action = actionRemove
			prompt = MsgAskRemoveID
		}

		if arg != "" {
			return h.completeAction(ctx, chatID, action, arg)
		}

		h.pending.SetDefault(chatID, action)
		h.record(command, "pending")
		return h.reply(ctx, chatID, notification.TextMessage(prompt))
	}

	// Other messages get no reply
	return nil
}

// completeAction finishes an add or remove requested by an admin
func (h *Handler) completeAction(ctx context.Context, chatID, action, target string) error {
	target = strings.TrimSpace(target)
	command := "/adduser"
	if action == actionRemove {
		command = "/removeuser"
	}

	logger := h.logger.WithFields(logrus.Fields{
		"admin":  chatID,
		"target": target,
		"action": action,
	})

	if !models.IsValidChatID(target) {
		h.record(command, "invalid")
		return h.reply(ctx, chatID, notification.TextMessage(MsgInvalidID))
	}

	var err error
	var reply string
	switch action {
	case actionAdd:
		_, err = h.store.AddRecipient(ctx, target)
		reply = fmt.Sprintf("User with ID %s has been added successfully.", target)
		if errors.Is(err, storage.ErrAlreadyExists) {
			h.record(command, "exists")
			return h.reply(ctx, chatID, notification.TextMessage(MsgAlreadyExists))
		}
	case actionRemove:
		err = h.store.DeleteRecipient(ctx, target)
		reply = fmt.Sprintf("User with ID %s has been removed.", target)
		if errors.Is(err, storage.ErrNotFound) {
			h.record(command, "not_found")
			return h.reply(ctx, chatID, notification.TextMessage(MsgUserNotFound))
		}
	}

	if err != nil {
		logger.WithError(err).Error("Admin action failed")
		h.record(command, "error")
		return h.reply(ctx, chatID, notification.TextMessage(MsgInternalError))
	}

	logger.Info("Admin action completed")
	h.record(command, "success")
	return h.reply(ctx, chatID, notification.TextMessage(reply))
}

// Pending reports whether chatID has an unfinished admin conversation
func (h *Handler) Pending(chatID string) bool {
	_, ok := h.pending.Get(chatID)
	return ok
}

func (h *Handler) isAdmin(chatID string) bool {
	for _, id := range h.config.AdminIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

func (h *Handler) connectLink(chatID string) string {
	base := h.config.ConnectURL
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return base + "?userId=" + url.QueryEscape(chatID)
	}
	q := u.Query()
	q.Set("userId", chatID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handler) helpText(isAdmin bool) string {
	lines := []string{
		"/start - check your wallet connection",
		"/connect - link your wallet",
		"/help - show this message",
	}
	if isAdmin {
		lines = append(lines,
			"/adduser [id] - allow a user to receive alerts",
			"/removeuser [id] - revoke a user",
			"/cancel - abort a pending admin action",
		)
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) reply(ctx context.Context, chatID string, msg notification.Message) error {
	if err := h.replier.Send(ctx, chatID, msg); err != nil {
		return fmt.Errorf("reply to %s: %w", chatID, err)
	}
	return nil
}

func (h *Handler) record(command, status string) {
	if h.metrics != nil {
		h.metrics.RecordBotCommand(command, status)
	}
}

// parseCommand splits "/cmd@botname arg" into "/cmd" and "arg"
func parseCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}

	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	if i := strings.Index(command, "@"); i > 0 {
		command = command[:i]
	}

	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	return command, arg
}

func commandLabel(command string) string {
	switch command {
	case "":
		return "message"
	case "/start", "/connect", "/help", "/cancel", "/adduser", "/removeuser":
		return command
	default:
		return "other"
	}
}
