package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/ticketdigest/internal/types"
)

const maxTelegramMessage = 4096

// TargetPrefix marks delivery targets handled by the adapter.
const TargetPrefix = "telegram:"

// sender is the part of the bot API the adapter uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter sends run alerts to Telegram chats and answers a few status
// commands.
type Adapter struct {
	bot  sender
	api  *tgbotapi.BotAPI
	runs types.RunStore
}

// New creates a Telegram adapter. runs may be nil when only alerts are sent.
func New(token string, runs types.RunStore) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{bot: bot, api: bot, runs: runs}, nil
}

// Deliver sends message to a "telegram:<chat id>" target. It matches
// delivery.Handler.
func (a *Adapter) Deliver(target, message string) error {
	chatID, err := parseTarget(target)
	if err != nil {
		return err
	}
	return a.sendResponse(chatID, message)
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			a.handleCommand(ctx, update.Message.Chat.ID, update.Message.Command(), update.Message.CommandArguments())
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleCommand(ctx context.Context, chatID int64, command, args string) {
	switch command {
	case "start":
		a.sendResponse(chatID, fmt.Sprintf("ticketdigest alerts are enabled. Add %s%d to alerts.targets to receive failures here.", TargetPrefix, chatID))

	case "status":
		if a.runs == nil {
			a.sendResponse(chatID, "Run history is not available.")
			return
		}
		runs, err := a.runs.List(ctx, 5)
		if err != nil {
			slog.Error("list runs for telegram", "error", err)
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		a.sendResponse(chatID, formatRuns(runs))

	case "run":
		if a.runs == nil || strings.TrimSpace(args) == "" {
			a.sendResponse(chatID, "Usage: /run <run id>")
			return
		}
		rec, err := a.runs.Get(ctx, types.RunID(strings.TrimSpace(args)))
		if err != nil {
			a.sendResponse(chatID, "Run not found.")
			return
		}
		a.sendResponse(chatID, formatRuns([]*types.RunRecord{rec}))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /status, /run <id>")
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) error {
	var lastErr error
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				slog.Error("send telegram message", "chat_id", chatID, "error", err)
				lastErr = err
			}
		}
	}
	return lastErr
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func parseTarget(target string) (int64, error) {
	raw, ok := strings.CutPrefix(target, TargetPrefix)
	if !ok {
		return 0, fmt.Errorf("not a telegram target: %s", target)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", raw, err)
	}
	return id, nil
}

func formatRuns(runs []*types.RunRecord) string {
	if len(runs) == 0 {
		return "No runs recorded yet."
	}
	var b strings.Builder
	for _, r := range runs {
		fmt.Fprintf(&b, "#%d %s %s", r.TicketID, r.State, r.UpdatedAt.Format("2006-01-02 15:04"))
		switch {
		case r.State == types.StateFailed:
			fmt.Fprintf(&b, " (%s at %s)", r.Reason, r.FailedStage)
		case r.StorageKey != "":
			fmt.Fprintf(&b, " %s", r.StorageKey)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
