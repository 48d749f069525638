// Package telegram bridges a Telegram bot to the gateway.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/liftcoach/internal/gateway"
	"github.com/user/liftcoach/internal/types"
)

const maxTelegramMessage = 4096

// Inbound accepts events for processing; *gateway.Gateway implements it.
type Inbound interface {
	HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...gateway.RunOption) error
}

// Sender is the part of the bot API the adapter sends through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot           *tgbotapi.BotAPI
	sender        Sender
	inbound       Inbound
	conversations types.ConversationStore
	tools         func() []string
}

// New creates a Telegram adapter. tools lists the tool names shown by /tools
// and may be nil.
func New(token string, in Inbound, conversations types.ConversationStore, tools func() []string) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, in, conversations, tools)
	a.bot = bot
	return a, nil
}

func newAdapter(sender Sender, in Inbound, conversations types.ConversationStore, tools func() []string) *Adapter {
	if tools == nil {
		tools = func() []string { return nil }
	}
	return &Adapter{
		sender:        sender,
		inbound:       in,
		conversations: conversations,
		tools:         tools,
	}
}

// Start begins long-polling for Telegram updates and blocks until ctx is
// done.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	event := &types.InboundEvent{
		Source:          "telegram",
		ConversationKey: buildConversationKey(msg.From.ID, chatID),
		Principal:       principalFor(msg.From),
		Text:            msg.Text,
	}

	err := a.inbound.HandleInbound(ctx, event,
		gateway.WithOnComplete(func(response string) {
			a.sendResponse(chatID, response)
		}),
		gateway.WithOnError(func(err error) {
			slog.Error("telegram run failed", "chat_id", chatID, "error", err)
			a.sendResponse(chatID, "Sorry, I couldn't finish that. Please try again.")
		}),
	)
	if err != nil {
		slog.Error("handle inbound error", "chat_id", chatID, "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := buildConversationKey(msg.From.ID, chatID)

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hi! I'm your lifting coach. Tell me what you trained, e.g. \"squat 5x5 at 100kg\", or ask about your progress.")

	case "new":
		conv, err := a.find(ctx, key)
		if err != nil {
			a.sendResponse(chatID, "Error starting a new conversation.")
			return
		}
		if conv != nil {
			if err := a.conversations.Delete(ctx, conv.ID); err != nil {
				slog.Error("delete conversation failed", "conversation_id", conv.ID, "error", err)
				a.sendResponse(chatID, "Error starting a new conversation.")
				return
			}
		}
		a.sendResponse(chatID, "Starting a new conversation. Your training log is kept.")

	case "status":
		conv, err := a.find(ctx, key)
		if err != nil {
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		if conv == nil {
			a.sendResponse(chatID, "No conversation yet.")
			return
		}
		full, err := a.conversations.Get(ctx, conv.ID)
		if err != nil {
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		a.sendResponse(chatID, fmt.Sprintf("Conversation: %s\nMessages: %d", full.ID, len(full.Messages)))

	case "tools":
		names := a.tools()
		if len(names) == 0 {
			a.sendResponse(chatID, "No tools are available.")
			return
		}
		a.sendResponse(chatID, "Tools: "+strings.Join(names, ", "))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /status, /tools")
	}
}

// find returns the conversation metadata for key, or nil if none exists.
func (a *Adapter) find(ctx context.Context, key types.ConversationKey) (*types.Conversation, error) {
	list, err := a.conversations.List(ctx)
	if err != nil {
		slog.Error("list conversations failed", "error", err)
		return nil, err
	}
	for _, c := range list {
		if c.Key == key {
			return c, nil
		}
	}
	return nil, nil
}

// Deliver sends a message to the chat named by a telegram conversation key.
// It serves as the delivery handler for the "telegram:" prefix.
func (a *Adapter) Deliver(key types.ConversationKey, message string) error {
	chatID, err := chatIDFromKey(key)
	if err != nil {
		return err
	}
	a.sendResponse(chatID, message)
	return nil
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.sender.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.sender.Send(msg); err != nil {
				slog.Error("send message error", "chat_id", chatID, "error", err)
			}
		}
	}
}

// splitMessage cuts text into Telegram-sized parts, preferring line breaks
// and never splitting a UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		end := maxTelegramMessage
		if nl := strings.LastIndexByte(text[:end], '\n'); nl > maxTelegramMessage/2 {
			end = nl + 1
		} else {
			for end > 0 && !utf8Start(text[end]) {
				end--
			}
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

func principalFor(u *tgbotapi.User) *types.Principal {
	name := u.UserName
	if name == "" {
		name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return &types.Principal{ID: "telegram:" + strconv.FormatInt(u.ID, 10), Name: name}
}

func buildConversationKey(userID, chatID int64) types.ConversationKey {
	return types.NewConversationKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}

func chatIDFromKey(key types.ConversationKey) (int64, error) {
	parts := strings.Split(string(key), ":")
	if len(parts) < 2 || parts[0] != "telegram" {
		return 0, fmt.Errorf("not a telegram conversation key: %s", key)
	}
	chatID, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id from %s: %w", key, err)
	}
	return chatID, nil
}
