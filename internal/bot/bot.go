package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/propdash/propdash/internal/download"
	"github.com/propdash/propdash/internal/rehab"
	"github.com/rs/zerolog/log"
)

// MaxBufferedPhotos is how many photos a chat can collect before /estimate.
const MaxBufferedPhotos = 10

// DefaultEstimateTimeout bounds a single /estimate run.
const DefaultEstimateTimeout = 3 * time.Minute

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Estimator runs the rehab estimation pipeline.
type Estimator interface {
	Analyze(ctx context.Context, req rehab.EstimationRequest) (*rehab.RehabEstimate, error)
}

// PhotoFetcher downloads photos that were sent to the bot.
type PhotoFetcher interface {
	DownloadFromTelegramFileID(ctx context.Context, getFileDirectURL func(fileID string) (string, error), fileID string) (*download.Image, error)
}

// Bot is the Telegram estimate bot. Photos sent to the chat are buffered per
// chat until /estimate runs them through the estimator.
type Bot struct {
	tg        BotAPI
	state     BotState
	estimator Estimator
	fetcher   PhotoFetcher
	chatID    int64
	timeout   time.Duration
}

// NewBot creates a new Bot instance. A non-zero chatID restricts the bot to
// that chat; updates from other chats are dropped.
func NewBot(tg BotAPI, estimator Estimator, fetcher PhotoFetcher, chatID int64) *Bot {
	b := &Bot{
		tg:        tg,
		estimator: estimator,
		fetcher:   fetcher,
		chatID:    chatID,
		timeout:   DefaultEstimateTimeout,
	}
	b.state = b.NewBotState()
	return b
}

// WithTimeout sets the deadline of a single estimate.
func (b *Bot) WithTimeout(timeout time.Duration) *Bot {
	if timeout > 0 {
		b.timeout = timeout
	}
	return b
}

// Shutdown stops every chat session worker.
func (b *Bot) Shutdown() {
	b.state.Shutdown()
}

// HandleUpdate is the main message router.
// It dispatches messages to the chat's session worker for sequential processing.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, false)
}

// handleUpdateSync is like HandleUpdate but waits for processing to complete.
func (b *Bot) handleUpdateSync(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, true)
}

func (b *Bot) dispatchUpdate(ctx context.Context, update tgbotapi.Update, sync bool) {
	message := update.Message
	if message == nil || message.Chat == nil {
		return
	}

	chatID := message.Chat.ID
	// Must run before getChatSession so random chats cannot allocate workers.
	if b.chatID != 0 && chatID != b.chatID {
		log.Debug().Int64("chatId", chatID).Msg("dropping update from unknown chat")
		return
	}

	session := b.state.getChatSession(chatID)

	msg := SessionMessage{Type: "text", Ctx: ctx, Message: message}
	if len(message.Photo) > 0 {
		msg.Type = "photo"
	}

	log.Info().Int64("chatId", chatID).Str("type", msg.Type).Str("text", message.Text).Msg("got message")

	if sync {
		session.SendSync(msg)
	} else {
		session.Send(msg)
	}
}

// HandleSessionMessage implements MessageHandler.
// Called from the session worker goroutine.
func (b *Bot) HandleSessionMessage(ctx context.Context, session *ChatSession, msg SessionMessage) {
	switch msg.Type {
	case "photo":
		b.handlePhotoMessage(session, msg.Message)
	case "text":
		b.handleCommand(ctx, session, msg.Message)
	}
}

func (b *Bot) handlePhotoMessage(session *ChatSession, message *tgbotapi.Message) {
	// Telegram lists sizes smallest first.
	largest := message.Photo[len(message.Photo)-1]
	count, ok := session.addPhoto(BufferedPhoto{
		MessageID: message.MessageID,
		FileID:    largest.FileID,
	})
	if !ok {
		session.reply(MsgPhotoLimitReached, MaxBufferedPhotos)
		return
	}

	// Albums arrive as one message per photo; only the first gets a reply.
	if message.MediaGroupID == "" || count == 1 {
		session.reply(MsgPhotoAdded, pluralize("photo", "photos", count))
	}
}

func (b *Bot) handleCommand(ctx context.Context, session *ChatSession, message *tgbotapi.Message) {
	command, args := parseCommand(message.Text)
	// Commands in group chats may carry the bot username: /estimate@propdash_bot
	command, _, _ = strings.Cut(command, "@")

	switch command {
	case "/start", "/help":
		session.reply(MsgStart, MaxBufferedPhotos)
	case "/estimate":
		b.handleEstimateCommand(ctx, session, args)
	case "/clear":
		session.reset()
		session.reply(MsgPhotosCleared)
	case "/version":
		session.reply(MsgVersionInfo, Version, BuildTime)
	default:
		if strings.HasPrefix(command, "/") {
			session.reply(MsgUnknownCommand)
		}
	}
}
