package bot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// SessionMessage represents a message to be processed by the session worker.
type SessionMessage struct {
	Type string
	Ctx  context.Context
	Done chan struct{} // Closed when processing is complete (for synchronous dispatch)

	Message *tgbotapi.Message
	Text    string
}

// MessageSender abstracts the ability to send Telegram messages.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// BufferedPhoto is a photo waiting for the next /estimate.
type BufferedPhoto struct {
	MessageID int
	FileID    string
}

// MessageHandler is the interface for processing session messages.
type MessageHandler interface {
	HandleSessionMessage(ctx context.Context, session *ChatSession, msg SessionMessage)
}

// ChatSession is the bot state of one Telegram chat.
//
// Each session has a dedicated worker goroutine that processes messages
// sequentially. The photo buffer is guarded by mu so PhotoCount can be read
// from other goroutines.
type ChatSession struct {
	chatID int64
	sender MessageSender
	mu     sync.Mutex

	inbox   chan SessionMessage
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handler MessageHandler

	photos []BufferedPhoto
}

// PhotoCount returns the number of buffered photos.
func (s *ChatSession) PhotoCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.photos)
}

// addPhoto buffers a photo in message order. It reports false when the
// buffer is full.
func (s *ChatSession) addPhoto(photo BufferedPhoto) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.photos) >= MaxBufferedPhotos {
		return len(s.photos), false
	}
	s.photos = append(s.photos, photo)
	sort.SliceStable(s.photos, func(i, j int) bool {
		return s.photos[i].MessageID < s.photos[j].MessageID
	})
	return len(s.photos), true
}

// bufferedPhotos returns a copy of the buffered photos.
func (s *ChatSession) bufferedPhotos() []BufferedPhoto {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BufferedPhoto(nil), s.photos...)
}

func (s *ChatSession) reset() {
	log.Info().Int64("chatId", s.chatID).Msg("reset chat session")
	s.mu.Lock()
	s.photos = nil
	s.mu.Unlock()
}

func (s *ChatSession) replyWithError(err error) tgbotapi.Message {
	log.Error().Stack().Err(err).Int64("chatId", s.chatID).Send()
	return s.reply(MsgUnexpectedErr, escapeHTML(err.Error()))
}

// sendTypingAction sends a "typing" chat action. The indicator expires after
// about five seconds in Telegram.
func (s *ChatSession) sendTypingAction() {
	action := tgbotapi.NewChatAction(s.chatID, tgbotapi.ChatTyping)
	// sendChatAction returns a boolean, not a Message
	if _, err := s.sender.Request(action); err != nil {
		log.Debug().Err(err).Int64("chatId", s.chatID).Msg("failed to send typing action")
	}
}

// startTypingLoop sends a typing action every 4 seconds until ctx is done.
func (s *ChatSession) startTypingLoop(ctx context.Context) {
	s.sendTypingAction()

	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendTypingAction()
		}
	}
}

func (s *ChatSession) replyWithMessage(msg tgbotapi.MessageConfig) tgbotapi.Message {
	msg.ChatID = s.chatID
	sent, err := s.sender.Send(msg)
	if err != nil {
		log.Error().Stack().
			Int64("chatId", s.chatID).
			Err(fmt.Errorf("failed to send reply message: %w", err)).Send()
	} else {
		log.Info().Int64("chatId", s.chatID).Int("messageId", sent.MessageID).Msg("sent message")
	}
	return sent
}

func (s *ChatSession) reply(text string, a ...any) tgbotapi.Message {
	return s.replyWithMessage(tgbotapi.MessageConfig{
		Text:                  formatReplyText(text, a...),
		ParseMode:             tgbotapi.ModeHTML,
		DisableWebPagePreview: true,
	})
}

// --- Worker methods ---

// StartWorker starts the session's message processing worker goroutine.
// Must be called after setting the handler.
func (s *ChatSession) StartWorker() {
	s.wg.Add(1)
	go s.runWorker()
}

// SetHandler sets the message handler for this session.
func (s *ChatSession) SetHandler(handler MessageHandler) {
	s.handler = handler
}

func (s *ChatSession) runWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			// Drain any remaining messages and signal completion
			for {
				select {
				case msg := <-s.inbox:
					if msg.Done != nil {
						close(msg.Done)
					}
				default:
					return
				}
			}
		case msg := <-s.inbox:
			s.processMessage(msg)
		}
	}
}

func (s *ChatSession) processMessage(msg SessionMessage) {
	defer func() {
		// Keep the worker running after a handler panic
		if r := recover(); r != nil {
			log.Error().
				Int64("chatId", s.chatID).
				Interface("panic", r).
				Msg("recovered from panic in session worker")
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}()

	if s.handler == nil {
		log.Error().Int64("chatId", s.chatID).Msg("session handler not set")
		return
	}

	s.handler.HandleSessionMessage(msg.Ctx, s, msg)
}

// Send queues a message for processing by the worker without waiting.
func (s *ChatSession) Send(msg SessionMessage) {
	// A stopped worker never reads the inbox again.
	if s.ctx.Err() != nil {
		if msg.Done != nil {
			close(msg.Done)
		}
		return
	}
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
		if msg.Done != nil {
			close(msg.Done)
		}
	}
}

// SendSync queues a message and waits for it to be processed.
func (s *ChatSession) SendSync(msg SessionMessage) {
	msg.Done = make(chan struct{})
	s.Send(msg)
	<-msg.Done
}

// Stop stops the worker and waits for it to finish.
func (s *ChatSession) Stop() {
	s.cancel()
	s.wg.Wait()
}
