package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/propdash/propdash/internal/rehab"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const photoDownloadConcurrency = 4

// handleEstimateCommand runs the buffered photos through the estimator.
// The optional argument is the floor area in square feet.
func (b *Bot) handleEstimateCommand(ctx context.Context, session *ChatSession, args []string) {
	photos := session.bufferedPhotos()
	if len(photos) == 0 {
		session.reply(MsgNoPhotos)
		return
	}

	sqft, err := parseSquareFootageArg(args)
	if err != nil {
		session.reply(MsgInvalidSquareFootage, escapeHTML(strings.Join(args, " ")))
		return
	}

	session.reply(MsgEstimating, pluralize("photo", "photos", len(photos)))

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	typingCtx, stopTyping := context.WithCancel(ctx)
	defer stopTyping()
	go session.startTypingLoop(typingCtx)

	images, err := b.downloadPhotos(ctx, photos)
	if err != nil {
		session.replyWithError(err)
		return
	}

	estimate, err := b.estimator.Analyze(ctx, rehab.EstimationRequest{Images: images, SquareFootage: sqft})
	if err != nil {
		log.Error().Err(err).
			Int64("chatId", session.chatID).
			Str("code", rehab.ErrorCode(err)).
			Msg("estimate failed")
		session.reply(MsgEstimateFailed, escapeHTML(describeEstimateError(err)))
		return
	}

	session.reset()
	session.reply("%s", formatEstimate(estimate))
}

// downloadPhotos fetches the buffered photos from Telegram in order.
func (b *Bot) downloadPhotos(ctx context.Context, photos []BufferedPhoto) ([]rehab.PhotoInput, error) {
	inputs := make([]rehab.PhotoInput, len(photos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(photoDownloadConcurrency)
	for i, photo := range photos {
		g.Go(func() error {
			img, err := b.fetcher.DownloadFromTelegramFileID(gctx, b.tg.GetFileDirectURL, photo.FileID)
			if err != nil {
				return fmt.Errorf("failed to download photo %d: %w", i, err)
			}
			inputs[i] = img.Photo()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

// parseSquareFootageArg parses "/estimate 1450" style arguments. Thousands
// separators and a trailing "sqft" are accepted.
func parseSquareFootageArg(args []string) (*float64, error) {
	s := strings.ToLower(strings.TrimSpace(strings.Join(args, "")))
	s = strings.TrimSuffix(s, "sqft")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if v < 0 {
		return nil, fmt.Errorf("negative square footage %v", v)
	}
	return &v, nil
}

// describeEstimateError turns an estimate failure into text for the chat.
// Provider payloads and raw model output never reach the user.
func describeEstimateError(err error) string {
	switch rehab.ErrorCode(err) {
	case rehab.CodeInvalidInput, rehab.CodeEncoding:
		return err.Error()
	case rehab.CodeAuth:
		return "The estimation service is misconfigured."
	case rehab.CodeCancelled:
		return "The estimate took too long and was cancelled."
	case rehab.CodeMalformedResponse, rehab.CodeSchemaViolation:
		return "The model returned an unusable estimate. Try again, perhaps with clearer photos."
	}
	if rehab.IsTransient(err) {
		return "The estimation service is unavailable right now. Try again in a moment."
	}
	return "The estimation service failed."
}
