package bot

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/propdash/propdash/internal/download"
	"github.com/propdash/propdash/internal/rehab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const testChatID = int64(42)

type botApiMock struct {
	mock.Mock
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (m *botApiMock) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, msg)
		m.mu.Unlock()
	}
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func (m *botApiMock) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	args := m.Called(c)
	return args.Get(0).(*tgbotapi.APIResponse), args.Error(1)
}

func (m *botApiMock) GetFileDirectURL(fileID string) (string, error) {
	args := m.Called(fileID)
	return args.Get(0).(string), args.Error(1)
}

func (m *botApiMock) sentTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	texts := make([]string, len(m.sent))
	for i, msg := range m.sent {
		texts[i] = msg.Text
	}
	return texts
}

func (m *botApiMock) lastText(t *testing.T) string {
	t.Helper()
	texts := m.sentTexts()
	if len(texts) == 0 {
		t.Fatalf("expected a reply, got none")
	}
	return texts[len(texts)-1]
}

type estimatorMock struct {
	mock.Mock
}

func (m *estimatorMock) Analyze(ctx context.Context, req rehab.EstimationRequest) (*rehab.RehabEstimate, error) {
	args := m.Called(ctx, req)
	est, _ := args.Get(0).(*rehab.RehabEstimate)
	return est, args.Error(1)
}

type fetcherMock struct {
	mock.Mock
}

func (m *fetcherMock) DownloadFromTelegramFileID(ctx context.Context, getFileDirectURL func(fileID string) (string, error), fileID string) (*download.Image, error) {
	args := m.Called(ctx, fileID)
	img, _ := args.Get(0).(*download.Image)
	return img, args.Error(1)
}

func setup(t *testing.T) (*botApiMock, *estimatorMock, *fetcherMock, *Bot) {
	tg := new(botApiMock)
	tg.On("Send", mock.Anything).Return(tgbotapi.Message{MessageID: 1}, nil).Maybe()
	tg.On("Request", mock.Anything).Return(&tgbotapi.APIResponse{Ok: true}, nil).Maybe()

	estimator := new(estimatorMock)
	fetcher := new(fetcherMock)
	b := NewBot(tg, estimator, fetcher, testChatID)
	t.Cleanup(b.Shutdown)
	return tg, estimator, fetcher, b
}

func photoUpdate(chatID int64, messageID int, fileID string, mediaGroupID string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID:    messageID,
			Chat:         &tgbotapi.Chat{ID: chatID},
			MediaGroupID: mediaGroupID,
			Photo: []tgbotapi.PhotoSize{
				{FileID: fileID + "-small", Width: 90, Height: 90},
				{FileID: fileID, Width: 1280, Height: 960},
			},
		},
	}
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 1000,
			Chat:      &tgbotapi.Chat{ID: chatID},
			Text:      text,
		},
	}
}

func sampleEstimate() *rehab.RehabEstimate {
	return &rehab.RehabEstimate{
		OverallDifficulty:  6,
		TotalEstimatedCost: 48250,
		StrategyAnalysis:   rehab.StrategyAnalysis{Recommendation: rehab.RecommendFlip},
		RoomBreakdowns: []rehab.RoomBreakdown{
			{Room: "Kitchen", SourceImageIndex: 0, RoomTotal: 30250},
			{Room: "Bath <2>", SourceImageIndex: 1, RoomTotal: 18000},
		},
		HiddenDamageWarnings: []string{"Possible water damage under sink"},
		SummaryDescription:   "Dated but solid.",
	}
}

func TestPhotoBuffered_LargestSizeInMessageOrder(t *testing.T) {
	tg, _, _, b := setup(t)
	ctx := context.Background()

	b.handleUpdateSync(ctx, photoUpdate(testChatID, 5, "second", ""))
	b.handleUpdateSync(ctx, photoUpdate(testChatID, 3, "first", ""))

	session := b.state.getChatSession(testChatID)
	assert.Equal(t, []BufferedPhoto{
		{MessageID: 3, FileID: "first"},
		{MessageID: 5, FileID: "second"},
	}, session.bufferedPhotos())
	assert.Equal(t, "Got it, 2 photos collected. Send more or run /estimate.", tg.lastText(t))
}

func TestPhotoBuffered_AlbumRepliesOnce(t *testing.T) {
	tg, _, _, b := setup(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		b.handleUpdateSync(ctx, photoUpdate(testChatID, i, "p", "album-1"))
	}

	assert.Equal(t, 3, b.state.getChatSession(testChatID).PhotoCount())
	assert.Len(t, tg.sentTexts(), 1)
}

func TestPhotoBuffered_LimitReached(t *testing.T) {
	tg, _, _, b := setup(t)
	ctx := context.Background()

	for i := 1; i <= MaxBufferedPhotos+1; i++ {
		b.handleUpdateSync(ctx, photoUpdate(testChatID, i, "p", ""))
	}

	assert.Equal(t, MaxBufferedPhotos, b.state.getChatSession(testChatID).PhotoCount())
	assert.Contains(t, tg.lastText(t), "Only 10 photos fit")
}

func TestUpdateFromOtherChatDropped(t *testing.T) {
	tg, _, _, b := setup(t)

	b.handleUpdateSync(context.Background(), photoUpdate(7, 1, "p", ""))

	assert.Empty(t, tg.sentTexts())
	b.state.mu.Lock()
	assert.Empty(t, b.state.sessions)
	b.state.mu.Unlock()
}

func TestClearCommand(t *testing.T) {
	tg, _, _, b := setup(t)
	ctx := context.Background()

	b.handleUpdateSync(ctx, photoUpdate(testChatID, 1, "p", ""))
	b.handleUpdateSync(ctx, textUpdate(testChatID, "/clear"))

	assert.Equal(t, 0, b.state.getChatSession(testChatID).PhotoCount())
	assert.Equal(t, MsgPhotosCleared, tg.lastText(t))
}

func TestStartCommand(t *testing.T) {
	tg, _, _, b := setup(t)

	b.handleUpdateSync(context.Background(), textUpdate(testChatID, "/start"))

	text := tg.lastText(t)
	assert.True(t, strings.HasPrefix(text, "Send me up to 10 photos"), text)
	assert.Contains(t, text, "\n<code>/estimate 1450</code> uses 1450 sq ft")
}

func TestUnknownCommand(t *testing.T) {
	tg, _, _, b := setup(t)

	b.handleUpdateSync(context.Background(), textUpdate(testChatID, "/frobnicate"))
	b.handleUpdateSync(context.Background(), textUpdate(testChatID, "just chatting"))

	assert.Equal(t, []string{MsgUnknownCommand}, tg.sentTexts())
}

func TestEstimate_NoPhotos(t *testing.T) {
	tg, estimator, _, b := setup(t)

	b.handleUpdateSync(context.Background(), textUpdate(testChatID, "/estimate"))

	assert.Equal(t, MsgNoPhotos, tg.lastText(t))
	estimator.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestEstimate_InvalidSquareFootage(t *testing.T) {
	tg, estimator, _, b := setup(t)
	ctx := context.Background()

	b.handleUpdateSync(ctx, photoUpdate(testChatID, 1, "p", ""))
	b.handleUpdateSync(ctx, textUpdate(testChatID, "/estimate big"))

	assert.Contains(t, tg.lastText(t), "Could not read <code>big</code>")
	estimator.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestEstimate_Success(t *testing.T) {
	tg, estimator, fetcher, b := setup(t)
	ctx := context.Background()

	b.handleUpdateSync(ctx, photoUpdate(testChatID, 1, "kitchen", ""))
	b.handleUpdateSync(ctx, photoUpdate(testChatID, 2, "bath", ""))

	fetcher.On("DownloadFromTelegramFileID", mock.Anything, "kitchen").
		Return(&download.Image{Name: "kitchen.jpg", Data: []byte("k"), MIMEType: "image/jpeg"}, nil)
	fetcher.On("DownloadFromTelegramFileID", mock.Anything, "bath").
		Return(&download.Image{Name: "bath.png", Data: []byte("b"), MIMEType: "image/png"}, nil)

	var got rehab.EstimationRequest
	estimator.On("Analyze", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(rehab.EstimationRequest) }).
		Return(sampleEstimate(), nil).Once()

	b.handleUpdateSync(ctx, textUpdate(testChatID, "/estimate 1,450"))

	estimator.AssertExpectations(t)
	if assert.Len(t, got.Images, 2) {
		assert.Equal(t, "kitchen.jpg", got.Images[0].Name)
		assert.Equal(t, "image/png", got.Images[1].MIMEType)
		data, err := io.ReadAll(got.Images[1].Body)
		if err != nil {
			t.Fatalf("failed to read photo body: %v", err)
		}
		assert.Equal(t, []byte("b"), data)
	}
	if assert.NotNil(t, got.SquareFootage) {
		assert.Equal(t, 1450.0, *got.SquareFootage)
	}

	texts := tg.sentTexts()
	assert.Contains(t, texts, "Estimating rehab costs from 2 photos…")
	reply := tg.lastText(t)
	assert.Contains(t, reply, "<b>Rehab estimate: $48,250</b>")
	assert.Contains(t, reply, "• Bath &lt;2&gt; (photo 2): $18,000")
	assert.Contains(t, reply, "Possible water damage under sink")
	assert.Equal(t, 0, b.state.getChatSession(testChatID).PhotoCount())
}

func TestEstimate_FailureKeepsPhotos(t *testing.T) {
	tg, estimator, fetcher, b := setup(t)
	ctx := context.Background()

	b.handleUpdateSync(ctx, photoUpdate(testChatID, 1, "p", ""))
	fetcher.On("DownloadFromTelegramFileID", mock.Anything, "p").
		Return(&download.Image{Data: []byte("x"), MIMEType: "image/jpeg"}, nil)
	estimator.On("Analyze", mock.Anything, mock.Anything).
		Return(nil, &rehab.SchemaViolationError{Field: "total_estimated_cost", Reason: "missing", Raw: "{secret}"})

	b.handleUpdateSync(ctx, textUpdate(testChatID, "/estimate"))

	reply := tg.lastText(t)
	assert.Contains(t, reply, "Estimate failed: The model returned an unusable estimate.")
	assert.NotContains(t, reply, "secret")
	assert.Equal(t, 1, b.state.getChatSession(testChatID).PhotoCount())
}

func TestEstimate_DownloadFailure(t *testing.T) {
	tg, estimator, fetcher, b := setup(t)
	ctx := context.Background()

	b.handleUpdateSync(ctx, photoUpdate(testChatID, 1, "p", ""))
	fetcher.On("DownloadFromTelegramFileID", mock.Anything, "p").Return(nil, errors.New("file expired"))

	b.handleUpdateSync(ctx, textUpdate(testChatID, "/estimate"))

	assert.Contains(t, tg.lastText(t), "failed to download photo 0: file expired")
	estimator.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestEstimate_DownloadFailureUsesSourceImageIndex(t *testing.T) {
	tg, estimator, fetcher, b := setup(t)
	ctx := context.Background()

	b.handleUpdateSync(ctx, photoUpdate(testChatID, 1, "kitchen", ""))
	b.handleUpdateSync(ctx, photoUpdate(testChatID, 2, "bath", ""))
	fetcher.On("DownloadFromTelegramFileID", mock.Anything, "kitchen").
		Return(&download.Image{Data: []byte("x"), MIMEType: "image/jpeg"}, nil)
	fetcher.On("DownloadFromTelegramFileID", mock.Anything, "bath").Return(nil, errors.New("file expired"))

	b.handleUpdateSync(ctx, textUpdate(testChatID, "/estimate"))

	assert.Contains(t, tg.lastText(t), "failed to download photo 1: file expired")
	estimator.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestRegisterCommands(t *testing.T) {
	tg := new(botApiMock)
	tg.On("Request", mock.MatchedBy(func(c tgbotapi.SetMyCommandsConfig) bool {
		return len(c.Commands) == len(botCommands) && c.Commands[0].Command == "estimate"
	})).Return(&tgbotapi.APIResponse{Ok: true}, nil).Once()

	if err := RegisterCommands(tg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	tg.AssertExpectations(t)
}

func TestParseSquareFootageArg(t *testing.T) {
	tests := []struct {
		args    []string
		want    *float64
		wantErr bool
	}{
		{args: nil, want: nil},
		{args: []string{"1450"}, want: ptr(1450)},
		{args: []string{"1,450"}, want: ptr(1450)},
		{args: []string{"987.5", "sqft"}, want: ptr(987.5)},
		{args: []string{"-3"}, wantErr: true},
		{args: []string{"big"}, wantErr: true},
	}

	for _, tc := range tests {
		got, err := parseSquareFootageArg(tc.args)
		if tc.wantErr {
			assert.Error(t, err, "args %v", tc.args)
			continue
		}
		assert.NoError(t, err, "args %v", tc.args)
		assert.Equal(t, tc.want, got, "args %v", tc.args)
	}
}

func TestDescribeEstimateError(t *testing.T) {
	assert.Equal(t, "The estimation service is misconfigured.",
		describeEstimateError(&rehab.AuthError{Err: errors.New("bad key")}))
	assert.Equal(t, "The estimation service is unavailable right now. Try again in a moment.",
		describeEstimateError(&rehab.TransportError{Err: errors.New("dial tcp")}))
	assert.Equal(t, "invalid input: at least one photo is required",
		describeEstimateError(&rehab.InvalidInputError{Reason: "at least one photo is required"}))
	assert.Equal(t, "The estimation service failed.", describeEstimateError(errors.New("boom")))
}

func ptr(f float64) *float64 {
	return &f
}
