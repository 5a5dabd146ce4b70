package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Brownie44l1/xray-bot/internal/feedback"
	"github.com/Brownie44l1/xray-bot/internal/handlers"
	"github.com/Brownie44l1/xray-bot/internal/imaging"
	"github.com/Brownie44l1/xray-bot/internal/model"
	"github.com/Brownie44l1/xray-bot/internal/session"
	"github.com/Brownie44l1/xray-bot/mocks"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	gateway   *mocks.MockGateway
	predictor *mocks.MockPredictor
	feedback  *mocks.MockLog
	store     *session.MemoryStore
	handler   *handlers.Handler

	mu   sync.Mutex
	sent map[int64][]string
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	f := &fixture{
		gateway:   mocks.NewMockGateway(ctrl),
		predictor: mocks.NewMockPredictor(ctrl),
		feedback:  mocks.NewMockLog(ctrl),
		store:     session.NewMemoryStore(log, time.Hour),
		sent:      make(map[int64][]string),
	}
	f.gateway.EXPECT().SendText(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, chatID int64, text string) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.sent[chatID] = append(f.sent[chatID], text)
			return nil
		}).AnyTimes()
	f.gateway.EXPECT().SendTyping(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	f.handler = handlers.NewHandler(log, f.gateway, f.store, imaging.NewNormalizer(imaging.DefaultSize),
		f.predictor, f.feedback, timeout)
	return f
}

func (f *fixture) messages(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[chatID]...)
}

func (f *fixture) last(chatID int64) string {
	msgs := f.messages(chatID)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func (f *fixture) state(t *testing.T, chatID, userID int64) session.State {
	state, err := f.store.Get(context.Background(), session.ID{ChatID: chatID, UserID: userID})
	require.NoError(t, err)
	return state
}

func command(chatID, userID int64, name string) handlers.Event {
	return handlers.Event{Kind: handlers.KindCommand, ChatID: chatID, UserID: userID, MessageID: 1, Command: name}
}

func photo(chatID, userID int64, fileID string) handlers.Event {
	return handlers.Event{Kind: handlers.KindPhoto, ChatID: chatID, UserID: userID, MessageID: 2, FileID: fileID}
}

func document(chatID, userID int64, fileID, name string) handlers.Event {
	return handlers.Event{Kind: handlers.KindDocument, ChatID: chatID, UserID: userID, MessageID: 2, FileID: fileID, FileName: name}
}

func text(chatID, userID int64, body string) handlers.Event {
	return handlers.Event{Kind: handlers.KindText, ChatID: chatID, UserID: userID, MessageID: 2, Text: body}
}

func pngBytes(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func meanPixel(t model.Tensor) float32 {
	var sum float32
	for _, v := range t.Data {
		sum += v
	}
	return sum / float32(len(t.Data))
}

func TestHandler_UploadFlow(t *testing.T) {
	const chat, user = int64(100), int64(7)

	tests := []struct {
		description string
		event       handlers.Event
		setup       func(t *testing.T, f *fixture)
		wantLast    string
	}{
		{
			"Photo with score at the threshold is positive",
			photo(chat, user, "photo-1"),
			func(t *testing.T, f *fixture) {
				f.gateway.EXPECT().FetchFile(gomock.Any(), "photo-1").Return(pngBytes(t, 120), nil)
				f.predictor.EXPECT().Predict(gomock.Any()).Return(model.Score(0.70), nil)
			},
			handlers.MsgResultPresent,
		},
		{
			"Document with upper-case extension is accepted",
			document(chat, user, "doc-1", "scan.PNG"),
			func(t *testing.T, f *fixture) {
				f.gateway.EXPECT().FetchFile(gomock.Any(), "doc-1").Return(pngBytes(t, 40), nil)
				f.predictor.EXPECT().Predict(gomock.Any()).Return(model.Score(0.699999), nil)
			},
			handlers.MsgResultAbsent,
		},
		{
			"Corrupt bytes yield the generic processing error",
			photo(chat, user, "photo-2"),
			func(t *testing.T, f *fixture) {
				f.gateway.EXPECT().FetchFile(gomock.Any(), "photo-2").Return([]byte("not an image"), nil)
			},
			handlers.MsgProcessingErr,
		},
		{
			"Fetch failure yields the generic processing error",
			photo(chat, user, "photo-3"),
			func(t *testing.T, f *fixture) {
				f.gateway.EXPECT().FetchFile(gomock.Any(), "photo-3").Return(nil, errors.New("connection reset"))
			},
			handlers.MsgProcessingErr,
		},
		{
			"Inference failure yields the analysis error",
			document(chat, user, "doc-2", "knee.jpeg"),
			func(t *testing.T, f *fixture) {
				f.gateway.EXPECT().FetchFile(gomock.Any(), "doc-2").Return(pngBytes(t, 200), nil)
				f.predictor.EXPECT().Predict(gomock.Any()).Return(model.Score(0), model.ErrInference)
			},
			handlers.MsgAnalysisErr,
		},
		{
			"Out of range score is an inference failure",
			photo(chat, user, "photo-4"),
			func(t *testing.T, f *fixture) {
				f.gateway.EXPECT().FetchFile(gomock.Any(), "photo-4").Return(pngBytes(t, 200), nil)
				f.predictor.EXPECT().Predict(gomock.Any()).Return(model.Score(1.5), nil)
			},
			handlers.MsgAnalysisErr,
		},
		{
			"Predictor panic is contained",
			photo(chat, user, "photo-5"),
			func(t *testing.T, f *fixture) {
				f.gateway.EXPECT().FetchFile(gomock.Any(), "photo-5").Return(pngBytes(t, 200), nil)
				f.predictor.EXPECT().Predict(gomock.Any()).DoAndReturn(func(model.Tensor) (model.Score, error) {
					panic("kernel crashed")
				})
			},
			handlers.MsgAnalysisErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			req := require.New(t)
			ctx := context.Background()
			f := newFixture(t, time.Minute)
			tt.setup(t, f)

			f.handler.Handle(ctx, command(chat, user, handlers.CommandUpload))
			req.Equal(session.WaitingForFile, f.state(t, chat, user))

			f.handler.Handle(ctx, tt.event)

			req.Equal(session.None, f.state(t, chat, user), "no terminal path may leave a session behind")
			req.Equal([]string{handlers.MsgUploadPrompt, handlers.MsgAccepted, tt.wantLast}, f.messages(chat))
		})
	}
}

func TestHandler_NormalizedTensorReachesPredictor(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, time.Minute)

	f.gateway.EXPECT().FetchFile(gomock.Any(), "photo").Return(pngBytes(t, 10), nil)
	f.predictor.EXPECT().Predict(gomock.Any()).DoAndReturn(func(tensor model.Tensor) (model.Score, error) {
		req.Equal([]int64{1, 512, 512, 1}, tensor.Shape)
		return 0.1, nil
	})

	f.handler.Handle(ctx, command(1, 1, handlers.CommandUpload))
	f.handler.Handle(ctx, photo(1, 1, "photo"))
	req.Equal(handlers.MsgResultAbsent, f.last(1))
}

func TestHandler_RejectionsKeepWaiting(t *testing.T) {
	tests := []struct {
		description string
		event       handlers.Event
		want        string
	}{
		{"Plain text is rejected", text(5, 5, "here is my x-ray"), handlers.MsgSendImage},
		{"Gif document is rejected", document(5, 5, "doc", "scan.gif"), handlers.MsgWrongFormat},
		{"Document without extension is rejected", document(5, 5, "doc", "scan"), handlers.MsgWrongFormat},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			req := require.New(t)
			ctx := context.Background()
			f := newFixture(t, time.Minute)

			f.handler.Handle(ctx, command(5, 5, handlers.CommandUpload))
			f.handler.Handle(ctx, tt.event)

			req.Equal(session.WaitingForFile, f.state(t, 5, 5))
			req.Equal(tt.want, f.last(5))
		})
	}
}

func TestHandler_ContentWithoutUploadIsIgnored(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, time.Minute)

	f.handler.Handle(context.Background(), photo(3, 3, "photo"))
	f.handler.Handle(context.Background(), text(3, 3, "hello"))

	req.Empty(f.messages(3))
	req.Equal(session.None, f.state(t, 3, 3))
}

func TestHandler_StatusDuringAnalysis(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, time.Minute)

	f.handler.Handle(ctx, command(9, 9, handlers.CommandStatus))
	req.Equal(handlers.MsgNoRequest, f.last(9))

	release := make(chan struct{})
	f.gateway.EXPECT().FetchFile(gomock.Any(), "photo").Return(pngBytes(t, 90), nil)
	f.predictor.EXPECT().Predict(gomock.Any()).DoAndReturn(func(model.Tensor) (model.Score, error) {
		<-release
		return 0.95, nil
	})

	f.handler.Handle(ctx, command(9, 9, handlers.CommandUpload))
	f.handler.Handle(ctx, command(9, 9, handlers.CommandStatus))
	req.Equal(handlers.MsgNoRequest, f.last(9), "waiting for a file is not an active analysis")

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.handler.Handle(ctx, photo(9, 9, "photo"))
	}()

	req.Eventually(func() bool { return f.state(t, 9, 9) == session.ProcessingFile }, time.Second, 5*time.Millisecond)
	f.handler.Handle(ctx, command(9, 9, handlers.CommandStatus))
	req.Equal(handlers.MsgStillRunning, f.last(9))

	close(release)
	<-done

	req.Equal(session.None, f.state(t, 9, 9))
	req.Equal(handlers.MsgResultPresent, f.last(9))
	f.handler.Handle(ctx, command(9, 9, handlers.CommandStatus))
	req.Equal(handlers.MsgNoRequest, f.last(9))
}

func TestHandler_Timeout(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, 30*time.Millisecond)

	// A download that never completes on its own.
	f.gateway.EXPECT().FetchFile(gomock.Any(), "photo").
		DoAndReturn(func(ctx context.Context, _ string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).MaxTimes(1)

	f.handler.Handle(ctx, command(4, 4, handlers.CommandUpload))
	f.handler.Handle(ctx, photo(4, 4, "photo"))

	req.Equal(session.None, f.state(t, 4, 4))
	req.Equal(handlers.MsgTimeout, f.last(4))
}

func TestHandler_IndependentSessions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, time.Minute)

	f.gateway.EXPECT().FetchFile(gomock.Any(), "bright").Return(pngBytes(t, 250), nil)
	f.gateway.EXPECT().FetchFile(gomock.Any(), "dark").Return(pngBytes(t, 5), nil)
	f.predictor.EXPECT().Predict(gomock.Any()).DoAndReturn(func(tensor model.Tensor) (model.Score, error) {
		time.Sleep(10 * time.Millisecond)
		if meanPixel(tensor) > 128 {
			return 0.9, nil
		}
		return 0.1, nil
	}).Times(2)

	f.handler.Handle(ctx, command(1, 11, handlers.CommandUpload))
	f.handler.Handle(ctx, command(2, 22, handlers.CommandUpload))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.handler.Handle(ctx, photo(1, 11, "bright"))
	}()
	go func() {
		defer wg.Done()
		f.handler.Handle(ctx, photo(2, 22, "dark"))
	}()
	wg.Wait()

	req.Equal(handlers.MsgResultPresent, f.last(1))
	req.Equal(handlers.MsgResultAbsent, f.last(2))
	req.Equal(session.None, f.state(t, 1, 11))
	req.Equal(session.None, f.state(t, 2, 22))
}

func TestHandler_StatelessCommands(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{handlers.CommandStart, handlers.MsgStart},
		{handlers.CommandHelp, handlers.MsgHelp},
		{"unknown", handlers.MsgHelp},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t, time.Minute)

			f.handler.Handle(context.Background(), command(8, 8, handlers.CommandUpload))
			f.handler.Handle(context.Background(), command(8, 8, tt.command))

			req.Equal(tt.want, f.last(8))
			req.Equal(session.WaitingForFile, f.state(t, 8, 8))
		})
	}
}

func TestHandler_Feedback(t *testing.T) {
	t.Run("Keyboard offers five ratings", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute)

		f.gateway.EXPECT().SendKeyboard(gomock.Any(), int64(6), int64(1), handlers.MsgFeedback, gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _ int64, _ string, buttons []handlers.Button) error {
				req.Len(buttons, 5)
				req.Equal(handlers.Button{Text: "⭐️", Data: "rating_1"}, buttons[0])
				req.Equal("rating_5", buttons[4].Data)
				return nil
			})

		f.handler.Handle(context.Background(), command(6, 6, handlers.CommandFeedback))
	})

	t.Run("Rating callback is stored and acknowledged", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		ev := handlers.Event{Kind: handlers.KindCallback, ChatID: 6, UserID: 66, MessageID: 31, CallbackID: "cb", CallbackData: "rating_4"}

		gomock.InOrder(
			f.feedback.EXPECT().Append(gomock.Any(), gomock.Cond(func(x any) bool {
				e, ok := x.(feedback.Entry)
				return ok && e.UserID == 66 && e.Rating == 4
			})).Return(nil),
			f.gateway.EXPECT().EditMessage(gomock.Any(), int64(6), int64(31), handlers.MsgThanksForRating(4)).Return(nil),
			f.gateway.EXPECT().AnswerCallback(gomock.Any(), "cb").Return(nil),
		)

		f.handler.Handle(context.Background(), ev)
	})

	t.Run("Unknown callback is only answered", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		ev := handlers.Event{Kind: handlers.KindCallback, ChatID: 6, UserID: 66, MessageID: 31, CallbackID: "cb", CallbackData: "rating_9"}

		f.gateway.EXPECT().AnswerCallback(gomock.Any(), "cb").Return(nil)
		f.handler.Handle(context.Background(), ev)
	})

	t.Run("Storage failure still thanks the user", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		ev := handlers.Event{Kind: handlers.KindCallback, ChatID: 6, UserID: 66, MessageID: 31, CallbackData: "rating_2"}

		f.feedback.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
		f.gateway.EXPECT().EditMessage(gomock.Any(), int64(6), int64(31), handlers.MsgThanksForRating(2)).Return(nil)
		f.handler.Handle(context.Background(), ev)
	})
}

func TestHandler_InvalidEventsAreDropped(t *testing.T) {
	tests := []struct {
		description string
		event       handlers.Event
	}{
		{"Missing chat", handlers.Event{Kind: handlers.KindCommand, UserID: 1, Command: handlers.CommandUpload}},
		{"Missing user", handlers.Event{Kind: handlers.KindCommand, ChatID: 1, Command: handlers.CommandUpload}},
		{"Photo without file", handlers.Event{Kind: handlers.KindPhoto, ChatID: 1, UserID: 1}},
		{"Callback without data", handlers.Event{Kind: handlers.KindCallback, ChatID: 1, UserID: 1}},
		{"Unknown kind", handlers.Event{Kind: "sticker", ChatID: 1, UserID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			f := newFixture(t, time.Minute)
			f.handler.Handle(context.Background(), tt.event)
			require.Empty(t, f.messages(1))
			require.Zero(t, f.store.Len())
		})
	}
}
