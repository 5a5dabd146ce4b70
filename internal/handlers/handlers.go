package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Brownie44l1/xray-bot/internal/feedback"
	"github.com/Brownie44l1/xray-bot/internal/model"
	"github.com/Brownie44l1/xray-bot/internal/session"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrTimeout           = errors.New("analysis timed out")

	errNotAnImage = errors.New("text instead of image")
)

var allowedExtensions = []string{"jpg", "jpeg", "png"}

const ratingPrefix = "rating_"

// Handler drives the per-session conversation: /upload, file validation,
// normalisation, inference and result delivery. Every failure is turned into
// a user-visible message here.
type Handler struct {
	log        *slog.Logger
	gateway    Gateway
	sessions   session.Store
	normalizer Normalizer
	predictor  model.Predictor
	feedback   feedback.Log
	timeout    time.Duration
	validate   *validator.Validate
}

func NewHandler(
	log *slog.Logger,
	gateway Gateway,
	sessions session.Store,
	normalizer Normalizer,
	predictor model.Predictor,
	feedbackLog feedback.Log,
	timeout time.Duration,
) *Handler {
	return &Handler{
		log:        log,
		gateway:    gateway,
		sessions:   sessions,
		normalizer: normalizer,
		predictor:  predictor,
		feedback:   feedbackLog,
		timeout:    timeout,
		validate:   validator.New(),
	}
}

func (h *Handler) Handle(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Handler panicked", "chat_id", ev.ChatID, "kind", ev.Kind, "panic", r)
		}
	}()

	if err := h.validate.Struct(ev); err != nil {
		h.log.Warn("Dropping invalid event", "kind", ev.Kind, "chat_id", ev.ChatID, "error", err)
		return
	}

	switch ev.Kind {
	case KindCommand:
		h.handleCommand(ctx, ev)
	case KindCallback:
		h.handleCallback(ctx, ev)
	default:
		h.handleContent(ctx, ev)
	}
}

func (h *Handler) handleCommand(ctx context.Context, ev Event) {
	switch ev.Command {
	case CommandStart:
		h.send(ctx, ev.ChatID, msgStart)
	case CommandUpload:
		if err := h.sessions.Set(ctx, ev.SessionID(), session.WaitingForFile); err != nil {
			h.log.Error("Failed to open session", "session", ev.SessionID().String(), "error", err)
			h.send(ctx, ev.ChatID, msgProcessingErr)
			return
		}
		h.send(ctx, ev.ChatID, msgUploadPrompt)
	case CommandStatus:
		h.send(ctx, ev.ChatID, h.status(ctx, ev.SessionID()))
	case CommandFeedback:
		buttons := lo.Map(lo.RangeFrom(feedback.MinRating, feedback.MaxRating-feedback.MinRating+1), func(n int, _ int) Button {
			return Button{Text: strings.Repeat("⭐️", n), Data: ratingPrefix + strconv.Itoa(n)}
		})
		if err := h.gateway.SendKeyboard(ctx, ev.ChatID, ev.MessageID, msgFeedbackPrompt, buttons); err != nil {
			h.log.Warn("Failed to send feedback keyboard", "chat_id", ev.ChatID, "error", err)
		}
	default:
		h.send(ctx, ev.ChatID, msgHelp)
	}
}

func (h *Handler) status(ctx context.Context, id session.ID) string {
	state, err := h.sessions.Get(ctx, id)
	if err != nil {
		h.log.Error("Failed to read session", "session", id.String(), "error", err)
		return msgNoRequest
	}
	if state == session.ProcessingFile {
		return msgStillRunning
	}
	return msgNoRequest
}

func (h *Handler) handleCallback(ctx context.Context, ev Event) {
	defer func() {
		if ev.CallbackID == "" {
			return
		}
		if err := h.gateway.AnswerCallback(ctx, ev.CallbackID); err != nil {
			h.log.Debug("Failed to answer callback", "error", err)
		}
	}()

	rating, ok := parseRating(ev.CallbackData)
	if !ok {
		h.log.Warn("Unknown callback", "data", ev.CallbackData, "chat_id", ev.ChatID)
		return
	}

	entry := feedback.Entry{UserID: ev.UserID, Rating: rating, At: time.Now().UTC()}
	if err := h.feedback.Append(ctx, entry); err != nil {
		h.log.Error("Failed to store feedback", "user_id", ev.UserID, "error", err)
	}
	if err := h.gateway.EditMessage(ctx, ev.ChatID, ev.MessageID, msgThanksForRating(rating)); err != nil {
		h.log.Warn("Failed to edit feedback message", "chat_id", ev.ChatID, "error", err)
	}
}

func parseRating(data string) (int, bool) {
	raw, ok := strings.CutPrefix(data, ratingPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < feedback.MinRating || n > feedback.MaxRating {
		return 0, false
	}
	return n, true
}

func (h *Handler) handleContent(ctx context.Context, ev Event) {
	id := ev.SessionID()
	state, err := h.sessions.Get(ctx, id)
	if err != nil {
		h.log.Error("Failed to read session", "session", id.String(), "error", err)
		h.send(ctx, ev.ChatID, msgProcessingErr)
		return
	}

	switch state {
	case session.None:
		h.log.Debug("Ignoring content outside an upload", "session", id.String(), "kind", ev.Kind)
		return
	case session.ProcessingFile:
		h.send(ctx, ev.ChatID, msgStillRunning)
		return
	}

	switch err := accept(ev); {
	case errors.Is(err, errNotAnImage):
		h.send(ctx, ev.ChatID, msgSendImage)
	case errors.Is(err, ErrUnsupportedFormat):
		h.log.Debug("Rejected document", "session", id.String(), "file_name", ev.FileName)
		h.send(ctx, ev.ChatID, msgWrongFormat)
	default:
		h.analyze(ctx, ev)
	}
}

// accept applies the upload policy: photos always pass, documents only with
// a jpg, jpeg or png extension, anything else is rejected.
func accept(ev Event) error {
	switch ev.Kind {
	case KindPhoto:
		return nil
	case KindDocument:
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(ev.FileName), "."))
		if !lo.Contains(allowedExtensions, ext) {
			return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ev.FileName)
		}
		return nil
	default:
		return errNotAnImage
	}
}

func (h *Handler) analyze(ctx context.Context, ev Event) {
	id := ev.SessionID()
	log := h.log.With("analysis_id", uuid.NewString(), "session", id.String())

	reply := func() string {
		// Runs on every exit path, panics included.
		defer h.reset(ctx, id, log)

		if err := h.sessions.Set(ctx, id, session.ProcessingFile); err != nil {
			log.Error("Failed to mark session as processing", "error", err)
			return msgProcessingErr
		}

		h.send(ctx, ev.ChatID, msgAccepted)
		if err := h.gateway.SendTyping(ctx, ev.ChatID); err != nil {
			log.Debug("Failed to send typing indicator", "error", err)
		}

		start := time.Now()
		score, err := h.runPipeline(ctx, ev.FileID)
		if err != nil {
			log.Warn("Analysis failed", "error", err, "duration", time.Since(start))
			return failureMessage(err)
		}

		label := score.Label()
		log.Info("Analysis complete", "score", float32(score), "label", label.String(), "duration", time.Since(start))
		return resultMessage(label)
	}()

	h.send(context.WithoutCancel(ctx), ev.ChatID, reply)
}

type pipelineResult struct {
	score model.Score
	err   error
}

// runPipeline fetches, normalises and classifies one file within the
// configured deadline. The model call cannot be interrupted, so on expiry its
// eventual result is dropped.
func (h *Handler) runPipeline(ctx context.Context, fileID string) (model.Score, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	done := make(chan pipelineResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- pipelineResult{err: fmt.Errorf("%w: panic: %v", model.ErrInference, r)}
			}
		}()

		raw, err := h.gateway.FetchFile(ctx, fileID)
		if err != nil {
			done <- pipelineResult{err: fmt.Errorf("fetch file: %w", err)}
			return
		}
		tensor, err := h.normalizer.Normalize(raw)
		if err != nil {
			done <- pipelineResult{err: err}
			return
		}
		score, err := h.predictor.Predict(tensor)
		if err == nil && !score.Valid() {
			err = fmt.Errorf("%w: score %v outside [0,1]", model.ErrInference, float32(score))
		}
		done <- pipelineResult{score: score, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, h.timeoutError()
		}
		return r.score, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, h.timeoutError()
		}
		return 0, ctx.Err()
	}
}

func (h *Handler) timeoutError() error {
	return fmt.Errorf("%w after %s", ErrTimeout, h.timeout)
}

func (h *Handler) reset(ctx context.Context, id session.ID, log *slog.Logger) {
	if err := h.sessions.Delete(context.WithoutCancel(ctx), id); err != nil {
		log.Error("Failed to reset session", "error", err)
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return msgTimeout
	case errors.Is(err, model.ErrInference):
		return msgAnalysisErr
	default:
		return msgProcessingErr
	}
}

func resultMessage(label model.Label) string {
	if label == model.FracturePresent {
		return msgResultPresent
	}
	return msgResultAbsent
}

func (h *Handler) send(ctx context.Context, chatID int64, text string) {
	if err := h.gateway.SendText(ctx, chatID, text); err != nil {
		h.log.Warn("Failed to send message", "chat_id", chatID, "error", err)
	}
}
