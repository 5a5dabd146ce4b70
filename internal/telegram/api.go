package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	ErrTransport    = errors.New("telegram transport failure")
	ErrFileTooLarge = errors.New("telegram file too large")
)

// RequestError is a Bot API call that reached Telegram and was refused.
type RequestError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *RequestError) Error() string {
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		desc = "ok=false"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("telegram %s http %d: %s", e.Method, e.StatusCode, desc)
	}
	return fmt.Sprintf("telegram %s: %s", e.Method, desc)
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

type API struct {
	http    *http.Client
	baseURL string
	token   string
}

func NewAPI(httpClient *http.Client, baseURL, token string) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &API{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// call posts a JSON body to a Bot API method and decodes the result into out.
func (api *API) call(ctx context.Context, method string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", api.baseURL, api.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := api.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, method, err)
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, method, err)
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.OK {
		desc := env.Description
		if desc == "" && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
			desc = strings.TrimSpace(string(raw))
		}
		return &RequestError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorCode:   env.ErrorCode,
			Description: desc,
		}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

// GetUpdates long-polls for updates starting at offset and returns the next
// offset to ask for.
func (api *API) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(secs)*time.Second+5*time.Second)
	defer cancel()

	var updates []Update
	body := getUpdatesRequest{
		Offset:         offset,
		Timeout:        secs,
		AllowedUpdates: []string{"message", "callback_query"},
	}
	if err := api.call(reqCtx, "getUpdates", body, &updates); err != nil {
		return nil, offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

func (api *API) SendMessage(ctx context.Context, req sendMessageRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		req.Text = "(empty)"
	}
	return api.call(ctx, "sendMessage", req, nil)
}

func (api *API) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	if messageID == 0 {
		return fmt.Errorf("missing message_id")
	}
	return api.call(ctx, "editMessageText", editMessageTextRequest{ChatID: chatID, MessageID: messageID, Text: text}, nil)
}

func (api *API) SendChatAction(ctx context.Context, chatID int64, action string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		action = "typing"
	}
	return api.call(ctx, "sendChatAction", sendChatActionRequest{ChatID: chatID, Action: action}, nil)
}

func (api *API) AnswerCallbackQuery(ctx context.Context, id string) error {
	return api.call(ctx, "answerCallbackQuery", answerCallbackQueryRequest{CallbackQueryID: id}, nil)
}

func (api *API) GetFile(ctx context.Context, fileID string) (*File, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return nil, fmt.Errorf("missing file_id")
	}
	var file File
	if err := api.call(ctx, "getFile", getFileRequest{FileID: fileID}, &file); err != nil {
		return nil, err
	}
	if strings.TrimSpace(file.FilePath) == "" {
		return nil, fmt.Errorf("telegram getFile: missing file_path")
	}
	return &file, nil
}

// Download reads a file previously resolved with GetFile, refusing anything
// larger than maxBytes.
func (api *API) Download(ctx context.Context, filePath string, maxBytes int64) ([]byte, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return nil, fmt.Errorf("missing file_path")
	}
	if maxBytes <= 0 {
		maxBytes = 20 * 1024 * 1024
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", api.baseURL, api.token, strings.TrimLeft(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := api.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RequestError{Method: "download", StatusCode: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: download: %w", ErrTransport, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (>%d bytes)", ErrFileTooLarge, maxBytes)
	}
	return data, nil
}

func isPollTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
