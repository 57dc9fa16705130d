// Package client implements the assessment backend collaborators over the
// server's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/models"
)

const defaultTimeout = 2 * time.Minute

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to /api/v1/assessments/{token}/... on one server.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ assessment.Backend = (*Client)(nil)

// New returns a client for baseURL. A nil httpClient gets a default with a
// two minute timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) endpoint(token, path string) string {
	return c.baseURL + "/api/v1/assessments/" + url.PathEscape(token) + "/" + path
}

func (c *Client) ValidateSession(ctx context.Context, token string) (assessment.Validation, error) {
	var v assessment.Validation
	if err := c.do(ctx, http.MethodGet, c.endpoint(token, "validate"), nil, "", &v); err != nil {
		return assessment.Validation{}, fmt.Errorf("validate session: %w", err)
	}
	return v, nil
}

func (c *Client) StartSession(ctx context.Context, token string) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(token, "start"), nil, &resp); err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return resp.SessionID, nil
}

func (c *Client) Questions(ctx context.Context, token string) (assessment.QuestionSet, error) {
	var set assessment.QuestionSet
	if err := c.do(ctx, http.MethodGet, c.endpoint(token, "questions"), nil, "", &set); err != nil {
		return assessment.QuestionSet{}, fmt.Errorf("fetch questions: %w", err)
	}
	pending(set.MCQ)
	pending(set.Voice)
	return set, nil
}

// pending resets progress fields; a fetched set always starts unanswered.
func pending(qs []assessment.Question) {
	for i := range qs {
		qs[i].Status = assessment.StatusPending
		qs[i].UserAnswer = nil
	}
}

func (c *Client) SaveAnswer(ctx context.Context, token, questionID, value string) error {
	body := models.SaveAnswerRequest{Value: value}
	err := c.doJSON(ctx, http.MethodPatch, c.endpoint(token, "answers/"+url.PathEscape(questionID)), body, nil)
	if err != nil {
		return classify(fmt.Errorf("save answer %s: %w", questionID, err), assessment.ErrPersistAnswerFailed)
	}
	return nil
}

func (c *Client) CompleteMCQ(ctx context.Context, token string, score int) error {
	body := models.CompleteMCQRequest{Score: score}
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(token, "mcq/complete"), body, nil); err != nil {
		return classify(fmt.Errorf("complete mcq: %w", err), assessment.ErrPersistAnswerFailed)
	}
	return nil
}

func (c *Client) SubmitVoiceAnswer(ctx context.Context, token string, sub assessment.VoiceSubmission) (assessment.VoiceResult, error) {
	fields := map[string]string{
		"question_id":  sub.QuestionID,
		"skipped":      strconv.FormatBool(sub.Skipped),
		"duration_sec": strconv.FormatFloat(sub.Duration.Seconds(), 'f', 3, 64),
	}
	files := map[string]*assessment.Blob{}
	if !sub.Skipped && sub.Audio != nil {
		files["audio"] = sub.Audio
	}

	var result assessment.VoiceResult
	if err := c.doMultipart(ctx, c.endpoint(token, "voice-answers"), fields, files, &result); err != nil {
		return assessment.VoiceResult{}, classify(fmt.Errorf("submit voice answer %s: %w", sub.QuestionID, err), assessment.ErrUploadFailed)
	}
	return result, nil
}

func (c *Client) UploadRecording(ctx context.Context, token string, camera, screen *assessment.Blob) (string, error) {
	files := map[string]*assessment.Blob{}
	if camera.Size() > 0 {
		files["camera"] = camera
	}
	if screen.Size() > 0 {
		files["screen"] = screen
	}
	if len(files) == 0 {
		return "", fmt.Errorf("upload recording: nothing recorded: %w", assessment.ErrUploadFailed)
	}

	var resp struct {
		RecordingID string `json:"recording_id"`
	}
	if err := c.doMultipart(ctx, c.endpoint(token, "recordings"), nil, files, &resp); err != nil {
		return "", classify(fmt.Errorf("upload recording: %w", err), assessment.ErrUploadFailed)
	}
	return resp.RecordingID, nil
}

func (c *Client) ReportViolation(ctx context.Context, token string, v assessment.Violation) error {
	body := models.ViolationRequest{Type: string(v.Type), Timestamp: v.Timestamp}
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(token, "violations"), body, nil); err != nil {
		return classify(fmt.Errorf("report violation: %w", err), nil)
	}
	return nil
}

func (c *Client) CompleteVoice(ctx context.Context, token, recordingID string) error {
	body := models.CompleteVoiceRequest{RecordingID: recordingID}
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(token, "voice/complete"), body, nil); err != nil {
		return classify(fmt.Errorf("complete assessment: %w", err), nil)
	}
	return nil
}

// classify tags err with ErrTokenInvalid when the server rejected the link,
// otherwise with fallback (if any).
func classify(err error, fallback error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusGone) {
		return fmt.Errorf("%w: %w", assessment.ErrTokenInvalid, err)
	}
	if fallback == nil {
		return err
	}
	return fmt.Errorf("%w: %w", fallback, err)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	return c.do(ctx, method, endpoint, r, "application/json", out)
}

func (c *Client) doMultipart(ctx context.Context, endpoint string, fields map[string]string, files map[string]*assessment.Blob, out interface{}) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return err
		}
	}
	for name, blob := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, name, name+assessment.ExtensionFor(blob.MimeType)))
		h.Set("Content-Type", mimeOrDefault(blob.MimeType))
		part, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		if _, err := part.Write(blob.Data); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	return c.do(ctx, http.MethodPost, endpoint, &buf, mw.FormDataContentType(), out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope models.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func mimeOrDefault(mimeType string) string {
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
