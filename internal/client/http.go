// Package client talks to the transcription backend's REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultUploadTimeout = 120 * time.Second
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Options configures an HTTPClient. Zero durations take the defaults.
type Options struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	UploadTimeout time.Duration
	Logger        *slog.Logger
}

// HTTPClient makes REST calls to the transcription backend.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	upload  *http.Client
	log     *slog.Logger
}

// NewHTTPClient creates a client targeting opts.BaseURL (e.g. "http://localhost:8000").
func NewHTTPClient(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		client:  &http.Client{Timeout: opts.Timeout},
		upload:  &http.Client{Timeout: opts.UploadTimeout},
		log:     opts.Logger.With("component", "client"),
	}
}

// CreateMeeting sends POST /api/meetings/.
func (c *HTTPClient) CreateMeeting(ctx context.Context, in MeetingCreate) (*Meeting, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("create meeting: %w", err)
	}
	if in.Participants == nil {
		in.Participants = []string{}
	}
	var out Meeting
	if err := c.post(ctx, "/api/meetings/", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMeeting fetches /api/meetings/{id}.
func (c *HTTPClient) GetMeeting(ctx context.Context, meetingID string) (*Meeting, error) {
	var out Meeting
	if err := c.get(ctx, "/api/meetings/"+url.PathEscape(meetingID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTranscription fetches /api/transcriptions/{meetingID}. A meeting whose
// transcription does not exist yet yields an error matching ErrNotFound.
func (c *HTTPClient) GetTranscription(ctx context.Context, meetingID string) (*Transcription, error) {
	var out Transcription
	if err := c.get(ctx, "/api/transcriptions/"+url.PathEscape(meetingID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(c.client, req, path, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(c.client, req, path, out)
}

func (c *HTTPClient) do(hc *http.Client, req *http.Request, path string, out interface{}) error {
	c.setAuth(req)
	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()
	c.log.Debug("api response", "method", req.Method, "path", path,
		"status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode >= 300 {
		return responseError(req.Method, path, resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", req.Method, path, err)
		}
	}
	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
