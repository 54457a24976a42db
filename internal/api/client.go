// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the REST client.
type ClientError struct {
	Type    ErrorType
	Message string
	Status  int
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeUnreachable
	ErrTypeTimeout
	ErrTypeRejected
	ErrTypeInvalidResponse
	ErrTypeLocalFile
)

// Sentinel errors for easy checking.
var (
	ErrUnreachable = &ClientError{Type: ErrTypeUnreachable, Message: "Luna server is not reachable"}
	ErrTimeout     = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrNoFiles     = errors.New("no files to upload")
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the REST client.
type ClientConfig struct {
	// BaseURL is the Luna server base URL (default: http://127.0.0.1:5000)
	BaseURL string

	// Timeout for JSON requests (default: 15s)
	Timeout time.Duration

	// UploadTimeout for file uploads (default: 5m)
	UploadTimeout time.Duration

	// Logger receives request failures (default: logrus standard logger)
	Logger logrus.FieldLogger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:       "http://127.0.0.1:5000",
		Timeout:       15 * time.Second,
		UploadTimeout: 5 * time.Minute,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the REST routes of the Luna server: conversation lists,
// history, uploads and saved responses.
//
// The Client is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewClient creates a client with custom configuration. Zero fields take
// their defaults.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	d := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = d.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = d.Timeout
	}
	if config.UploadTimeout == 0 {
		config.UploadTimeout = d.UploadTimeout
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{},
		log:        config.Logger.WithField("component", "api"),
	}
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// Conversations returns room -> conversation ids for user.
func (c *Client) Conversations(ctx context.Context, user string) (map[string][]string, error) {
	var out map[string][]string
	if err := c.getJSON(ctx, "/conversations/"+url.PathEscape(user), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string][]string{}
	}
	return out, nil
}

// History returns the messages of one conversation in order.
func (c *Client) History(ctx context.Context, user, room, conversationID string) ([]HistoryMessage, error) {
	path := "/history/" + url.PathEscape(user) + "/" + url.PathEscape(room) + "/" + url.PathEscape(conversationID)
	var out []HistoryMessage
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// UPLOAD
// =============================================================================

// Upload sends files as the multipart "files" field and returns the
// server's reply text.
func (c *Client) Upload(ctx context.Context, paths ...string) (string, error) {
	if len(paths) == 0 {
		return "", ErrNoFiles
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range paths {
		if err := addFile(w, p); err != nil {
			return "", &ClientError{Type: ErrTypeLocalFile, Message: "failed to read " + p, Cause: err}
		}
	}
	if err := w.Close(); err != nil {
		return "", &ClientError{Type: ErrTypeLocalFile, Message: "failed to build upload", Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.UploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/upload", &body)
	if err != nil {
		return "", &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode != http.StatusOK {
		return "", c.rejected("upload failed", resp, strings.TrimSpace(string(text)))
	}

	c.log.WithFields(logrus.Fields{
		"event": "UPLOAD_OK",
		"files": len(paths),
	}).Info("files uploaded")
	return strings.TrimSpace(string(text)), nil
}

func addFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// =============================================================================
// SAVED RESPONSES
// =============================================================================

// SaveResponse stores content for user and room on the server.
func (c *Client) SaveResponse(ctx context.Context, user, room, content string) error {
	payload, err := json.Marshal(SaveRequest{Content: content, User: user, Room: room})
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to encode request", Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/save_response", bytes.NewReader(payload))
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var reply MessageReply
		_ = json.NewDecoder(resp.Body).Decode(&reply)
		return c.rejected("save failed", resp, reply.Message)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.rejected("request failed", resp, "")
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err == nil {
		return resp, nil
	}
	c.log.WithFields(logrus.Fields{
		"event": "REQUEST_FAILED",
		"path":  req.URL.Path,
	}).WithError(err).Warn("request failed")

	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	return nil, &ClientError{Type: ErrTypeUnreachable, Message: ErrUnreachable.Message, Cause: err}
}

func (c *Client) rejected(what string, resp *http.Response, detail string) *ClientError {
	msg := fmt.Sprintf("%s: %s", what, resp.Status)
	if detail != "" {
		msg += " (" + detail + ")"
	}
	return &ClientError{Type: ErrTypeRejected, Message: msg, Status: resp.StatusCode}
}

// IsUnreachable checks if an error indicates the server could not be reached.
func IsUnreachable(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeUnreachable
	}
	return false
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeTimeout
	}
	return false
}

// IsRejected checks if the server answered with a non-200 status.
func IsRejected(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeRejected
	}
	return false
}
