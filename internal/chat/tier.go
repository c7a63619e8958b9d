package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ashureev/truthguard-chat/internal/domain"
)

// maxReplyBodySize caps how much of an endpoint reply is read.
const maxReplyBodySize = 1 << 20

const (
	modelUnknown  = "unknown"
	modelSimple   = "simple"
	modelFallback = "fallback"
)

var errEmptyReply = errors.New("empty response")

// Request is what a tier is asked to answer.
type Request struct {
	SessionID string
	Message   string
}

// Reply is a tier's answer.
type Reply struct {
	Text   string
	Model  string
	Source domain.Source
}

// Tier is one remote source of chat replies.
type Tier interface {
	// Source identifies the tier in messages and logs.
	Source() domain.Source
	// Reply makes a single attempt. It returns *NetworkError or
	// *ApplicationError on failure.
	Reply(ctx context.Context, req Request) (Reply, error)
}

type tierRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type tierResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Model    string `json:"model"`
	Error    string `json:"error"`
}

// HTTPTier calls a JSON chat endpoint.
type HTTPTier struct {
	source      domain.Source
	endpoint    string
	client      *http.Client
	sendSession bool
	fixedModel  string
	policy      *bluemonday.Policy
}

// NewPrimaryTier creates the tier for the full chat endpoint. The session ID
// is sent with every request and the endpoint reports its model.
func NewPrimaryTier(endpoint string, client *http.Client) *HTTPTier {
	return newHTTPTier(domain.SourcePrimary, endpoint, client, true, "")
}

// NewSecondaryTier creates the tier for the simple chat endpoint. Its model
// is always reported as "simple".
func NewSecondaryTier(endpoint string, client *http.Client) *HTTPTier {
	return newHTTPTier(domain.SourceSecondary, endpoint, client, false, modelSimple)
}

func newHTTPTier(source domain.Source, endpoint string, client *http.Client, sendSession bool, fixedModel string) *HTTPTier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTier{
		source:      source,
		endpoint:    endpoint,
		client:      client,
		sendSession: sendSession,
		fixedModel:  fixedModel,
		policy:      bluemonday.UGCPolicy(),
	}
}

// Source implements Tier.
func (t *HTTPTier) Source() domain.Source {
	return t.source
}

// Endpoint returns the URL the tier posts to.
func (t *HTTPTier) Endpoint() string {
	return t.endpoint
}

// Reply implements Tier.
func (t *HTTPTier) Reply(ctx context.Context, req Request) (Reply, error) {
	body := tierRequest{Message: req.Message}
	if t.sendSession {
		body.SessionID = req.SessionID
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Reply{}, t.networkErr(0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, t.networkErr(0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Reply{}, t.networkErr(0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBodySize))
	if err != nil {
		return Reply{}, t.networkErr(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Reply{}, t.networkErr(resp.StatusCode, fmt.Errorf("non-success status body=%s", truncate(string(raw), 200)))
	}

	var parsed tierResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Reply{}, t.networkErr(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	if !parsed.Success {
		msg := parsed.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return Reply{}, &ApplicationError{Endpoint: t.endpoint, Message: msg}
	}

	text := strings.TrimSpace(t.policy.Sanitize(parsed.Response))
	if text == "" {
		return Reply{}, &ApplicationError{Endpoint: t.endpoint, Message: errEmptyReply.Error()}
	}

	model := t.fixedModel
	if model == "" {
		model = parsed.Model
	}
	if model == "" {
		model = modelUnknown
	}

	return Reply{Text: text, Model: model, Source: t.source}, nil
}

func (t *HTTPTier) networkErr(status int, err error) *NetworkError {
	return &NetworkError{Endpoint: t.endpoint, StatusCode: status, Err: err}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
