package notification

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	SignatureHeader = "X-Bedengine-Signature"
	TimestampHeader = "X-Bedengine-Timestamp"
	KindHeader      = "X-Bedengine-Kind"
)

// WebhookSender POSTs each notice as JSON to an external endpoint, signed
// with HMAC-SHA256 over the body. Server errors and transport failures are
// retried; 4xx responses are not.
type WebhookSender struct {
	client *resty.Client
	url    string
	secret string
	events []string
}

// NewWebhookSender creates a sender for endpoint. events filters by notice
// kind ("transfer.requested", "maintenance.*", "*.overdue"); an empty list
// subscribes to every kind.
func NewWebhookSender(endpoint, secret string, events []string) (*WebhookSender, error) {
	if err := validateWebhookURL(endpoint); err != nil {
		return nil, err
	}
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &WebhookSender{client: client, url: endpoint, secret: secret, events: events}, nil
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url %q has no host", raw)
	}
	return nil
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, n Notice) error {
	if !s.subscribed(n.Kind) {
		return nil
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	req := s.client.R().
		SetContext(ctx).
		SetHeader(KindHeader, string(n.Kind)).
		SetHeader(TimestampHeader, n.CreatedAt.UTC().Format(time.RFC3339)).
		SetBody(body)
	if s.secret != "" {
		req.SetHeader(SignatureHeader, "sha256="+Sign(body, s.secret))
	}

	resp, err := req.Post(s.url)
	if err != nil {
		return fmt.Errorf("post %s: %w", s.url, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("post %s: status %d", s.url, resp.StatusCode())
	}
	return nil
}

func (s *WebhookSender) subscribed(k Kind) bool {
	if len(s.events) == 0 {
		return true
	}
	for _, pattern := range s.events {
		if kindMatches(pattern, string(k)) {
			return true
		}
	}
	return false
}

func kindMatches(pattern, kind string) bool {
	switch {
	case pattern == "*" || pattern == kind:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(kind, pattern[1:])
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(kind, pattern[:len(pattern)-1])
	}
	return false
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" header value against payload.
func VerifySignature(payload []byte, secret, header string) bool {
	sig := strings.TrimPrefix(header, "sha256=")
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(sig))
}
