package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func fastRetry(s *WebhookSender) *WebhookSender {
	s.client.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)
	return s
}

func TestWebhookSender_SignsBody(t *testing.T) {
	var (
		gotBody []byte
		gotSig  string
		gotKind string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		gotKind = r.Header.Get(KindHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := NewWebhookSender(srv.URL, "s3cret", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n := Notice{ID: uuid.New(), Kind: KindMaintenanceOverdue, BedID: "B2", CreatedAt: time.Now().UTC()}
	if err := s.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotKind != string(KindMaintenanceOverdue) {
		t.Errorf("expected kind header, got %q", gotKind)
	}
	if !VerifySignature(gotBody, "s3cret", gotSig) {
		t.Errorf("signature %q does not verify", gotSig)
	}
	if VerifySignature(gotBody, "other", gotSig) {
		t.Error("signature must not verify under another secret")
	}
	var decoded Notice
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.BedID != "B2" {
		t.Errorf("expected bed B2, got %q", decoded.BedID)
	}
}

func TestWebhookSender_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _ := NewWebhookSender(srv.URL, "", nil)
	if err := fastRetry(s).Send(context.Background(), Notice{Kind: KindTransferRequested}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestWebhookSender_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s, _ := NewWebhookSender(srv.URL, "", nil)
	if err := fastRetry(s).Send(context.Background(), Notice{Kind: KindTransferRequested}); err == nil {
		t.Fatal("expected error for 401")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single call, got %d", got)
	}
}

func TestWebhookSender_EventFilter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	s, _ := NewWebhookSender(srv.URL, "", []string{"maintenance.*"})
	ctx := context.Background()
	if err := s.Send(ctx, Notice{Kind: KindTransferRequested}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Send(ctx, Notice{Kind: KindMaintenanceDue}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected only the maintenance notice to be posted, got %d calls", got)
	}
}

func TestKindMatches(t *testing.T) {
	tests := []struct {
		pattern, kind string
		want          bool
	}{
		{"*", "waitlist.matched", true},
		{"waitlist.matched", "waitlist.matched", true},
		{"maintenance.*", "maintenance.overdue", true},
		{"maintenance.*", "transfer.requested", false},
		{"*.overdue", "maintenance.overdue", true},
		{"*.overdue", "maintenance.due", false},
	}
	for _, tt := range tests {
		if got := kindMatches(tt.pattern, tt.kind); got != tt.want {
			t.Errorf("kindMatches(%q, %q) = %v, want %v", tt.pattern, tt.kind, got, tt.want)
		}
	}
}

func TestNewWebhookSender_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/hook", "not a url", "http://"} {
		if _, err := NewWebhookSender(raw, "", nil); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}
