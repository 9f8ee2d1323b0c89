package provider_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/groundgame/textrelay/internal/config"
	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/provider"
)

func newTwilio(baseURL string, maxAttempts int, rec *provider.Recorder) *provider.TwilioAdapter {
	cfg := config.ProviderConfig{
		BaseURL:         baseURL,
		TimeoutMs:       2000,
		MaxSendAttempts: maxAttempts,
		Breaker:         config.BreakerConfig{FailThreshold: 10, OpenForMs: 100},
	}
	return provider.NewTwilioAdapter(cfg, "https://hooks.example.com", 30*time.Second, rec)
}

func TestTwilioSendAcknowledged(t *testing.T) {
	t.Parallel()

	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/Accounts/AC0123456789/Messages.json") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, _ := r.BasicAuth()
		if user != "AC0123456789" || pass != "secret-token" {
			t.Errorf("basic auth = %s/%s", user, pass)
		}
		_ = r.ParseForm()
		gotForm = r.PostForm
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM900","status":"queued","num_segments":"1"}`))
	}))
	defer srv.Close()

	rec, messages, events := newRecorder()
	a := newTwilio(srv.URL, 3, rec)

	msg := outboundMessage()
	if err := a.SendMessage(context.Background(), msg, messagingService(model.ServiceTwilio)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if messages.sentCalls != 1 || messages.sentID != "SM900" {
		t.Fatalf("sentCalls=%d sentID=%q, want 1/SM900", messages.sentCalls, messages.sentID)
	}
	if messages.errCalls != 0 {
		t.Fatalf("errCalls = %d, want 0", messages.errCalls)
	}
	if events.appended == 0 {
		t.Fatal("expected the send response to be appended to the event log")
	}
	if got := gotForm.Get("To"); got != msg.ContactNumber {
		t.Errorf("To = %q, want %q", got, msg.ContactNumber)
	}
	// The callback must hit the /status route the server actually registers.
	if got := gotForm.Get("StatusCallback"); got != "https://hooks.example.com/webhooks/twilio/status" {
		t.Errorf("StatusCallback = %q, want the served status route", got)
	}
}

func TestTwilioSendPermanentRejection(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	rec, messages, _ := newRecorder()
	a := newTwilio(srv.URL, 3, rec)

	if err := a.SendMessage(context.Background(), outboundMessage(), messagingService(model.ServiceTwilio)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry after a 4xx)", calls)
	}
	if messages.errCalls != 1 || messages.errorCode != "21211" {
		t.Fatalf("errCalls=%d code=%q, want 1/21211", messages.errCalls, messages.errorCode)
	}
}

func TestTwilioSendTransientExhaustsBudget(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec, messages, _ := newRecorder()
	a := newTwilio(srv.URL, 3, rec)

	if err := a.SendMessage(context.Background(), outboundMessage(), messagingService(model.ServiceTwilio)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if messages.errCalls != 1 || messages.errorCode != "503" {
		t.Fatalf("errCalls=%d code=%q, want 1/503", messages.errCalls, messages.errorCode)
	}
}

func TestTwilioSendSpendsFullBudgetAcrossOpenBreaker(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec, messages, _ := newRecorder()
	// Trips after two failures, well before the four-attempt budget: later
	// attempts must wait the window out, not burn themselves on it.
	a := provider.NewTwilioAdapter(config.ProviderConfig{
		BaseURL:         srv.URL,
		TimeoutMs:       2000,
		MaxSendAttempts: 4,
		Breaker:         config.BreakerConfig{FailThreshold: 2, OpenForMs: 30},
	}, "https://hooks.example.com", 30*time.Second, rec)

	if err := a.SendMessage(context.Background(), outboundMessage(), messagingService(model.ServiceTwilio)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if calls != 4 {
		t.Fatalf("carrier calls = %d, want all 4 budgeted attempts", calls)
	}
	if messages.errCalls != 1 || messages.errorCode != "503" {
		t.Fatalf("errCalls=%d code=%q, want 1/503", messages.errCalls, messages.errorCode)
	}
}

func TestTwilioSendOpenBreakerCancelledContextLeavesRowUnsettled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec, messages, _ := newRecorder()
	a := provider.NewTwilioAdapter(config.ProviderConfig{
		BaseURL:         srv.URL,
		TimeoutMs:       2000,
		MaxSendAttempts: 1,
		Breaker:         config.BreakerConfig{FailThreshold: 1, OpenForMs: 60000},
	}, "https://hooks.example.com", 30*time.Second, rec)

	// First message fails once and trips the breaker.
	if err := a.SendMessage(context.Background(), outboundMessage(), messagingService(model.ServiceTwilio)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if messages.errCalls != 1 {
		t.Fatalf("errCalls = %d, want 1 after the exhausted first send", messages.errCalls)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.SendMessage(ctx, outboundMessage(), messagingService(model.ServiceTwilio)); err == nil {
		t.Fatal("want the wait to surface ctx expiry instead of settling the row")
	}
	if messages.errCalls != 1 || messages.sentCalls != 0 {
		t.Fatalf("errCalls=%d sentCalls=%d, want the second message left unsettled", messages.errCalls, messages.sentCalls)
	}
}

func TestTwilioParseWebhookInbound(t *testing.T) {
	t.Parallel()

	rec, _, _ := newRecorder()
	a := newTwilio("https://api.twilio.com", 3, rec)

	form := url.Values{}
	form.Set("MessageSid", "SM111")
	form.Set("From", "+1 (555) 555-0100")
	form.Set("To", "5555559999")
	form.Set("Body", "hi there")
	form.Set("NumMedia", "2")
	body := []byte(form.Encode())

	wh, err := a.ParseWebhook("application/x-www-form-urlencoded", body, form)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if len(wh.Parts) != 1 || len(wh.Reports) != 0 {
		t.Fatalf("parts=%d reports=%d, want 1/0", len(wh.Parts), len(wh.Reports))
	}

	part := wh.Parts[0]
	if part.ParentID != "SM111" || part.PartIndex != 0 || part.PartTotal != 1 {
		t.Errorf("part group = %q/%d/%d, want SM111/0/1", part.ParentID, part.PartIndex, part.PartTotal)
	}
	if part.ContactNumber != "+15555550100" {
		t.Errorf("ContactNumber = %q, want normalized +15555550100", part.ContactNumber)
	}
	if part.UserNumber != "+15555559999" {
		t.Errorf("UserNumber = %q, want normalized +15555559999", part.UserNumber)
	}
	if part.NumMedia != 2 {
		t.Errorf("NumMedia = %d, want 2", part.NumMedia)
	}
}

func TestTwilioParseWebhookReport(t *testing.T) {
	t.Parallel()

	rec, _, _ := newRecorder()
	a := newTwilio("https://api.twilio.com", 3, rec)

	cases := []struct {
		status  string
		outcome model.ReportOutcome
	}{
		{"delivered", model.OutcomeDelivered},
		{"failed", model.OutcomeFailed},
		{"undelivered", model.OutcomeFailed},
		{"sent", model.OutcomeProgress},
		{"queued", model.OutcomeProgress},
	}

	for _, tc := range cases {
		form := url.Values{}
		form.Set("MessageSid", "SM222")
		form.Set("MessageStatus", tc.status)
		form.Set("NumSegments", "3")

		wh, err := a.ParseWebhook("application/x-www-form-urlencoded", []byte(form.Encode()), form)
		if err != nil {
			t.Fatalf("ParseWebhook(%s): %v", tc.status, err)
		}
		if len(wh.Reports) != 1 || len(wh.Parts) != 0 {
			t.Fatalf("status %s: parts=%d reports=%d, want 0/1", tc.status, len(wh.Parts), len(wh.Reports))
		}
		r := wh.Reports[0]
		if r.Outcome != tc.outcome {
			t.Errorf("status %s: outcome = %v, want %v", tc.status, r.Outcome, tc.outcome)
		}
		if r.ServiceID != "SM222" || r.NumSegments != 3 {
			t.Errorf("status %s: service_id=%q segments=%d", tc.status, r.ServiceID, r.NumSegments)
		}
	}
}

func twilioSign(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(fullURL)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioVerifySignature(t *testing.T) {
	t.Parallel()

	rec, _, _ := newRecorder()
	a := newTwilio("https://api.twilio.com", 3, rec)
	svc := messagingService(model.ServiceTwilio)

	form := url.Values{}
	form.Set("MessageSid", "SM333")
	form.Set("MessageStatus", "delivered")
	body := []byte(form.Encode())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(form.Encode()))
	req.Header.Set("X-Twilio-Signature",
		twilioSign(svc.AuthToken, "https://hooks.example.com/webhooks/twilio/status", form))

	if !a.VerifySignature(req, body, svc) {
		t.Fatal("valid signature rejected")
	}

	req.Header.Set("X-Twilio-Signature",
		twilioSign("wrong-token", "https://hooks.example.com/webhooks/twilio/status", form))
	if a.VerifySignature(req, body, svc) {
		t.Fatal("forged signature accepted")
	}

	req.Header.Del("X-Twilio-Signature")
	if a.VerifySignature(req, body, svc) {
		t.Fatal("unsigned request accepted")
	}
	if a.VerifySignature(req, body, nil) {
		t.Fatal("request without service context accepted")
	}
}
