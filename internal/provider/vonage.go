package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/groundgame/textrelay/internal/config"
	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/util"
)

// VonageAdapter speaks the Vonage (Nexmo) SMS API. Unlike Twilio, Vonage
// hands concatenated SMS to the webhook one physical part at a time with
// concat-ref/part/total fields, so inbound groups here can be multi-part.
// Webhooks are authenticated by an HMAC `sig` parameter over sorted params.
type VonageAdapter struct {
	baseURL     string
	webhookBase string
	maxAttempts int
	maxValidity time.Duration
	padding     time.Duration
	client      *http.Client
	br          *carrierBreaker
	rec         *Recorder
}

func NewVonageAdapter(cfg config.ProviderConfig, webhookBase string, padding time.Duration, rec *Recorder) *VonageAdapter {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	attempts := cfg.MaxSendAttempts
	if attempts <= 0 {
		attempts = 5
	}

	return &VonageAdapter{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		webhookBase: strings.TrimRight(webhookBase, "/"),
		maxAttempts: attempts,
		maxValidity: cfg.MaxValidityPeriod,
		padding:     padding,
		client:      &http.Client{Timeout: timeout},
		br:          newCarrierBreaker(cfg.Breaker.FailThreshold, time.Duration(cfg.Breaker.OpenForMs)*time.Millisecond),
		rec:         rec,
	}
}

var _ Adapter = (*VonageAdapter)(nil)

func (a *VonageAdapter) Name() model.ServiceType { return model.ServiceVonage }
func (a *VonageAdapter) MaxSendAttempts() int    { return a.maxAttempts }

type vonageSendResponse struct {
	Messages []struct {
		MessageID string `json:"message-id"`
		Status    string `json:"status"`
		ErrorText string `json:"error-text"`
	} `json:"messages"`
}

func (a *VonageAdapter) SendMessage(ctx context.Context, msg *model.Message, svc *model.MessagingService) error {
	if svc.AccountSID == "" || svc.AuthToken == "" {
		return fmt.Errorf("vonage: messaging service %d missing credentials", svc.ID)
	}

	var last *carrierError
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if err := a.br.Acquire(ctx); err != nil {
			// Shutdown while waiting out the open window. Nothing is
			// settled, so the envelope stays uncommitted for redelivery.
			return err
		}

		id, raw, cerr := a.postMessage(ctx, msg, svc)
		if cerr == nil {
			a.br.OnSuccess()
			a.rec.Sent(ctx, msg, id, raw)
			return nil
		}

		a.br.OnFailure()
		last = cerr
		if cerr.permanent {
			a.rec.Failed(ctx, msg, cerr.code, raw)
			return nil
		}
		a.rec.Attempt(ctx, msg, cerr.code, raw)
	}

	code := "unknown"
	if last != nil {
		code = last.code
	}
	a.rec.Failed(ctx, msg, code, nil)
	return nil
}

func (a *VonageAdapter) postMessage(ctx context.Context, msg *model.Message, svc *model.MessagingService) (string, []byte, *carrierError) {
	form := url.Values{}
	form.Set("api_key", svc.AccountSID)
	form.Set("api_secret", svc.AuthToken)
	form.Set("to", strings.TrimPrefix(msg.ContactNumber, "+"))
	form.Set("from", strings.TrimPrefix(msg.UserNumber, "+"))
	form.Set("text", msg.Text)
	form.Set("status-report-req", "1")
	if a.webhookBase != "" {
		form.Set("callback", a.webhookBase+"/webhooks/vonage/status")
	}
	if v := validitySeconds(msg, a.maxValidity, a.padding, time.Now()); v > 0 {
		form.Set("ttl", strconv.FormatInt(v*1000, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/sms/json", strings.NewReader(form.Encode()))
	if err != nil {
		return "", nil, transientErr("request_build", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := a.client.Do(req)
	if err != nil {
		return "", nil, transientErr("network", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))

	if res.StatusCode/100 != 2 {
		return "", raw, transientErr(strconv.Itoa(res.StatusCode), fmt.Errorf("vonage status %d", res.StatusCode))
	}

	var body vonageSendResponse
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Messages) == 0 {
		return "", raw, transientErr("malformed_response", fmt.Errorf("vonage response unparseable"))
	}

	m := body.Messages[0]
	switch m.Status {
	case "0":
		return m.MessageID, raw, nil
	case "1", "5":
		// 1 = throttled, 5 = internal error: retryable
		return "", raw, transientErr(m.Status, fmt.Errorf("vonage: %s", m.ErrorText))
	default:
		return "", raw, permanentErr(m.Status, fmt.Errorf("vonage rejected: %s", m.ErrorText))
	}
}

func (a *VonageAdapter) ParseWebhook(contentType string, body []byte, form url.Values) (*Webhook, error) {
	if form == nil {
		parsed, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("vonage webhook: %w", err)
		}
		form = parsed
	}

	messageID := form.Get("messageId")
	if messageID == "" {
		return nil, fmt.Errorf("vonage webhook: missing messageId")
	}

	// Delivery reports carry a status field; inbound messages carry text.
	if status := form.Get("status"); status != "" && form.Get("text") == "" {
		report := model.DeliveryReport{
			Service:   model.ServiceVonage,
			ServiceID: messageID,
			Outcome:   vonageOutcome(status),
			ErrorCode: form.Get("err-code"),
			Raw:       body,
		}
		return &Webhook{Reports: []model.DeliveryReport{report}}, nil
	}

	parentID := messageID
	partIndex, partTotal := 0, 1
	if form.Get("concat") == "true" {
		parentID = form.Get("concat-ref")
		partIndex, _ = strconv.Atoi(form.Get("concat-part"))
		partIndex-- // concat-part is 1-based
		partTotal, _ = strconv.Atoi(form.Get("concat-total"))
		if parentID == "" || partIndex < 0 || partTotal < 1 {
			return nil, fmt.Errorf("vonage webhook: malformed concat fields")
		}
	}

	return &Webhook{Parts: []model.PendingMessagePart{{
		Service:        model.ServiceVonage,
		ServiceID:      messageID,
		ParentID:       parentID,
		PartIndex:      partIndex,
		PartTotal:      partTotal,
		ServiceMessage: body,
		Body:           form.Get("text"),
		UserNumber:     util.NormalizePhone(form.Get("to")),
		ContactNumber:  util.NormalizePhone(form.Get("msisdn")),
	}}}, nil
}

func vonageOutcome(status string) model.ReportOutcome {
	switch status {
	case "delivered":
		return model.OutcomeDelivered
	case "failed", "rejected", "expired":
		return model.OutcomeFailed
	default:
		// accepted | buffered | unknown: the carrier is still working on it
		return model.OutcomeProgress
	}
}

// VerifySignature checks the `sig` parameter: hex(HMAC-SHA256(signature
// secret, params sorted by name, sig excluded, joined as &name=value)).
func (a *VonageAdapter) VerifySignature(r *http.Request, body []byte, svc *model.MessagingService) bool {
	if svc == nil || svc.AuthToken == "" {
		return false
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return false
	}
	got := form.Get("sig")
	if got == "" {
		return false
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		if k == "sig" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString("&")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(form.Get(k))
	}

	mac := hmac.New(sha256.New, []byte(svc.AuthToken))
	mac.Write([]byte(sb.String()))
	want := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(want)) == 1
}
