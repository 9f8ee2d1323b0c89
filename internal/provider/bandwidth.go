package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/groundgame/textrelay/internal/config"
	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/util"
)

// BandwidthAdapter speaks the Bandwidth Messaging v2 API: JSON requests with
// basic auth, webhooks delivered as JSON arrays of events. Bandwidth sends no
// signature header; callback URLs are expected to be unguessable or fronted
// by transport auth.
type BandwidthAdapter struct {
	baseURL     string
	webhookBase string
	maxAttempts int
	maxValidity time.Duration
	padding     time.Duration
	client      *http.Client
	br          *carrierBreaker
	rec         *Recorder
}

func NewBandwidthAdapter(cfg config.ProviderConfig, webhookBase string, padding time.Duration, rec *Recorder) *BandwidthAdapter {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	attempts := cfg.MaxSendAttempts
	if attempts <= 0 {
		attempts = 5
	}

	return &BandwidthAdapter{
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

var _ Adapter = (*BandwidthAdapter)(nil)

func (a *BandwidthAdapter) Name() model.ServiceType { return model.ServiceBandwidth }
func (a *BandwidthAdapter) MaxSendAttempts() int    { return a.maxAttempts }

type bandwidthSendRequest struct {
	To            []string `json:"to"`
	From          string   `json:"from"`
	Text          string   `json:"text"`
	ApplicationID string   `json:"applicationId,omitempty"`
	Expiration    string   `json:"expiration,omitempty"`
}

type bandwidthSendResponse struct {
	ID           string `json:"id"`
	SegmentCount int    `json:"segmentCount"`
	Type         string `json:"type"`
	Description  string `json:"description"`
}

func (a *BandwidthAdapter) SendMessage(ctx context.Context, msg *model.Message, svc *model.MessagingService) error {
	if svc.AccountSID == "" || svc.AuthToken == "" {
		return fmt.Errorf("bandwidth: messaging service %d missing credentials", svc.ID)
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

func (a *BandwidthAdapter) postMessage(ctx context.Context, msg *model.Message, svc *model.MessagingService) (string, []byte, *carrierError) {
	payload := bandwidthSendRequest{
		To:   []string{msg.ContactNumber},
		From: msg.UserNumber,
		Text: msg.Text,
	}
	if v := validitySeconds(msg, a.maxValidity, a.padding, time.Now()); v > 0 {
		payload.Expiration = time.Now().UTC().Add(time.Duration(v) * time.Second).Format(time.RFC3339)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", nil, transientErr("request_build", err)
	}

	endpoint := fmt.Sprintf("%s/api/v2/users/%s/messages", a.baseURL, svc.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", nil, transientErr("request_build", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(svc.AccountSID, svc.AuthToken)

	res, err := a.client.Do(req)
	if err != nil {
		return "", nil, transientErr("network", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))

	var body bandwidthSendResponse
	_ = json.Unmarshal(raw, &body)

	switch {
	case res.StatusCode/100 == 2:
		if body.ID == "" {
			return "", raw, transientErr("malformed_response", fmt.Errorf("bandwidth 2xx without id"))
		}
		return body.ID, raw, nil
	case res.StatusCode/100 == 4:
		return "", raw, permanentErr(body.Type, fmt.Errorf("bandwidth rejected: %s", body.Description))
	default:
		return "", raw, transientErr(strconv.Itoa(res.StatusCode), fmt.Errorf("bandwidth status %d", res.StatusCode))
	}
}

type bandwidthEvent struct {
	Type      string `json:"type"`
	ErrorCode int    `json:"errorCode"`
	Message   struct {
		ID           string   `json:"id"`
		From         string   `json:"from"`
		To           []string `json:"to"`
		Text         string   `json:"text"`
		SegmentCount int      `json:"segmentCount"`
		Media        []string `json:"media"`
	} `json:"message"`
}

func (a *BandwidthAdapter) ParseWebhook(contentType string, body []byte, form url.Values) (*Webhook, error) {
	var events []bandwidthEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("bandwidth webhook: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("bandwidth webhook: empty event array")
	}

	wh := &Webhook{}
	for i, ev := range events {
		if ev.Message.ID == "" {
			return nil, fmt.Errorf("bandwidth webhook: event %d missing message id", i)
		}

		// one event's raw slice, so dedup works per event not per batch
		rawEvent, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}

		switch ev.Type {
		case "message-received":
			to := ""
			if len(ev.Message.To) > 0 {
				to = ev.Message.To[0]
			}
			wh.Parts = append(wh.Parts, model.PendingMessagePart{
				Service:        model.ServiceBandwidth,
				ServiceID:      ev.Message.ID,
				ParentID:       ev.Message.ID,
				PartIndex:      0,
				PartTotal:      1,
				ServiceMessage: rawEvent,
				Body:           ev.Message.Text,
				UserNumber:     util.NormalizePhone(to),
				ContactNumber:  util.NormalizePhone(ev.Message.From),
				NumMedia:       len(ev.Message.Media),
			})
		case "message-delivered", "message-failed", "message-sending":
			wh.Reports = append(wh.Reports, model.DeliveryReport{
				Service:     model.ServiceBandwidth,
				ServiceID:   ev.Message.ID,
				Outcome:     bandwidthOutcome(ev.Type, ev.ErrorCode),
				ErrorCode:   strconv.Itoa(ev.ErrorCode),
				NumSegments: ev.Message.SegmentCount,
				NumMedia:    len(ev.Message.Media),
				Raw:         rawEvent,
			})
		default:
			return nil, fmt.Errorf("bandwidth webhook: unknown event type %q", ev.Type)
		}
	}

	return wh, nil
}

func bandwidthOutcome(eventType string, errorCode int) model.ReportOutcome {
	switch eventType {
	case "message-delivered":
		return model.OutcomeDelivered
	case "message-failed":
		// 5xx-range carrier codes are downstream congestion: retryable
		if errorCode >= 5000 && errorCode < 6000 {
			return model.OutcomeTransient
		}
		return model.OutcomeFailed
	default:
		return model.OutcomeProgress
	}
}

// VerifySignature: Bandwidth ships no signature header.
func (a *BandwidthAdapter) VerifySignature(r *http.Request, body []byte, svc *model.MessagingService) bool {
	return true
}
