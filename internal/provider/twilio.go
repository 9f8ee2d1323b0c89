package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
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

// TwilioAdapter speaks the Twilio Messages API: form-encoded requests with
// basic auth, form-encoded webhooks authenticated by an HMAC-SHA1 signature
// header. Twilio reassembles concatenated SMS itself, so every inbound push
// is a single-part group.
type TwilioAdapter struct {
	baseURL     string
	webhookBase string
	maxAttempts int
	maxValidity time.Duration
	padding     time.Duration
	client      *http.Client
	br          *carrierBreaker
	rec         *Recorder
}

func NewTwilioAdapter(cfg config.ProviderConfig, webhookBase string, padding time.Duration, rec *Recorder) *TwilioAdapter {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	attempts := cfg.MaxSendAttempts
	if attempts <= 0 {
		attempts = 5
	}

	return &TwilioAdapter{
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

var _ Adapter = (*TwilioAdapter)(nil)

func (a *TwilioAdapter) Name() model.ServiceType { return model.ServiceTwilio }
func (a *TwilioAdapter) MaxSendAttempts() int    { return a.maxAttempts }

type twilioSendResponse struct {
	Sid         string `json:"sid"`
	Status      string `json:"status"`
	NumSegments string `json:"num_segments"`
	Code        int    `json:"code"`
	Message     string `json:"message"`
}

func (a *TwilioAdapter) SendMessage(ctx context.Context, msg *model.Message, svc *model.MessagingService) error {
	if svc.AccountSID == "" || svc.AuthToken == "" {
		return fmt.Errorf("twilio: messaging service %d missing credentials", svc.ID)
	}

	var last *carrierError
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if err := a.br.Acquire(ctx); err != nil {
			// Shutdown while waiting out the open window. Nothing is
			// settled, so the envelope stays uncommitted for redelivery.
			return err
		}

		sid, raw, cerr := a.postMessage(ctx, msg, svc)
		if cerr == nil {
			a.br.OnSuccess()
			a.rec.Sent(ctx, msg, sid, raw)
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

func (a *TwilioAdapter) postMessage(ctx context.Context, msg *model.Message, svc *model.MessagingService) (string, []byte, *carrierError) {
	form := url.Values{}
	form.Set("To", msg.ContactNumber)
	form.Set("From", msg.UserNumber)
	form.Set("Body", msg.Text)
	if a.webhookBase != "" {
		form.Set("StatusCallback", a.webhookBase+"/webhooks/twilio/status")
	}
	if v := validitySeconds(msg, a.maxValidity, a.padding, time.Now()); v > 0 {
		form.Set("ValidityPeriod", strconv.FormatInt(v, 10))
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", a.baseURL, svc.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", nil, transientErr("request_build", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(svc.AccountSID, svc.AuthToken)

	res, err := a.client.Do(req)
	if err != nil {
		return "", nil, transientErr("network", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))

	var body twilioSendResponse
	_ = json.Unmarshal(raw, &body)

	switch {
	case res.StatusCode/100 == 2:
		if body.Sid == "" {
			return "", raw, transientErr("malformed_response", fmt.Errorf("twilio 2xx without sid"))
		}
		return body.Sid, raw, nil
	case res.StatusCode/100 == 4:
		return "", raw, permanentErr(strconv.Itoa(body.Code), fmt.Errorf("twilio rejected: %s", body.Message))
	default:
		return "", raw, transientErr(strconv.Itoa(res.StatusCode), fmt.Errorf("twilio status %d", res.StatusCode))
	}
}

func (a *TwilioAdapter) ParseWebhook(contentType string, body []byte, form url.Values) (*Webhook, error) {
	if form == nil {
		parsed, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("twilio webhook: %w", err)
		}
		form = parsed
	}

	status := form.Get("MessageStatus")
	if status == "" {
		status = form.Get("SmsStatus")
	}

	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	if sid == "" {
		return nil, fmt.Errorf("twilio webhook: missing MessageSid")
	}

	// Inbound pushes carry a Body and no delivery status of an earlier send.
	if form.Get("From") != "" && (status == "" || status == "received") {
		numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
		return &Webhook{Parts: []model.PendingMessagePart{{
			Service:        model.ServiceTwilio,
			ServiceID:      sid,
			ParentID:       sid,
			PartIndex:      0,
			PartTotal:      1,
			ServiceMessage: body,
			Body:           form.Get("Body"),
			UserNumber:     util.NormalizePhone(form.Get("To")),
			ContactNumber:  util.NormalizePhone(form.Get("From")),
			NumMedia:       numMedia,
		}}}, nil
	}

	segments, _ := strconv.Atoi(form.Get("NumSegments"))
	report := model.DeliveryReport{
		Service:     model.ServiceTwilio,
		ServiceID:   sid,
		Outcome:     twilioOutcome(status),
		ErrorCode:   form.Get("ErrorCode"),
		NumSegments: segments,
		Raw:         body,
	}
	return &Webhook{Reports: []model.DeliveryReport{report}}, nil
}

func twilioOutcome(status string) model.ReportOutcome {
	switch status {
	case "delivered":
		return model.OutcomeDelivered
	case "failed", "undelivered":
		return model.OutcomeFailed
	default:
		// queued | accepted | sending | sent: intermediate, no state change
		return model.OutcomeProgress
	}
}

// VerifySignature checks X-Twilio-Signature: base64(HMAC-SHA1(auth token,
// full webhook URL + form params concatenated in name order)).
func (a *TwilioAdapter) VerifySignature(r *http.Request, body []byte, svc *model.MessagingService) bool {
	got := r.Header.Get("X-Twilio-Signature")
	if got == "" || svc == nil || svc.AuthToken == "" {
		return false
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return false
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(a.webhookBase + r.URL.RequestURI())
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(svc.AuthToken))
	mac.Write([]byte(sb.String()))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
