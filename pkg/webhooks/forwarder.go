package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/gustausantin/La-ia-app-sub001/pkg/httpclient"
	"github.com/gustausantin/La-ia-app-sub001/pkg/metrics"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

const (
	// SignatureHeader carries "t=<unix>,v1=<hex hmac>" over "<unix>.<body>"
	SignatureHeader = "X-Lifecycle-Signature"

	// DefaultForwardTimeout bounds each endpoint delivery
	DefaultForwardTimeout = 5 * time.Second
)

type ForwarderConfig struct {
	URLs    []string
	Secret  string
	Timeout time.Duration
}

// ParseForwardURLs splits a comma separated endpoint list.
func ParseForwardURLs(raw string) []string {
	var out []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// ForwardedEvent is the body POSTed to outbound endpoints.
type ForwardedEvent struct {
	ID                uuid.UUID             `json:"id"`
	Provider          string                `json:"provider"`
	ProviderMessageID string                `json:"provider_message_id"`
	EventType         models.EventType      `json:"event_type"`
	ProviderStatus    string                `json:"provider_status"`
	Error             string                `json:"error,omitempty"`
	OccurredAt        time.Time             `json:"occurred_at"`
	MessageID         *uuid.UUID            `json:"message_id,omitempty"`
	RestaurantID      *uuid.UUID            `json:"restaurant_id,omitempty"`
	CustomerID        *uuid.UUID            `json:"customer_id,omitempty"`
	Status            *models.MessageStatus `json:"status,omitempty"`
}

// Forwarder fans reconciled events out to every configured endpoint. Each
// endpoint gets its own goroutine, timeout and error; a slow or failing
// endpoint never delays the others or the reconciliation that produced the
// event.
type Forwarder struct {
	client *httpclient.Client
	config ForwarderConfig
	logger ectologger.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

func NewForwarder(client *httpclient.Client, config ForwarderConfig, logger ectologger.Logger) *Forwarder {
	if config.Timeout <= 0 {
		config.Timeout = DefaultForwardTimeout
	}
	return &Forwarder{
		client: client,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

func (f *Forwarder) Enabled() bool {
	return len(f.config.URLs) > 0
}

// Forward starts one delivery per endpoint and returns without waiting.
func (f *Forwarder) Forward(ctx context.Context, ev Event, msg *models.ScheduledMessage) {
	if !f.Enabled() {
		return
	}

	payload := ForwardedEvent{
		ID:                uuid.New(),
		Provider:          ev.Provider,
		ProviderMessageID: ev.ProviderMessageID,
		EventType:         ev.EventType,
		ProviderStatus:    ev.ProviderStatus,
		Error:             ev.Error,
		OccurredAt:        ev.Timestamp,
	}
	if msg != nil {
		payload.MessageID = &msg.ID
		payload.RestaurantID = &msg.RestaurantID
		payload.CustomerID = &msg.CustomerID
		status := msg.Status
		payload.Status = &status
	}

	body, err := json.Marshal(payload)
	if err != nil {
		f.logger.WithContext(ctx).WithError(err).Error("Failed to encode forwarded event")
		return
	}

	// deliveries outlive the inbound request
	base := context.WithoutCancel(ctx)
	for _, endpoint := range f.config.URLs {
		f.wg.Add(1)
		go func(endpoint string) {
			defer f.wg.Done()
			deliverCtx, cancel := context.WithTimeout(base, f.config.Timeout)
			defer cancel()

			if err := f.deliver(deliverCtx, endpoint, body); err != nil {
				metrics.WebhookForwardsTotal.WithLabelValues("error").Inc()
				f.logger.WithContext(deliverCtx).WithError(err).WithFields(map[string]any{
					"endpoint": endpoint,
					"event_id": payload.ID.String(),
				}).Warn("Webhook forward failed")
				return
			}
			metrics.WebhookForwardsTotal.WithLabelValues("success").Inc()
		}(endpoint)
	}
}

// Wait blocks until every started delivery has finished.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

func (f *Forwarder) deliver(ctx context.Context, endpoint string, body []byte) error {
	headers := map[string]string{}
	if f.config.Secret != "" {
		headers[SignatureHeader] = SignatureValue(f.config.Secret, f.now().Unix(), body)
	}

	req, err := httpclient.NewRawRequest(ctx, http.MethodPost, endpoint, body, "application/json", headers)
	if err != nil {
		return err
	}

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// SignatureValue builds the signature header value for body sent at timestamp.
func SignatureValue(secret string, timestamp int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, ComputeSignature(secret, timestamp, body))
}

// ComputeSignature is the hex HMAC-SHA256 of "<timestamp>.<body>".
func ComputeSignature(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header produced by SignatureValue.
func VerifySignature(secret, header string, body []byte) bool {
	var (
		timestamp int64
		signature string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return false
			}
			timestamp = ts
		case "v1":
			signature = value
		}
	}
	if signature == "" {
		return false
	}
	expected := ComputeSignature(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
