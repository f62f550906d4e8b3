// Package providers sends rendered messages through external channel APIs and
// normalizes their responses into a single result shape.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/httpclient"
	"github.com/gustausantin/La-ia-app-sub001/pkg/metrics"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

// Content is the rendered message handed to a provider.
type Content struct {
	Subject *string
	Body    string
}

// SendResult is the normalized outcome of a send. Provider-side rejections are
// reported here with Success false, never as an error.
type SendResult struct {
	Success           bool           `json:"success"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Status            string         `json:"status,omitempty"`
	Error             string         `json:"error,omitempty"`
	ErrorCode         string         `json:"error_code,omitempty"`
	Channel           models.Channel `json:"channel"`
	Provider          string         `json:"provider"`
	// RetryAfter is set when the provider rate limited the send.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Sender is one concrete channel integration.
type Sender interface {
	Name() string
	Channel() models.Channel
	Send(ctx context.Context, destination string, content Content, creds models.Credentials) (SendResult, error)
}

// Config holds provider endpoints and defaults.
type Config struct {
	WhatsAppBaseURL    string
	EmailBaseURL       string
	DefaultPhoneRegion string
	Timeout            time.Duration
}

func DefaultConfig() Config {
	return Config{
		WhatsAppBaseURL:    "https://api.twilio.com",
		EmailBaseURL:       "https://api.resend.com",
		DefaultPhoneRegion: "ES",
		Timeout:            10 * time.Second,
	}
}

// Adapter routes a send to the sender of its channel.
type Adapter struct {
	senders  map[models.Channel]Sender
	validate *validator.Validate
	phoneRgn string
	logger   ectologger.Logger
}

func NewAdapter(cfg Config, client *httpclient.Client, logger ectologger.Logger) *Adapter {
	if cfg.DefaultPhoneRegion == "" {
		cfg.DefaultPhoneRegion = DefaultConfig().DefaultPhoneRegion
	}
	a := &Adapter{
		senders:  make(map[models.Channel]Sender),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		phoneRgn: cfg.DefaultPhoneRegion,
		logger:   logger,
	}
	a.Register(NewWhatsAppSender(client, cfg.WhatsAppBaseURL, logger))
	a.Register(NewEmailSender(client, cfg.EmailBaseURL, logger))
	return a
}

// Register installs or replaces the sender for its channel.
func (a *Adapter) Register(sender Sender) {
	a.senders[sender.Channel()] = sender
}

// NormalizeDestination checks that destination is usable on channel and
// returns it in canonical form (E.164 for phones).
func (a *Adapter) NormalizeDestination(channel models.Channel, destination string) (string, error) {
	switch channel {
	case models.ChannelWhatsApp:
		return NormalizePhone(destination, a.phoneRgn)
	case models.ChannelEmail:
		if err := a.validate.Var(destination, "required,email"); err != nil {
			return "", apperrors.NewValidationError("customer.email", "%q is not a valid email address", destination)
		}
		return destination, nil
	default:
		return "", apperrors.NewValidationError("channel", "unsupported channel %q", channel)
	}
}

// Send delivers content to destination. Credential problems are returned as a
// ConfigurationError before any network call; transport failures as a
// ProviderError.
func (a *Adapter) Send(ctx context.Context, channel models.Channel, destination string, content Content, creds models.Credentials) (SendResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Adapter.Send")
	defer span.End()
	span.SetAttributes(attribute.String("channel", string(channel)))

	if err := a.checkCredentials(channel, creds); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return SendResult{Channel: channel}, err
	}

	sender, ok := a.senders[channel]
	if !ok {
		err := apperrors.NewConfigurationError("", string(channel), "no provider registered for channel")
		span.SetStatus(codes.Error, err.Error())
		return SendResult{Channel: channel}, err
	}

	start := time.Now()
	result, err := sender.Send(ctx, destination, content, creds)
	duration := time.Since(start).Seconds()
	result.Channel = channel
	result.Provider = sender.Name()

	switch {
	case err != nil:
		metrics.RecordProviderRequest(sender.Name(), "error", duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"provider": sender.Name(),
			"channel":  channel,
		}).Error("provider request failed")
		return result, err
	case !result.Success:
		metrics.RecordProviderRequest(sender.Name(), "rejected", duration)
		span.SetStatus(codes.Error, result.Error)
		a.logger.WithContext(ctx).WithFields(map[string]any{
			"provider":   sender.Name(),
			"channel":    channel,
			"error_code": result.ErrorCode,
		}).Warnf("provider rejected message: %s", result.Error)
	default:
		metrics.RecordProviderRequest(sender.Name(), "accepted", duration)
		span.SetAttributes(attribute.String("provider_message_id", result.ProviderMessageID))
		span.SetStatus(codes.Ok, "")
	}

	return result, nil
}

func (a *Adapter) checkCredentials(channel models.Channel, creds models.Credentials) error {
	if creds == nil {
		return apperrors.NewConfigurationError("", string(channel), "missing credentials")
	}

	switch c := creds.(type) {
	case models.WhatsAppCredentials:
		if channel != models.ChannelWhatsApp {
			return apperrors.NewConfigurationError("", string(channel), "whatsapp credentials supplied for %s", channel)
		}
		if err := a.validate.Struct(c); err != nil {
			return apperrors.NewConfigurationError("", string(channel), "invalid whatsapp credentials: %s", validationSummary(err))
		}
	case models.EmailCredentials:
		if channel != models.ChannelEmail {
			return apperrors.NewConfigurationError("", string(channel), "email credentials supplied for %s", channel)
		}
		if err := a.validate.Struct(c); err != nil {
			return apperrors.NewConfigurationError("", string(channel), "invalid email credentials: %s", validationSummary(err))
		}
	default:
		return apperrors.NewConfigurationError("", string(channel), "unsupported credentials type %T", creds)
	}
	return nil
}

func validationSummary(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	out := ""
	for i, fe := range verrs {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
	return out
}
