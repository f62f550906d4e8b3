package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectologger"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/httpclient"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

const EmailProviderName = "resend"

// EmailSender talks to a Resend-style email API.
type EmailSender struct {
	client  *httpclient.Client
	baseURL string
	logger  ectologger.Logger
}

func NewEmailSender(client *httpclient.Client, baseURL string, logger ectologger.Logger) *EmailSender {
	return &EmailSender{client: client, baseURL: baseURL, logger: logger}
}

func (s *EmailSender) Name() string            { return EmailProviderName }
func (s *EmailSender) Channel() models.Channel { return models.ChannelEmail }

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}

type resendError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Name       string `json:"name"`
}

func (s *EmailSender) Send(ctx context.Context, destination string, content Content, creds models.Credentials) (SendResult, error) {
	c, ok := creds.(models.EmailCredentials)
	if !ok {
		return SendResult{}, apperrors.NewConfigurationError("", string(models.ChannelEmail), "expected email credentials, got %T", creds)
	}
	if content.Subject == nil || *content.Subject == "" {
		return SendResult{Status: "failed", Error: "email subject is required", ErrorCode: "missing_subject"}, nil
	}

	baseURL := s.baseURL
	if c.BaseURL != "" {
		baseURL = c.BaseURL
	}

	from := c.FromAddress
	if c.FromName != "" {
		from = fmt.Sprintf("%s <%s>", c.FromName, c.FromAddress)
	}

	req, err := httpclient.NewJSONRequest(ctx, http.MethodPost, httpclient.JoinURL(baseURL, "/emails"), resendRequest{
		From:    from,
		To:      []string{destination},
		Subject: *content.Subject,
		HTML:    content.Body,
		ReplyTo: c.ReplyTo,
	}, map[string]string{
		"Authorization": "Bearer " + c.APIKey,
	})
	if err != nil {
		return SendResult{}, apperrors.NewProviderError(EmailProviderName, err)
	}

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return SendResult{}, apperrors.NewProviderError(EmailProviderName, err)
	}

	if !resp.IsSuccess() {
		result := SendResult{Status: "failed", Error: fmt.Sprintf("HTTP %d", resp.StatusCode), RetryAfter: retryAfter(resp)}
		var apiErr resendError
		if decodeErr := httpclient.DecodeJSON(resp, &apiErr); decodeErr == nil && apiErr.Message != "" {
			result.Error = apiErr.Message
			result.ErrorCode = apiErr.Name
		}
		return result, nil
	}

	var body resendResponse
	if err := httpclient.DecodeJSON(resp, &body); err != nil {
		return SendResult{}, apperrors.NewProviderError(EmailProviderName, err)
	}

	return SendResult{
		Success:           true,
		ProviderMessageID: body.ID,
		Status:            "sent",
	}, nil
}
