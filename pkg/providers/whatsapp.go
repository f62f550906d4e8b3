package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/httpclient"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

const WhatsAppProviderName = "twilio"

// WhatsAppSender talks to a Twilio-style Messages API.
type WhatsAppSender struct {
	client  *httpclient.Client
	baseURL string
	logger  ectologger.Logger
}

func NewWhatsAppSender(client *httpclient.Client, baseURL string, logger ectologger.Logger) *WhatsAppSender {
	return &WhatsAppSender{client: client, baseURL: baseURL, logger: logger}
}

func (s *WhatsAppSender) Name() string            { return WhatsAppProviderName }
func (s *WhatsAppSender) Channel() models.Channel { return models.ChannelWhatsApp }

type twilioMessage struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Status   int    `json:"status"`
	MoreInfo string `json:"more_info"`
}

func (s *WhatsAppSender) Send(ctx context.Context, destination string, content Content, creds models.Credentials) (SendResult, error) {
	c, ok := creds.(models.WhatsAppCredentials)
	if !ok {
		return SendResult{}, apperrors.NewConfigurationError("", string(models.ChannelWhatsApp), "expected whatsapp credentials, got %T", creds)
	}

	baseURL := s.baseURL
	if c.BaseURL != "" {
		baseURL = c.BaseURL
	}
	endpoint := httpclient.JoinURL(baseURL, fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", url.PathEscape(c.AccountSID)))

	form := url.Values{}
	form.Set("To", whatsAppAddress(destination))
	form.Set("From", whatsAppAddress(c.FromNumber))
	form.Set("Body", content.Body)
	if c.StatusCallbackURL != "" {
		form.Set("StatusCallback", c.StatusCallbackURL)
	}

	req, err := httpclient.NewFormRequest(ctx, http.MethodPost, endpoint, form, map[string]string{
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(c.AccountSID+":"+c.AuthToken)),
	})
	if err != nil {
		return SendResult{}, apperrors.NewProviderError(WhatsAppProviderName, err)
	}

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return SendResult{}, apperrors.NewProviderError(WhatsAppProviderName, err)
	}

	if !resp.IsSuccess() {
		result := SendResult{
			Status:     "failed",
			Error:      fmt.Sprintf("HTTP %d", resp.StatusCode),
			RetryAfter: retryAfter(resp),
		}
		var apiErr twilioError
		if decodeErr := httpclient.DecodeJSON(resp, &apiErr); decodeErr == nil && apiErr.Message != "" {
			result.Error = apiErr.Message
			result.ErrorCode = strconv.Itoa(apiErr.Code)
		}
		return result, nil
	}

	var msg twilioMessage
	if err := httpclient.DecodeJSON(resp, &msg); err != nil {
		return SendResult{}, apperrors.NewProviderError(WhatsAppProviderName, err)
	}

	if msg.Status == "failed" || msg.Status == "undelivered" {
		result := SendResult{ProviderMessageID: msg.SID, Status: msg.Status, Error: "message rejected"}
		if msg.ErrorMessage != nil {
			result.Error = *msg.ErrorMessage
		}
		if msg.ErrorCode != nil {
			result.ErrorCode = strconv.Itoa(*msg.ErrorCode)
		}
		return result, nil
	}

	return SendResult{
		Success:           true,
		ProviderMessageID: msg.SID,
		Status:            msg.Status,
	}, nil
}

func whatsAppAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
