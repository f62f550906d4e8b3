// Package apperrors defines the error kinds raised by the lifecycle engine and
// their mapping onto HTTP responses.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// ConfigurationError reports missing or invalid channel credentials. It aborts
// only the affected send.
type ConfigurationError struct {
	RestaurantID string
	Channel      string
	Reason       string
}

func NewConfigurationError(restaurantID, channel, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		RestaurantID: restaurantID,
		Channel:      channel,
		Reason:       fmt.Sprintf(format, args...),
	}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for restaurant %s channel %s: %s", e.RestaurantID, e.Channel, e.Reason)
}

// ProviderError is a network or API failure talking to a channel provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func NewProviderError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: err.Error(), Err: err}
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider %s error %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("provider %s error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ValidationError reports input that cannot be used, such as a template
// variable that resolves to nothing for a customer.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// RaceLostError means a conditional update matched no row because another
// actor moved the message first.
type RaceLostError struct {
	MessageID string
	Expected  string
}

func NewRaceLostError(messageID, expected string) *RaceLostError {
	return &RaceLostError{MessageID: messageID, Expected: expected}
}

func (e *RaceLostError) Error() string {
	return fmt.Sprintf("message %s is no longer %s", e.MessageID, e.Expected)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s does not exist", e.Resource, e.ID)
}

// InvalidTransitionError rejects a state change the message state machine does
// not allow, such as skipping a message that is already sent.
type InvalidTransitionError struct {
	MessageID string
	From      string
	To        string
}

func NewInvalidTransitionError(messageID, from, to string) *InvalidTransitionError {
	return &InvalidTransitionError{MessageID: messageID, From: from, To: to}
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("message %s cannot move from %s to %s", e.MessageID, e.From, e.To)
}

func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsProviderError(err error) bool {
	var target *ProviderError
	return errors.As(err, &target)
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsRaceLost(err error) bool {
	var target *RaceLostError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

// ToHTTPError converts an engine error into the httperror rendered by the API
// error middleware. Errors that already carry a status pass through.
func ToHTTPError(err error) error {
	if err == nil {
		return nil
	}
	if httperror.IsHTTPError(err) {
		return err
	}

	var (
		configErr     *ConfigurationError
		providerErr   *ProviderError
		validationErr *ValidationError
		raceErr       *RaceLostError
		notFoundErr   *NotFoundError
		transitionErr *InvalidTransitionError
	)

	switch {
	case errors.As(err, &notFoundErr):
		return httperror.NewHTTPError(http.StatusNotFound, notFoundErr.Error()).
			AddMetaValue("resource", notFoundErr.Resource).
			AddMetaValue("id", notFoundErr.ID)
	case errors.As(err, &transitionErr):
		return httperror.NewHTTPError(http.StatusConflict, transitionErr.Error()).
			AddMetaValue("message_id", transitionErr.MessageID).
			AddMetaValue("status", transitionErr.From)
	case errors.As(err, &raceErr):
		return httperror.NewHTTPError(http.StatusConflict, raceErr.Error()).
			AddMetaValue("message_id", raceErr.MessageID)
	case errors.As(err, &validationErr):
		return httperror.NewHTTPError(http.StatusUnprocessableEntity, validationErr.Error()).
			AddMetaValue("field", validationErr.Field)
	case errors.As(err, &configErr):
		return httperror.NewHTTPError(http.StatusUnprocessableEntity, configErr.Error()).
			AddMetaValue("channel", configErr.Channel)
	case errors.As(err, &providerErr):
		return httperror.NewHTTPError(http.StatusBadGateway, providerErr.Error()).
			AddMetaValue("provider", providerErr.Provider)
	default:
		return httperror.WrapError(http.StatusInternalServerError, err)
	}
}
