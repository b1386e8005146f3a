// Package apperr defines the error taxonomy shared by the diagnosis core.
//
// Errors fall into two structurally distinct groups. Fatal errors
// (SensitiveContentError, ErrSecretNotFound) abort the in-flight call chain
// and are never retried. Recoverable errors (ErrRateLimited,
// ProviderCallError) feed the retry loop and the per-provider failure streak.
package apperr

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// SensitiveBlockMessage is the user-facing message for blocked content.
const SensitiveBlockMessage = "检测到敏感词，无法在线生成，请联系人工顾问获取私密报告"

var (
	// ErrRateLimited is returned when a provider's token bucket is empty.
	ErrRateLimited = eris.New("rate limited: token bucket empty")

	// ErrSecretNotFound is returned when a named credential is not registered.
	ErrSecretNotFound = eris.New("secret not found")
)

// ValidationError reports a malformed request. It is raised before any
// provider call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// SensitiveContentError reports blocked content found either in the request
// or in a provider response.
type SensitiveContentError struct {
	Source  string // "request" or a provider key
	Keyword string
}

func (e *SensitiveContentError) Error() string {
	return SensitiveBlockMessage
}

// NewSensitiveContentError builds a SensitiveContentError.
func NewSensitiveContentError(source, keyword string) *SensitiveContentError {
	return &SensitiveContentError{Source: source, Keyword: keyword}
}

// ProviderCallError wraps a network, HTTP, or response-validation failure
// from a single provider call.
type ProviderCallError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderCallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderCallError) Unwrap() error {
	return e.Err
}

// NewProviderCallError wraps err as a ProviderCallError.
func NewProviderCallError(provider string, statusCode int, err error) *ProviderCallError {
	return &ProviderCallError{Provider: provider, StatusCode: statusCode, Err: err}
}

// IsSensitive reports whether err carries a SensitiveContentError.
func IsSensitive(err error) bool {
	var se *SensitiveContentError
	return errors.As(err, &se)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsFatal reports whether err must abort the call chain immediately,
// bypassing retries, circuit breaking and cache fallback.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return IsSensitive(err) || errors.Is(err, ErrSecretNotFound)
}

// IsRecoverable reports whether err should be handled by the retry loop.
func IsRecoverable(err error) bool {
	return err != nil && !IsFatal(err) && !IsValidation(err)
}
