package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported LLM provider: %s", e.Provider)
}

var (
	ErrMissingAPIKey      = errors.New("missing API key for remote provider")
	ErrInvalidCredentials = errors.New("LLM credentials rejected")
	ErrEmptyResponse      = errors.New("LLM response was empty")
)

var (
	retryableStatusRE = regexp.MustCompile(`(?:^|\D)(429|500|502|503|504)(?:\D|$)`)
	authStatusRE      = regexp.MustCompile(`status code:? (401|403)(?:\D|$)|(?:^|\D)(401|403) (?:unauthorized|forbidden)`)
)

// classifyError maps provider SDK errors onto the package sentinels.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	message := strings.ToLower(err.Error())
	if authStatusRE.MatchString(message) ||
		strings.Contains(message, "authentication_error") ||
		strings.Contains(message, "permission_error") ||
		strings.Contains(message, "incorrect api key") {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return err
}

// IsFatal reports errors that no retry can fix: misconfiguration or rejected credentials.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var unsupported ErrUnsupportedProvider
	if errors.As(err, &unsupported) {
		return true
	}
	return errors.Is(err, ErrMissingAPIKey) || errors.Is(err, ErrInvalidCredentials)
}

func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyResponse) {
		return true
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	if message == "" {
		return false
	}
	if strings.Contains(message, "timeout") || strings.Contains(message, "timed out") {
		return true
	}
	if strings.Contains(message, "bad gateway") || strings.Contains(message, "temporarily unavailable") || strings.Contains(message, "overloaded") {
		return true
	}
	if strings.Contains(message, "connection reset") || strings.Contains(message, "connection refused") {
		return true
	}
	return retryableStatusRE.MatchString(message)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "timed out")
}
