package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Cyclone1070/iav/internal/provider"
	"google.golang.org/genai"
)

const (
	typeQuotaFailure = "type.googleapis.com/google.rpc.QuotaFailure"
	typeRetryInfo    = "type.googleapis.com/google.rpc.RetryInfo"
	typeErrorInfo    = "type.googleapis.com/google.rpc.ErrorInfo"

	// Suggested waits longer than this are treated as exhausted quota.
	maxRetryableDelay = 2 * time.Minute

	perMinuteDelay = 60 * time.Second
)

// mapGeminiError maps Gemini API errors to the provider error taxonomy.
// Context errors pass through untouched so callers can detect cancellation.
func mapGeminiError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	apiErr, ok := asAPIError(err)
	if !ok {
		return &provider.ProviderError{
			Code:       provider.ErrorCodeNetwork,
			Message:    "network error",
			Underlying: err,
		}
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return classifyQuota(apiErr, err)
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return &provider.ProviderError{
			Code:       provider.ErrorCodeAuth,
			Message:    "authentication failed",
			Status:     apiErr.Code,
			Underlying: err,
		}
	case apiErr.Code == http.StatusBadRequest:
		return &provider.ProviderError{
			Code:       provider.ErrorCodeInvalidRequest,
			Message:    fmt.Sprintf("invalid request: %s", apiErr.Message),
			Status:     apiErr.Code,
			Underlying: err,
		}
	case apiErr.Code >= 500 && apiErr.Code <= 599:
		return &provider.ProviderError{
			Code:       provider.ErrorCodeUnavailable,
			Message:    "service unavailable",
			Status:     apiErr.Code,
			Underlying: err,
		}
	default:
		return &provider.ProviderError{
			Code:       provider.ErrorCodeNetwork,
			Message:    fmt.Sprintf("API error: %s", apiErr.Message),
			Status:     apiErr.Code,
			Underlying: err,
		}
	}
}

func asAPIError(err error) (*genai.APIError, bool) {
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr, true
	}
	var val genai.APIError
	if errors.As(err, &val) {
		return &val, true
	}
	return nil, false
}

// classifyQuota turns a 429 into a terminal or retryable quota error using the
// google.rpc details attached to the response.
//
//   - a QuotaFailure violation on a per-day quota, or an ErrorInfo reason of
//     QUOTA_EXHAUSTED, is terminal
//   - a suggested wait above maxRetryableDelay is terminal
//   - a per-minute violation without a suggested wait retries after a minute
//   - anything else is retryable, with the suggested wait when present
func classifyQuota(apiErr *genai.APIError, cause error) error {
	delay := parseRetryAfter(apiErr)
	perMinute := false

	for _, detail := range apiErr.Details {
		typ, _ := detail["@type"].(string)
		switch typ {
		case typeQuotaFailure:
			for _, quotaID := range quotaIDs(detail) {
				if strings.Contains(quotaID, "PerDay") {
					return &provider.TerminalQuotaError{Message: apiErr.Message, Underlying: cause}
				}
				if strings.Contains(quotaID, "PerMinute") {
					perMinute = true
				}
			}
		case typeErrorInfo:
			if reason, _ := detail["reason"].(string); reason == "QUOTA_EXHAUSTED" {
				return &provider.TerminalQuotaError{Message: apiErr.Message, Underlying: cause}
			}
		}
	}

	if delay != nil && *delay > maxRetryableDelay {
		return &provider.TerminalQuotaError{Message: apiErr.Message, Underlying: cause}
	}

	q := &provider.RetryableQuotaError{Message: apiErr.Message, Underlying: cause}
	switch {
	case delay != nil:
		q.RetryDelay = *delay
	case perMinute:
		q.RetryDelay = perMinuteDelay
	}
	return q
}

func quotaIDs(detail map[string]any) []string {
	violations, _ := detail["violations"].([]any)
	ids := make([]string, 0, len(violations))
	for _, v := range violations {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := m["quotaId"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

var retryKeys = []string{"retryDelay", "retry_after", "retryAfter", "Retry-After"}

// parseRetryAfter finds a suggested retry delay in the error details.
// RetryInfo details are preferred; other known keys and a nested metadata map
// are checked afterwards.
func parseRetryAfter(apiErr *genai.APIError) *time.Duration {
	if apiErr == nil {
		return nil
	}

	for _, detail := range apiErr.Details {
		if typ, _ := detail["@type"].(string); typ == typeRetryInfo {
			if d := parseRetryValue(detail["retryDelay"]); d != nil {
				return d
			}
		}
	}

	for _, detail := range apiErr.Details {
		if d := retryFromMap(detail); d != nil {
			return d
		}
		if meta, ok := detail["metadata"].(map[string]any); ok {
			if d := retryFromMap(meta); d != nil {
				return d
			}
		}
	}
	return nil
}

func retryFromMap(m map[string]any) *time.Duration {
	for _, key := range retryKeys {
		if v, ok := m[key]; ok {
			if d := parseRetryValue(v); d != nil {
				return d
			}
		}
	}
	return nil
}

// parseRetryValue accepts seconds as a number, a string ("30", "2.5", "34s")
// or a google.protobuf.Duration map with seconds and nanos.
func parseRetryValue(v any) *time.Duration {
	switch val := v.(type) {
	case int:
		return secondsPtr(float64(val))
	case int64:
		return secondsPtr(float64(val))
	case float64:
		return secondsPtr(val)
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(val), "s")
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return secondsPtr(f)
	case map[string]any:
		seconds, hasSeconds := numberValue(val["seconds"])
		nanos, hasNanos := numberValue(val["nanos"])
		if !hasSeconds && !hasNanos {
			return nil
		}
		d := time.Duration(seconds*float64(time.Second)) + time.Duration(nanos)
		return &d
	default:
		return nil
	}
}

func numberValue(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func secondsPtr(s float64) *time.Duration {
	d := time.Duration(s * float64(time.Second))
	return &d
}
