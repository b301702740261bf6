package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

// mapError converts an SDK error into the matching provider sentinel.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", provider.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", provider.ErrTimeout, err)
	}

	var apiErr *sdkanthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic: %w", err)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", provider.ErrRateLimit, apiErr.Error())
	case 529, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", provider.ErrProviderDown, apiErr.Error())
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s", provider.ErrTimeout, apiErr.Error())
	case http.StatusBadRequest:
		if isContextLengthError(apiErr.RawJSON()) {
			return fmt.Errorf("%w: %s", provider.ErrContextLength, apiErr.Error())
		}
		return fmt.Errorf("anthropic: bad request: %w", err)
	default:
		return fmt.Errorf("anthropic: HTTP %d: %w", apiErr.StatusCode, err)
	}
}

func isContextLengthError(raw string) bool {
	return strings.Contains(raw, "context length") ||
		strings.Contains(raw, "too many tokens") ||
		strings.Contains(raw, "prompt is too long")
}
