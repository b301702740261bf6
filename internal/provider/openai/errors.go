package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	sdkopenai "github.com/openai/openai-go"

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

	var apiErr *sdkopenai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %w", err)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", provider.ErrRateLimit, apiErr.Message)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", provider.ErrProviderDown, apiErr.Message)
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s", provider.ErrTimeout, apiErr.Message)
	case http.StatusBadRequest:
		if apiErr.Code == "context_length_exceeded" || strings.Contains(apiErr.Message, "maximum context length") {
			return fmt.Errorf("%w: %s", provider.ErrContextLength, apiErr.Message)
		}
		return fmt.Errorf("openai: bad request: %w", err)
	default:
		return fmt.Errorf("openai: HTTP %d: %w", apiErr.StatusCode, err)
	}
}
