package openai

import (
	"context"
	"errors"

	oa "github.com/openai/openai-go/v3"

	"github.com/relaygate/core/gatewayerr"
)

// classifyError turns an OpenAI SDK error (or a plain context/network
// error) into a *gatewayerr.Error so the retry engine never has to know
// about *openai.Error's shape (SPEC_FULL.md §7: SDK errors are classified
// into gatewayerr.Error at the provider boundary, not leaked across it).
func classifyError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return gatewayerr.Wrap(gatewayerr.KindCancelled, "openai request cancelled", err)
	}

	var apiErr *oa.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return gatewayerr.Wrap(gatewayerr.KindAuth, "openai authentication failed", err)
		case apiErr.StatusCode == 429:
			return gatewayerr.Wrap(gatewayerr.KindRateLimit, "openai rate limit exceeded", err)
		case apiErr.StatusCode == 400 || apiErr.StatusCode == 422:
			return gatewayerr.Wrap(gatewayerr.KindBadRequest, "openai rejected the request", err)
		case apiErr.StatusCode >= 500:
			return gatewayerr.Wrap(gatewayerr.KindProviderUnavailable, "openai server error", err)
		default:
			return gatewayerr.Wrap(gatewayerr.KindInternal, "openai request failed", err)
		}
	}

	return gatewayerr.Wrap(gatewayerr.KindProviderUnavailable, "openai request failed", err)
}
