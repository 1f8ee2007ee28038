package llm

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// FailoverClient tries a primary client and, when the primary is unavailable
// or times out, retries the request once against a fallback client. Schema
// violations and malformed responses are not failed over: those are content
// problems the fallback is no more likely to fix, and retrying them would
// double the cost of every bad response.
type FailoverClient struct {
	primary  Client
	fallback Client
	logger   *zap.Logger
}

// NewFailoverClient builds a failover pair. fallback may be nil, in which
// case the client degenerates to the primary alone.
func NewFailoverClient(primary, fallback Client, logger *zap.Logger) *FailoverClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailoverClient{primary: primary, fallback: fallback, logger: logger}
}

// Invoke implements Client.
func (f *FailoverClient) Invoke(ctx context.Context, req Request) (string, error) {
	content, err := f.primary.Invoke(ctx, req)
	if err == nil {
		return content, nil
	}
	if f.fallback == nil || !shouldFailover(err) {
		return "", err
	}
	if ctx.Err() != nil {
		return "", err
	}

	f.logger.Warn("primary model provider failed, trying fallback", zap.Error(err))
	content, fbErr := f.fallback.Invoke(ctx, req)
	if fbErr != nil {
		// Report the primary failure; the fallback attempt is logged.
		f.logger.Warn("fallback model provider also failed", zap.Error(fbErr))
		return "", err
	}
	return content, nil
}

func shouldFailover(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

var _ Client = (*FailoverClient)(nil)
