package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultAttempts is the retry budget of one poll.
	DefaultAttempts = 3

	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 5 * time.Second
)

// Service runs queries through the registry with a bounded retry budget
type Service struct {
	registry *Registry
	timeout  time.Duration
	// pause between failed attempts
	backoff time.Duration
	log     *slog.Logger
}

// NewService creates a query service. A non-positive timeout uses DefaultTimeout.
func NewService(registry *Registry, timeout time.Duration, log *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		registry: registry,
		timeout:  timeout,
		backoff:  250 * time.Millisecond,
		log:      log,
	}
}

// Query asks host:port for its state, trying up to maxAttempts times. When
// every attempt fails the returned error wraps ErrExhausted. Any other error
// (unknown kind, cancelled context) means the query could not be issued.
func (s *Service) Query(ctx context.Context, kind Kind, host string, port, maxAttempts int) (*Response, error) {
	q, err := s.registry.Get(kind)
	if err != nil {
		return nil, err
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := s.attempt(ctx, q, kind, host, port)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		s.log.Debug("Query attempt failed", "kind", kind, "host", host, "port", port, "attempt", attempt, "error", err)

		if attempt < maxAttempts && s.backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff):
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, lastErr)
}

func (s *Service) attempt(ctx context.Context, q Querier, kind Kind, host string, port int) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := q.Query(ctx, kind, host, port)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("empty response")
	}
	return resp, nil
}
