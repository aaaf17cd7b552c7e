// Package blob stores raw image bytes in object storage.
package blob

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"repost/internal/models"
)

// Object describes a stored blob.
type Object struct {
	ProviderID string
	URL        string
	ETag       string
}

// Store persists bytes under key and returns a permanent retrieval URL.
// Failures are reported as *models.UpstreamError carrying whether a retry
// may succeed.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (Object, error)
}

// Retrying retries transient failures of the wrapped store with
// exponential backoff. Permanent failures return immediately.
type Retrying struct {
	next     Store
	attempts uint64
	base     time.Duration
}

func NewRetrying(next Store, attempts int, base time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return &Retrying{next: next, attempts: uint64(attempts), base: base}
}

func (r *Retrying) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	var obj Object
	backoff := retry.WithMaxRetries(r.attempts-1, retry.NewExponential(r.base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		o, err := r.next.Put(ctx, key, data, contentType)
		if err != nil {
			if models.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		obj = o
		return nil
	})
	return obj, err
}
