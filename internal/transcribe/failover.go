package transcribe

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Failover prefers the primary gateway and switches to the fallback when the
// primary fails. Once the fallback succeeds it stays active until it fails;
// then the primary is retried.
type Failover struct {
	primary        Gateway
	fallback       Gateway
	fallbackActive atomic.Bool
}

func NewFailover(primary, fallback Gateway) *Failover {
	return &Failover{primary: primary, fallback: fallback}
}

func (f *Failover) Name() string {
	return f.primary.Name() + "+" + f.fallback.Name()
}

// Active names the gateway the next call will try first.
func (f *Failover) Active() string {
	if f.fallbackActive.Load() {
		return f.fallback.Name()
	}
	return f.primary.Name()
}

func (f *Failover) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if f.fallbackActive.Load() {
		text, fbErr := f.fallback.Transcribe(ctx, audio, mimeType)
		if fbErr == nil {
			return text, nil
		}
		text, prErr := f.primary.Transcribe(ctx, audio, mimeType)
		if prErr == nil {
			f.fallbackActive.Store(false)
			return text, nil
		}
		return "", fmt.Errorf("%s fallback failed: %v; %s primary failed: %w", f.fallback.Name(), fbErr, f.primary.Name(), prErr)
	}

	text, prErr := f.primary.Transcribe(ctx, audio, mimeType)
	if prErr == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", prErr
	}
	text, fbErr := f.fallback.Transcribe(ctx, audio, mimeType)
	if fbErr != nil {
		return "", fmt.Errorf("%s primary failed: %v; %s fallback failed: %w", f.primary.Name(), prErr, f.fallback.Name(), fbErr)
	}
	f.fallbackActive.Store(true)
	return text, nil
}
