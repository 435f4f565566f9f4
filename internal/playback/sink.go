package playback

import (
	"context"
	"time"

	"github.com/ent0n29/ridecheck/internal/audio"
)

// PacedSink hands each chunk to Out and then holds for the chunk's playback
// duration, so a queue driving it tracks what the listener actually hears.
type PacedSink struct {
	Out func(ctx context.Context, pcm []byte, f audio.Format) error
	// Lead shortens each wait so the far end keeps a small buffer.
	Lead time.Duration
}

func (s PacedSink) Play(ctx context.Context, pcm []byte, f audio.Format) error {
	if s.Out != nil {
		if err := s.Out(ctx, pcm, f); err != nil {
			return err
		}
	}
	wait := f.Duration(len(pcm)) - s.Lead
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
