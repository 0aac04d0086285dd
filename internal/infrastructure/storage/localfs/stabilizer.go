package localfs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
)

type StabilizerOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	// EmptyGrace is how long a file must stay empty and untouched before it is
	// handed on as is.
	EmptyGrace time.Duration
}

func (o StabilizerOptions) normalize() StabilizerOptions {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Minute
	}
	if o.EmptyGrace <= 0 {
		o.EmptyGrace = 3 * time.Second
	}
	return o
}

// Stabilizer waits until a file stops growing before it is parsed.
type Stabilizer struct {
	interval   time.Duration
	timeout    time.Duration
	emptyGrace time.Duration
}

func NewStabilizer(opts StabilizerOptions) *Stabilizer {
	opts = opts.normalize()
	return &Stabilizer{interval: opts.Interval, timeout: opts.Timeout, emptyGrace: opts.EmptyGrace}
}

type sample struct {
	size    int64
	modTime time.Time
}

// Stabilize samples size and modification time every interval. The file is
// stable once two consecutive samples match and it is not empty. An empty file
// that stays unchanged for the empty grace period is stable too, so a truly
// empty document reaches the parser instead of holding the queue until timeout.
func (s *Stabilizer) Stabilize(ctx context.Context, path string) (domain.StabilizationState, error) {
	state := domain.StabilizationDetected
	prev, err := s.sample(path)
	if err != nil {
		return state, err
	}

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	state = domain.StabilizationStabilizing
	var emptySince time.Time
	for {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-deadline.C:
			return domain.StabilizationTimedOut, domain.WrapError(
				domain.ErrStabilizationTimeout,
				"stabilize "+path,
				fmt.Errorf("still changing after %s (size %d)", s.timeout, prev.size),
			)
		case <-ticker.C:
			cur, err := s.sample(path)
			if err != nil {
				return state, err
			}
			unchanged := cur.size == prev.size && cur.modTime.Equal(prev.modTime)
			switch {
			case unchanged && cur.size > 0:
				return domain.StabilizationStable, nil
			case unchanged:
				if emptySince.IsZero() {
					emptySince = time.Now()
				} else if time.Since(emptySince) >= s.emptyGrace {
					return domain.StabilizationStable, nil
				}
			default:
				emptySince = time.Time{}
			}
			prev = cur
		}
	}
}

func (s *Stabilizer) sample(path string) (sample, error) {
	info, err := os.Stat(path)
	if err != nil {
		return sample{}, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return sample{}, fmt.Errorf("stat file: %s is a directory", path)
	}
	return sample{size: info.Size(), modTime: info.ModTime()}, nil
}
