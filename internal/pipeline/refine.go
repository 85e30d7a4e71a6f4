package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clinical-timeline/internal/config"
)

// AttemptFunc produces one pipeline result. n is the 1-based attempt number.
type AttemptFunc func(ctx context.Context, n int) (*Result, error)

// Refine calls attempt until a result's timeline completeness reaches
// cfg.QualityThreshold or cfg.MaxAttempts is exhausted. It returns the most
// complete result seen and the number of attempts made. Failed attempts are
// logged and skipped; an error is returned only when no attempt succeeded
// or the context is done before any result exists.
func Refine(ctx context.Context, cfg config.RefineConfig, attempt AttemptFunc) (*Result, int, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var best *Result
	var lastErr error
	n := 0
	for n < cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			if best != nil {
				return best, n, nil
			}
			return nil, n, eris.Wrap(err, "pipeline: refine")
		}

		n++
		res, err := attempt(ctx, n)
		if err == nil && res == nil {
			err = eris.New("pipeline: attempt returned no result")
		}
		if err != nil {
			lastErr = err
			zap.L().Warn("pipeline: refine attempt failed",
				zap.Int("attempt", n),
				zap.Error(err),
			)
			continue
		}

		score := completeness(res)
		if best == nil || score > completeness(best) {
			best = res
		}
		if score >= cfg.QualityThreshold {
			break
		}
		zap.L().Debug("pipeline: refine below threshold",
			zap.Int("attempt", n),
			zap.Float64("completeness", score),
			zap.Float64("threshold", cfg.QualityThreshold),
		)
	}

	if best == nil {
		return nil, n, eris.Wrapf(lastErr, "pipeline: refine failed after %d attempts", n)
	}
	return best, n, nil
}

func completeness(r *Result) float64 {
	if r == nil {
		return -1
	}
	return r.Timeline.Metadata.Completeness.Score
}
