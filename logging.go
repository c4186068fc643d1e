package reactor

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Categories for rate limited warnings.
const (
	logCategoryQueueFull = "queue_full"
)

// warnRates bounds repeated warnings per category to one every two seconds.
var warnRates = map[time.Duration]int{
	2 * time.Second: 1,
}

// loopLogger wraps the optional logger with per category rate limiting.
type loopLogger struct {
	*logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
}

func newLoopLogger(logger *logiface.Logger[logiface.Event]) loopLogger {
	return loopLogger{
		Logger:  logger,
		limiter: catrate.NewLimiter(warnRates),
	}
}

// limitedWarning returns a warning builder, or nil when category has logged
// too recently. Nil builders are safe to use and log nothing.
func (x loopLogger) limitedWarning(category string) *logiface.Builder[logiface.Event] {
	if x.Logger == nil {
		return nil
	}
	if _, ok := x.limiter.Allow(category); !ok {
		return nil
	}
	return x.Warning().Str("category", category)
}
