package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/credential"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

// instruments carries the collaborators every service shares: logging,
// counters, audit, the clock and the store deadline.
type instruments struct {
	logger       *zap.Logger
	metrics      *Metrics
	audit        *internalaudit.Dispatcher
	now          func() time.Time
	storeTimeout time.Duration
}

// Option configures a service constructed without the [Builder].
type Option func(*instruments)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(in *instruments) {
		if logger != nil {
			in.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(in *instruments) { in.metrics = m }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(in *instruments) {
		if now != nil {
			in.now = now
		}
	}
}

// WithStoreTimeout bounds each credential store call. Zero means no bound
// beyond the caller's context.
func WithStoreTimeout(d time.Duration) Option {
	return func(in *instruments) { in.storeTimeout = d }
}

func withAuditDispatcher(d *internalaudit.Dispatcher) Option {
	return func(in *instruments) { in.audit = d }
}

func newInstruments(opts ...Option) *instruments {
	in := &instruments{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(in)
		}
	}
	return in
}

func (in *instruments) inc(id MetricID) {
	in.metrics.Inc(id)
}

func (in *instruments) observeSince(id MetricID, start time.Time) {
	if !in.metrics.LatencyEnabled() {
		return
	}
	in.metrics.Observe(id, time.Since(start))
}

// storeContext derives the per-call deadline for a store operation.
func (in *instruments) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if in.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, in.storeTimeout)
}

// storeFailure records an infrastructure failure and maps it to
// ErrStoreUnavailable. Callers treat it as a denial.
func (in *instruments) storeFailure(op string, err error) error {
	in.inc(MetricStoreUnavailable)
	in.logger.Warn("credential store unavailable", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// credentialFailure maps an unexpected credential store error. Only backend
// outages and deadlines become ErrStoreUnavailable; anything else is a
// rejected record and retrying it cannot succeed.
func (in *instruments) credentialFailure(op string, err error) error {
	if errors.Is(err, credential.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return in.storeFailure(op, err)
	}
	in.logger.Error("credential store rejected operation", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}
