package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/gurre/cognito-profile/metrics"
	"go.uber.org/zap"
)

// step is one write in a multi-backend flow. compensate undoes run and may be
// nil when there is nothing to undo.
type step struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// saga runs steps in order. When a step fails, the compensations of the steps
// that already succeeded run in reverse order.
type saga struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	steps   []step
}

func newSaga(logger *zap.Logger, m *metrics.Metrics) *saga {
	return &saga{logger: logger, metrics: m}
}

func (sg *saga) add(st step) *saga {
	sg.steps = append(sg.steps, st)
	return sg
}

// execute returns the failing step's error, joined with any compensation
// errors.
func (sg *saga) execute(ctx context.Context) error {
	done := make([]step, 0, len(sg.steps))
	for _, st := range sg.steps {
		if err := st.run(ctx); err != nil {
			sg.logger.Warn("step failed",
				zap.String("step", st.name),
				zap.Int("completed_steps", len(done)),
				zap.Error(err),
			)
			return sg.rollback(ctx, done, fmt.Errorf("%s: %w", st.name, err))
		}
		done = append(done, st)
		sg.logger.Debug("step completed", zap.String("step", st.name))
	}
	return nil
}

func (sg *saga) rollback(ctx context.Context, done []step, cause error) error {
	// Compensation must run even when the flow's context was canceled.
	ctx = context.WithoutCancel(ctx)

	failures := []error{cause}
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.compensate == nil {
			continue
		}
		if err := st.compensate(ctx); err != nil {
			sg.logger.Error("compensation failed",
				zap.String("step", st.name),
				zap.Error(err),
			)
			failures = append(failures, fmt.Errorf("compensate %s: %w", st.name, err))
			continue
		}
		sg.metrics.Compensated()
		sg.logger.Info("step compensated", zap.String("step", st.name))
	}

	if len(failures) == 1 {
		return cause
	}
	return errors.Join(failures...)
}
