package resourcesaga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fortressi/resourcesaga/internal/logger"
	"github.com/fortressi/resourcesaga/internal/metrics"
)

const tracerName = "github.com/fortressi/resourcesaga"

// Executor runs resource sagas on the caller's goroutine. It holds no
// per-run state and is safe for concurrent use.
type Executor struct {
	journal Journal
	logger  zerolog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithJournal persists every run. Without a journal runs are only logged.
func WithJournal(j Journal) Option {
	return func(e *Executor) { e.journal = j }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an executor. The zero configuration logs nothing,
// uses the global tracer provider and keeps no journal.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		logger: zerolog.Nop(),
		tracer: otel.Tracer(tracerName),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run creates the remote resources described by action, applies the
// action's side-effect plan to each of them and, if any side effect fails,
// deletes every resource it created.
//
// The returned error is one of *RemoteCreateError, *AuditLoggingError or
// *CompensationError, or ErrInvalidAction for an incomplete action. The
// outcome is filled in either way.
func Run[In any](ctx context.Context, e *Executor, actorID uuid.UUID, input In, action *ResourceAction[In]) (SagaOutcome, error) {
	if err := action.validate(); err != nil {
		return SagaOutcome{}, err
	}

	runID := newRunID()
	started := e.now()

	ctx, span := e.tracer.Start(ctx, "saga.run", trace.WithAttributes(
		attribute.String("saga.kind", string(action.Kind)),
		attribute.String("saga.run_id", runID),
	))
	defer span.End()

	r := &sagaRun{
		e: e,
		log: logger.WithContext(ctx, e.logger).With().
			Str("run_id", runID).
			Str("kind", string(action.Kind)).
			Str("actor_id", actorID.String()).
			Logger(),
		runLog: NewRunLog(runID),
		rec: RunRecord{
			RunID:     runID,
			Kind:      action.Kind,
			ActorID:   actorID,
			Status:    RunRunning,
			CreatedAt: started,
		},
	}
	r.persist(ctx)

	outcome, err := execute(ctx, r, actorID, input, action)

	e.metrics.ObserveSagaRun(string(action.Kind), outcome.FailureStage.String(), e.now().Sub(started))
	span.SetAttributes(attribute.String("saga.stage", outcome.FailureStage.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome.FailureStage.String())
	}
	return outcome, err
}

func execute[In any](ctx context.Context, r *sagaRun, actorID uuid.UUID, input In, action *ResourceAction[In]) (SagaOutcome, error) {
	outcome := SagaOutcome{RunID: r.rec.RunID, Kind: action.Kind}

	handles, err := action.Create(ctx, input)
	if err == nil && len(handles) == 0 {
		// nothing to audit or compensate
		err = ErrNoResources
	}
	if err != nil {
		r.log.Warn().Err(err).Msg("remote create failed")
		outcome.FailureStage = StageRemoteCreate
		r.finish(ctx, RunFailed, StageRemoteCreate, err)
		return outcome, &RemoteCreateError{Kind: action.Kind, Err: err}
	}

	outcome.ResourceIDs = resourceIDs(handles)
	r.rec.Handles = handles
	for _, h := range handles {
		r.record(h.ResourceID, EventCreated)
	}
	r.persist(ctx)

	var auditErr error
	for _, h := range handles {
		if err := action.Audit.Apply(ctx, h, actorID); err != nil {
			r.record(h.ResourceID, EventAuditFailed)
			auditErr = err
			break
		}
		r.record(h.ResourceID, EventAudited)
	}

	if auditErr == nil {
		outcome.Success = true
		r.finish(ctx, RunCompleted, StageNone, nil)
		r.log.Debug().Int("resources", len(handles)).Msg("saga completed")
		return outcome, nil
	}

	r.log.Warn().Err(auditErr).Msg("side effect failed, compensating")
	orphaned, deleteErr := compensate(ctx, r, handles, action.Delete)

	if deleteErr == nil {
		outcome.FailureStage = StageLocalAudit
		r.finish(ctx, RunCancelled, StageLocalAudit, auditErr)
		return outcome, &AuditLoggingError{
			Kind:        action.Kind,
			ResourceIDs: outcome.ResourceIDs,
			Err:         auditErr,
		}
	}

	outcome.FailureStage = StageCompensation
	r.rec.Orphaned = orphaned
	r.finish(ctx, RunInconsistent, StageCompensation, deleteErr)
	r.e.metrics.AddOrphaned(string(action.Kind), len(orphaned))
	r.log.Error().
		Err(deleteErr).
		AnErr("audit_error", auditErr).
		Strs("orphaned", orphaned).
		Msg("compensation failed, remote resources are inconsistent")

	return outcome, &CompensationError{
		Kind:     action.Kind,
		Orphaned: orphaned,
		AuditErr: auditErr,
		Err:      deleteErr,
	}
}

// compensate deletes every handle, including those after a failed delete.
// It returns the resources left behind and their joined delete errors.
func compensate(ctx context.Context, r *sagaRun, handles []Handle, del DeleteFunc) ([]string, error) {
	// Compensation runs even when the caller's context is done.
	ctx = context.WithoutCancel(ctx)

	var (
		orphaned []string
		errs     []error
	)
	for _, h := range handles {
		r.record(h.ResourceID, EventCompensationStarted)
		if err := del(ctx, h); err != nil {
			r.record(h.ResourceID, EventCompensationFailed)
			orphaned = append(orphaned, h.ResourceID)
			errs = append(errs, fmt.Errorf("delete %s: %w", h, err))
			continue
		}
		r.record(h.ResourceID, EventCompensated)
	}
	return orphaned, errors.Join(errs...)
}

type sagaRun struct {
	e      *Executor
	log    zerolog.Logger
	runLog *RunLog
	rec    RunRecord
}

func (r *sagaRun) record(resourceID string, ev HandleEventType) {
	if err := r.runLog.Record(resourceID, ev); err != nil {
		r.log.Warn().Err(err).Msg("run log rejected event")
	}
}

func (r *sagaRun) finish(ctx context.Context, status RunStatus, stage FailureStage, err error) {
	r.rec.Status = status
	if stage != StageNone {
		r.rec.Stage = stage.String()
	}
	if err != nil {
		r.rec.Error = err.Error()
	}
	r.persist(ctx)
}

// persist writes the run to the journal. A journal failure never changes
// the outcome of the saga.
func (r *sagaRun) persist(ctx context.Context) {
	if r.e.journal == nil {
		return
	}
	r.rec.Events = r.runLog.Events()
	if err := r.e.journal.Save(context.WithoutCancel(ctx), r.rec); err != nil {
		r.log.Error().Err(err).Str("status", string(r.rec.Status)).Msg("failed to persist saga run")
	}
}

// newRunID returns a time ordered id so journals list runs by start time.
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
