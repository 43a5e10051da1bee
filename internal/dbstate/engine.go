package dbstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/postgres"
	"github.com/google/uuid"
)

type TransitionKind string

const (
	KindSet   TransitionKind = "set"
	KindReset TransitionKind = "reset"
)

// Result describes a committed transition.
type Result struct {
	Kind     TransitionKind
	State    Descriptor
	Previous Observed
	Duration time.Duration
	At       time.Time
}

// TransitionEvent is published after every committed transition.
type TransitionEvent struct {
	EventID         string    `json:"event_id"`
	Kind            string    `json:"kind"`
	State           string    `json:"state"`
	Previous        string    `json:"previous"`
	DurationSeconds float64   `json:"duration_seconds"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Publisher delivers transition events. Delivery failures never fail a
// transition.
type Publisher interface {
	PublishJSON(ctx context.Context, v any) error
}

type EngineConfig struct {
	DB                TxBeginner
	Dialect           Dialect
	Catalog           *Catalog
	Scripts           ScriptSource
	State             *ServiceState
	Detector          *Detector
	Logger            *slog.Logger
	Metrics           *Metrics
	Publisher         Publisher
	TransitionTimeout time.Duration
	StatementTimeout  time.Duration
	Now               func() time.Time
}

// Engine applies state scripts one at a time.
type Engine struct {
	db                TxBeginner
	dialect           Dialect
	catalog           *Catalog
	scripts           ScriptSource
	state             *ServiceState
	detector          *Detector
	logger            *slog.Logger
	metrics           *Metrics
	publisher         Publisher
	transitionTimeout time.Duration
	statementTimeout  time.Duration
	now               func() time.Time
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.DB == nil || cfg.Dialect == nil || cfg.Catalog == nil || cfg.Scripts == nil || cfg.State == nil || cfg.Detector == nil {
		return nil, errors.New("engine: db, dialect, catalog, scripts, state and detector are required")
	}
	if cfg.TransitionTimeout <= 0 {
		cfg.TransitionTimeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		db:                cfg.DB,
		dialect:           cfg.Dialect,
		catalog:           cfg.Catalog,
		scripts:           cfg.Scripts,
		state:             cfg.State,
		detector:          cfg.Detector,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
		publisher:         cfg.Publisher,
		transitionTimeout: cfg.TransitionTimeout,
		statementTimeout:  cfg.StatementTimeout,
		now:               cfg.Now,
	}, nil
}

func (e *Engine) Catalog() *Catalog { return e.catalog }

func (e *Engine) State() Snapshot { return e.state.Snapshot() }

// Transition applies the script bound to target.
func (e *Engine) Transition(ctx context.Context, target string) (Result, error) {
	desc, ok := e.catalog.Applicable(target)
	if !ok {
		err := newError(KindValidation, "transition",
			fmt.Sprintf("Invalid state. Must be one of: %v", e.catalog.Available()), nil)
		e.metrics.ObserveTransition("invalid", KindSet, 0, err)
		return Result{}, err
	}
	return e.apply(ctx, KindSet, func(context.Context) (Descriptor, error) { return desc, nil })
}

// Reset re-applies the script of the state the database is in now. The state
// is detected after the lock is taken so a concurrent transition cannot make
// it stale.
func (e *Engine) Reset(ctx context.Context) (Result, error) {
	return e.apply(ctx, KindReset, func(ctx context.Context) (Descriptor, error) {
		observed := e.detector.Detect(ctx)
		desc, ok := observed.Descriptor()
		if !ok || !desc.Applicable() {
			return Descriptor{}, newError(KindPrecondition, "reset",
				"Cannot reset unknown state. Set a specific state first.", nil)
		}
		return desc, nil
	})
}

// Refresh detects the current state and stores it as the tracked state. If a
// transition is in flight nothing is stored and persisted is false.
func (e *Engine) Refresh(ctx context.Context) (observed Observed, persisted bool) {
	if !e.state.mu.TryLock() {
		return e.detector.Detect(ctx), false
	}
	defer e.state.mu.Unlock()
	observed = e.detector.Detect(ctx)
	e.state.store(observed, e.state.Snapshot().LastChange)
	return observed, true
}

func (e *Engine) apply(ctx context.Context, kind TransitionKind, resolve func(context.Context) (Descriptor, error)) (Result, error) {
	// The transition must finish or roll back on its own terms even if the
	// caller goes away; the timeout bounds it instead.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.transitionTimeout)
	defer cancel()

	e.state.beginTransition()
	e.metrics.SetInFlight(true)
	res, err := e.applyLocked(ctx, kind, resolve)
	if err == nil {
		// Still under the lock, so events go out in commit order.
		e.publish(ctx, res)
	}
	e.metrics.SetInFlight(false)
	e.state.endTransition()

	stateLabel := string(res.State.Name)
	if stateLabel == "" {
		stateLabel = "unknown"
	}
	e.metrics.ObserveTransition(stateLabel, kind, res.Duration, err)
	if err != nil {
		e.logger.Error("state transition failed", "kind", kind, "state", stateLabel, "error", err)
		return Result{}, err
	}
	e.logger.Info("state transition completed",
		"kind", kind,
		"state", stateLabel,
		"previous", res.Previous.Name(),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Engine) applyLocked(ctx context.Context, kind TransitionKind, resolve func(context.Context) (Descriptor, error)) (Result, error) {
	start := e.now()
	desc, err := resolve(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Kind: kind, State: desc}

	script, err := e.scripts.Load(desc.Script)
	if err != nil {
		return res, newError(KindConfiguration, "load script",
			fmt.Sprintf("Script for state %s is missing or unreadable", desc.Name), err)
	}

	e.logger.Info("applying state script", "kind", kind, "state", desc.Name, "script", desc.Script)
	if err := e.execute(ctx, kind, script); err != nil {
		return res, err
	}

	at := e.now()
	res.Previous = e.state.Snapshot().Current
	res.At = at
	res.Duration = at.Sub(start)
	e.state.store(Known(desc), at)
	return res, nil
}

func (e *Engine) execute(ctx context.Context, kind TransitionKind, script string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return execError(kind, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := e.dialect.PrepareTransition(ctx, tx, e.statementTimeout); err != nil {
		return execError(kind, "prepare", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		return execError(kind, "execute", err)
	}
	if err := tx.Commit(); err != nil {
		return execError(kind, "commit", err)
	}
	return nil
}

func execError(kind TransitionKind, op string, err error) error {
	msg := "Failed to apply database state"
	if kind == KindReset {
		msg = "Failed to reset database state"
	}
	switch {
	case postgres.IsUnavailable(err):
		return newError(KindDatabaseUnavailable, op, "Database unavailable", err)
	case errors.Is(err, context.DeadlineExceeded), postgres.IsQueryCanceled(err):
		return newError(KindTransition, op, msg+": timed out", err)
	default:
		return newError(KindTransition, op, msg, err)
	}
}

func (e *Engine) publish(ctx context.Context, res Result) {
	if e.publisher == nil {
		return
	}
	event := TransitionEvent{
		EventID:         uuid.NewString(),
		Kind:            string(res.Kind),
		State:           string(res.State.Name),
		Previous:        res.Previous.Name(),
		DurationSeconds: res.Duration.Seconds(),
		OccurredAt:      res.At.UTC(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.publisher.PublishJSON(pubCtx, event); err != nil {
		e.logger.Warn("publish transition event failed", "event_id", event.EventID, "error", err)
	}
}
