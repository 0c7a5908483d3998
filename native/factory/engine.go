package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stablefactory/core/events"
	"stablefactory/core/state"
	"stablefactory/native/bank"
	"stablefactory/native/feeds"
	"stablefactory/observability"
)

// Bank is the token ledger the engine moves funds through. Every call runs
// inside the operation's state transaction.
type Bank interface {
	CreateAsset(id string, decimals uint16, authority [20]byte) (*bank.Asset, error)
	Asset(id string) (*bank.Asset, error)
	OpenAccount(id string, owner [20]byte, asset string) (*bank.Account, error)
	Account(id string) (*bank.Account, error)
	AccountsByOwner(owner [20]byte) ([]*bank.Account, error)
	Transfer(authority [20]byte, from, to string, amount uint64) error
	MintTo(authority [20]byte, to string, amount uint64) error
	Burn(authority [20]byte, from string, amount uint64) error
	SetMintAuthority(current [20]byte, asset string, next [20]byte) error
}

// FeedRegistry stores price feeds and their latest rounds.
type FeedRegistry interface {
	FeedReader
	CreateFeed(id, description string, decimals uint8) (*feeds.Feed, error)
	SubmitRound(id string, answer int64, at time.Time) (*feeds.Round, error)
	Feed(id string) (*feeds.Feed, error)
	List() ([]*feeds.Feed, error)
}

// Config holds engine-wide parameters.
type Config struct {
	StableAsset    string
	StableDecimals uint16
	OracleMaxAge   time.Duration
}

// Option customises an Engine.
type Option func(*Engine)

// WithEmitter sets the sink for committed events.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithBank overrides how the bank is bound to a transaction.
func WithBank(fn func(state.KV) Bank) Option {
	return func(e *Engine) {
		if fn != nil {
			e.bankFor = fn
		}
	}
}

// WithFeeds overrides how the feed registry is bound to a transaction.
func WithFeeds(fn func(state.KV) FeedRegistry) Option {
	return func(e *Engine) {
		if fn != nil {
			e.feedsFor = fn
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine executes channel administration and conversions. Every operation is
// a single state transaction: any failure leaves state untouched.
type Engine struct {
	state    *state.Manager
	access   *AccessControl
	cfg      Config
	emitter  events.Emitter
	bankFor  func(state.KV) Bank
	feedsFor func(state.KV) FeedRegistry
	clock    func() time.Time
	metrics  *observability.FactoryMetrics
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewEngine constructs an engine over the state manager.
func NewEngine(manager *state.Manager, access *AccessControl, cfg Config, opts ...Option) (*Engine, error) {
	if manager == nil {
		return nil, fmt.Errorf("factory: state manager required")
	}
	if access == nil {
		return nil, fmt.Errorf("factory: access control required")
	}
	cfg.StableAsset = strings.TrimSpace(cfg.StableAsset)
	if cfg.StableAsset == "" {
		return nil, fmt.Errorf("factory: stable asset required")
	}
	if cfg.StableDecimals == 0 {
		cfg.StableDecimals = DefaultStableDecimals
	}
	if err := validateDecimals(cfg.StableDecimals); err != nil {
		return nil, err
	}
	engine := &Engine{
		state:    manager,
		access:   access,
		cfg:      cfg,
		emitter:  events.NoopEmitter{},
		bankFor:  func(kv state.KV) Bank { return bank.NewLedger(kv) },
		feedsFor: func(kv state.KV) FeedRegistry { return feeds.NewRegistry(kv) },
		clock:    time.Now,
		metrics:  observability.Factory(),
		tracer:   otel.Tracer("factory/engine"),
		logger:   slog.Default().With("component", "factory"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine, nil
}

// SetClock overrides the time source (primarily for deterministic testing).
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to
// a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// txContext bundles the collaborators bound to one state transaction.
type txContext struct {
	ledger *Ledger
	bank   Bank
	feeds  FeedRegistry
	oracle *Oracle
	now    time.Time
}

func (e *Engine) bind(kv state.KV) *txContext {
	now := e.clock()
	registry := e.feedsFor(kv)
	return &txContext{
		ledger: NewLedger(kv),
		bank:   e.bankFor(kv),
		feeds:  registry,
		oracle: NewOracle(registry, e.cfg.OracleMaxAge, func() time.Time { return now }),
		now:    now,
	}
}

func (tc *txContext) appConfig() (*AppConfig, error) {
	cfg, ok, err := tc.ledger.AppConfig()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: app config not created", ErrUnavailable)
	}
	return cfg, nil
}

// execute runs fn as one atomic transition and emits the returned events
// once the transition committed.
func (e *Engine) execute(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context, tc *txContext) ([]events.Event, error)) error {
	start := e.clock()
	ctx, span := e.tracer.Start(ctx, "factory."+op, trace.WithAttributes(attrs...))
	defer span.End()

	var pending []events.Event
	err := e.state.Atomic(func(tx *state.Tx) error {
		emitted, err := fn(ctx, e.bind(tx))
		if err != nil {
			return err
		}
		pending = emitted
		return nil
	})
	code := Code(err)
	e.metrics.Observe(op, e.clock().Sub(start), code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrLimitReached) {
			e.metrics.RecordLimitRejection(op)
		}
		if code == CodeInternal {
			e.logger.Error("factory operation failed", "op", op, "error", err)
		} else {
			e.logger.Debug("factory operation rejected", "op", op, "code", code, "error", err)
		}
		return err
	}
	span.SetStatus(codes.Ok, op+" committed")
	for _, evt := range pending {
		e.emitter.Emit(evt)
	}
	return nil
}

// view runs fn against committed state.
func (e *Engine) view(ctx context.Context, op string, fn func(ctx context.Context, tc *txContext) error) error {
	ctx, span := e.tracer.Start(ctx, "factory."+op)
	defer span.End()
	err := e.state.View(func(tx *state.Tx) error {
		return fn(ctx, e.bind(tx))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// accountError folds bank lookup and ownership failures into ErrInvalidAccount.
// Insufficient funds surfaces unchanged.
func accountError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, bank.ErrInsufficientFunds):
		return err
	case errors.Is(err, bank.ErrAccountNotFound),
		errors.Is(err, bank.ErrOwnerMismatch),
		errors.Is(err, bank.ErrAssetMismatch):
		return fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	case errors.Is(err, bank.ErrSupplyOverflow):
		return fmt.Errorf("%w: %w", ErrArithmeticOverflow, err)
	default:
		return err
	}
}

// requireAccount loads id and checks its asset and owner.
func requireAccount(b Bank, role, id, asset string, owner *[20]byte) (*bank.Account, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: %s account required", ErrInvalidAccount, role)
	}
	account, err := b.Account(id)
	if err != nil {
		return nil, fmt.Errorf("%s account: %w", role, accountError(err))
	}
	if account.Asset != asset {
		return nil, fmt.Errorf("%w: %s account %s holds %s, want %s", ErrInvalidAccount, role, account.ID, account.Asset, asset)
	}
	if owner != nil && account.Owner != *owner {
		return nil, fmt.Errorf("%w: %s account %s has unexpected owner", ErrInvalidAccount, role, account.ID)
	}
	return account, nil
}
