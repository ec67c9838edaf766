// Package syncer moves entities between the local store and the remote
// document store: full push and pull cycles, and the retry queue.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"signalsync/internal/database"
	"signalsync/internal/domain"
	"signalsync/internal/events"
	"signalsync/internal/metrics"
	"signalsync/internal/models"
	"signalsync/internal/remote"

	"github.com/rs/zerolog"
)

const (
	DefaultWorkers           = 4
	DefaultSystemicThreshold = 5
	DefaultActor             = "system"
	DefaultCursorSkew        = 30 * time.Second
)

type Options struct {
	Workers           int
	SystemicThreshold int
	DefaultActor      string
	DefaultStatusCode string
	MaxRetries        int
	Backoff           database.Backoff
	// PullCursor enables incremental pulls through the gateway change feed.
	PullCursor bool
	CursorSkew time.Duration
	Cursors    domain.CursorStore
	Events     domain.EventPublisher
	Now        func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.SystemicThreshold <= 0 {
		o.SystemicThreshold = DefaultSystemicThreshold
	}
	if o.DefaultActor == "" {
		o.DefaultActor = DefaultActor
	}
	if o.DefaultStatusCode == "" {
		o.DefaultStatusCode = models.DefaultStatusCode
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = models.DefaultMaxRetries
	}
	if o.Backoff == nil {
		o.Backoff = database.LinearBackoff(database.DefaultRetryStep)
	}
	if o.CursorSkew <= 0 {
		o.CursorSkew = DefaultCursorSkew
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Orchestrator runs sync cycles and drains the sync queue.
type Orchestrator struct {
	db      *database.DB
	gateway remote.Gateway
	opts    Options
	logger  *zerolog.Logger

	kinds   []Kind
	byType  map[models.EntityType]Kind
	running atomic.Bool
}

func New(db *database.DB, gw remote.Gateway, opts Options, logger *zerolog.Logger) *Orchestrator {
	opts.applyDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	o := &Orchestrator{
		db:      db,
		gateway: gw,
		opts:    opts,
		logger:  logger,
		kinds:   defaultKinds(opts.DefaultStatusCode),
		byType:  make(map[models.EntityType]Kind),
	}
	for _, k := range o.kinds {
		o.byType[k.Type()] = k
	}
	return o
}

func (o *Orchestrator) now() time.Time {
	return o.opts.Now().UTC()
}

// Kind returns the synchronized kind for an entity type.
func (o *Orchestrator) Kind(t models.EntityType) (Kind, bool) {
	k, ok := o.byType[t]
	return k, ok
}

// Running reports whether a cycle is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

func (o *Orchestrator) SyncAll(ctx context.Context, actor string) (*Result, error) {
	return o.Run(ctx, CycleOptions{Mode: ModeFull, Actor: actor})
}

func (o *Orchestrator) Push(ctx context.Context, actor string) (*Result, error) {
	return o.Run(ctx, CycleOptions{Mode: ModePush, Actor: actor})
}

func (o *Orchestrator) Pull(ctx context.Context, actor string) (*Result, error) {
	return o.Run(ctx, CycleOptions{Mode: ModePull, Actor: actor})
}

// SyncType runs a cycle restricted to one entity type.
func (o *Orchestrator) SyncType(ctx context.Context, t models.EntityType, mode Mode, actor string) (*Result, error) {
	return o.Run(ctx, CycleOptions{Mode: mode, Types: []models.EntityType{t}, Actor: actor})
}

// Run executes one cycle. Per-entity failures are reported in the Result;
// the error is only set when the cycle could not start.
func (o *Orchestrator) Run(ctx context.Context, opts CycleOptions) (res *Result, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}
	if _, ok := ParseMode(string(opts.Mode)); !ok {
		return nil, fmt.Errorf("unknown cycle mode %q", opts.Mode)
	}
	kinds, err := o.selectKinds(opts.Types)
	if err != nil {
		return nil, err
	}
	if opts.Actor == "" {
		opts.Actor = o.opts.DefaultActor
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer o.running.Store(false)

	log := o.logger.With().Str("mode", string(opts.Mode)).Str("actor", opts.Actor).Logger()
	res = &Result{Mode: opts.Mode, StartedAt: o.now()}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Sync cycle aborted")
			res.ErrorMessage = fmt.Sprintf("cycle aborted: %v", r)
		}
		o.finish(res, opts, &log)
	}()

	if opts.Mode == ModeFull || opts.Mode == ModePush {
		res.Push = o.pushPhase(ctx, kinds, opts.Actor)
	}
	if opts.Mode == ModeFull || opts.Mode == ModePull {
		res.Pull = o.pullPhase(ctx, orderForPull(kinds), opts.Actor)
	}
	return res, nil
}

func (o *Orchestrator) finish(res *Result, opts CycleOptions, log *zerolog.Logger) {
	res.FinishedAt = o.now()
	if res.ErrorMessage == "" {
		res.ErrorMessage = joinErrors(res.Push.Error, res.Pull.Error)
	}
	// Per-item errors are reported as counts; only an aborted phase fails the cycle.
	res.Success = res.ErrorMessage == ""

	metrics.ObserveCycle(string(res.Mode), res.Success, res.FinishedAt.Sub(res.StartedAt))
	log.Info().
		Bool("success", res.Success).
		Int("successes", res.TotalSuccess()).
		Int("errors", res.TotalErrors()).
		Dur("duration", res.FinishedAt.Sub(res.StartedAt)).
		Msg("Sync cycle finished")

	o.publish(events.EventCycleFinished, events.CyclePayload{
		Mode:         string(res.Mode),
		Success:      res.Success,
		ErrorMessage: res.ErrorMessage,
		Successes:    res.SuccessCounts(),
		Errors:       res.ErrorCounts(),
		Actor:        opts.Actor,
		StartedAt:    res.StartedAt,
		FinishedAt:   res.FinishedAt,
	})
}

func (o *Orchestrator) publish(eventType string, payload interface{}) {
	if o.opts.Events == nil {
		return
	}
	if err := o.opts.Events.PublishJSON(eventType, payload); err != nil {
		o.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

func (o *Orchestrator) selectKinds(types []models.EntityType) ([]Kind, error) {
	if len(types) == 0 {
		return o.kinds, nil
	}
	want := make(map[models.EntityType]bool, len(types))
	for _, t := range types {
		if _, ok := o.byType[t]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, t)
		}
		want[t] = true
	}
	var out []Kind
	for _, k := range o.kinds {
		if want[k.Type()] {
			out = append(out, k)
		}
	}
	return out, nil
}

func orderForPull(kinds []Kind) []Kind {
	byType := make(map[models.EntityType]Kind, len(kinds))
	for _, k := range kinds {
		byType[k.Type()] = k
	}
	out := make([]Kind, 0, len(kinds))
	for _, t := range pullOrder {
		if k, ok := byType[t]; ok {
			out = append(out, k)
		}
	}
	return out
}

func joinErrors(msgs ...string) string {
	out := ""
	for _, m := range msgs {
		if m == "" {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += m
	}
	return out
}

// breaker trips after a run of consecutive systemic failures and cancels the phase.
type breaker struct {
	mu        sync.Mutex
	threshold int
	streak    int
	tripped   bool
	cause     error
	cancel    context.CancelFunc
}

func newBreaker(threshold int, cancel context.CancelFunc) *breaker {
	return &breaker{threshold: threshold, cancel: cancel}
}

func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if Classify(err) != CategorySystemic {
		b.streak = 0
		return
	}
	b.streak++
	if b.streak >= b.threshold {
		b.tripLocked(err)
	}
}

// trip cancels the phase at once, for failures that affect a whole collection.
func (b *breaker) trip(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripLocked(err)
}

func (b *breaker) tripLocked(err error) {
	if b.tripped {
		return
	}
	b.tripped = true
	b.cause = err
	b.cancel()
}

func (b *breaker) state() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped, b.cause
}

// response is the remote response echoed into history.
type response struct {
	RemoteID string   `json:"remoteId,omitempty"`
	Status   string   `json:"status"`
	Losses   []string `json:"losses,omitempty"`
}

func (r response) raw() json.RawMessage {
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
