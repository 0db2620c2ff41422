package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/discounts/internal/repositories"
)

const (
	defaultToggleBatchSize          = 100
	defaultToggleBatchRetryInterval = 5 * time.Second
	defaultToggleMaxPollInterval    = time.Hour
	toggleMetricNamespace           = "github.com/hanko-field/discounts/internal/services"
	priceRecomputeReasonToggle      = "promotion_toggle"
)

// PromotionToggleSchedulerDeps configures the promotion toggle notifier.
type PromotionToggleSchedulerDeps struct {
	Promotions repositories.PromotionRepository
	Events     PromotionEventPublisher
	Recompute  PriceRecomputeDispatcher
	// BatchSize caps the promotions handled per tick; larger backlogs are drained every BatchRetryInterval.
	BatchSize          int
	BatchRetryInterval time.Duration
	MaxPollInterval    time.Duration
	// RunTimeout bounds a single tick started by Run. Zero disables the bound.
	RunTimeout  time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Meter       metric.Meter
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// PromotionToggleScheduler is the explicit state of the promotion toggle poller. One instance is
// shared by the background loop and the internal trigger endpoint; ticks are serialised.
type PromotionToggleScheduler struct {
	promotions repositories.PromotionRepository
	events     PromotionEventPublisher
	recompute  PriceRecomputeDispatcher

	batchSize     int
	retryInterval time.Duration
	maxPoll       time.Duration
	runTimeout    time.Duration

	now    func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)

	ticks                metric.Int64Counter
	ticksEnabled         bool
	notifications        metric.Int64Counter
	notificationsEnabled bool
	duration             metric.Float64Histogram
	durationEnabled      bool

	tickMu sync.Mutex
	mu     sync.RWMutex
	next   time.Time
}

// NewPromotionToggleScheduler validates dependencies and applies defaults.
func NewPromotionToggleScheduler(deps PromotionToggleSchedulerDeps) (*PromotionToggleScheduler, error) {
	if deps.Promotions == nil {
		return nil, fmt.Errorf("%w: promotion repository", ErrDiscountRepositoryMissing)
	}
	if deps.Events == nil {
		return nil, errors.New("promotion toggle scheduler: event publisher is required")
	}
	if deps.Recompute == nil {
		return nil, errors.New("promotion toggle scheduler: price recompute dispatcher is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultToggleBatchSize
	}
	retry := deps.BatchRetryInterval
	if retry <= 0 {
		retry = defaultToggleBatchRetryInterval
	}
	maxPoll := deps.MaxPollInterval
	if maxPoll <= 0 {
		maxPoll = defaultToggleMaxPollInterval
	}

	s := &PromotionToggleScheduler{
		promotions:    deps.Promotions,
		events:        deps.Events,
		recompute:     deps.Recompute,
		batchSize:     batchSize,
		retryInterval: retry,
		maxPoll:       maxPoll,
		runTimeout:    deps.RunTimeout,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}
	s.registerMetrics(deps.Meter)
	return s, nil
}

func (s *PromotionToggleScheduler) registerMetrics(meter metric.Meter) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(toggleMetricNamespace)
	}
	ctx := context.Background()

	var err error
	s.ticks, err = meter.Int64Counter(
		"discounts.promotion_toggle.ticks",
		metric.WithDescription("Count of promotion toggle ticks by outcome"),
	)
	s.ticksEnabled = err == nil
	if err != nil {
		s.logger(ctx, "promotion_toggle.metric_unavailable", map[string]any{"metric": "ticks", "error": err.Error()})
	}

	s.notifications, err = meter.Int64Counter(
		"discounts.promotion_toggle.notifications",
		metric.WithDescription("Count of promotion lifecycle events emitted"),
	)
	s.notificationsEnabled = err == nil
	if err != nil {
		s.logger(ctx, "promotion_toggle.metric_unavailable", map[string]any{"metric": "notifications", "error": err.Error()})
	}

	s.duration, err = meter.Float64Histogram(
		"discounts.promotion_toggle.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of promotion toggle ticks"),
	)
	s.durationEnabled = err == nil
	if err != nil {
		s.logger(ctx, "promotion_toggle.metric_unavailable", map[string]any{"metric": "duration", "error": err.Error()})
	}
}

// NextRunAt returns the wake time computed by the latest tick. It is zero before the first tick.
func (s *PromotionToggleScheduler) NextRunAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next
}

// Tick notifies promotions that crossed a start or end boundary since their last notification,
// dispatches a discounted price recomputation for their products, and stamps them. When more than
// BatchSize promotions are pending only the earliest batch is handled and the next tick is
// scheduled BatchRetryInterval later.
func (s *PromotionToggleScheduler) Tick(ctx context.Context) (run ToggleRun, err error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	started := time.Now()
	defer func() {
		outcome := "processed"
		switch {
		case err != nil:
			outcome = "failed"
		case run.Deferred:
			outcome = "deferred"
		}
		s.recordTick(ctx, outcome, time.Since(started))
	}()

	now := s.now()
	run.RanAt = now

	transitions, err := s.promotions.FindUnnotifiedTransitions(ctx, now)
	if err != nil {
		s.setNext(now.Add(s.retryInterval))
		return run, translateRepositoryError(err, ErrDiscountUnavailable)
	}

	batch := planToggleBatch(transitions.Starting, transitions.Ending, s.batchSize)
	run.Pending = batch.pending
	run.Deferred = batch.pending > 0

	for _, promotion := range batch.starting {
		if err := s.publish(ctx, PromotionEventStarted, promotion, now); err != nil {
			s.setNext(now.Add(s.retryInterval))
			return run, err
		}
		run.Started = append(run.Started, promotion.ID)
	}
	for _, promotion := range batch.ending {
		if err := s.publish(ctx, PromotionEventEnded, promotion, now); err != nil {
			s.setNext(now.Add(s.retryInterval))
			return run, err
		}
		run.Ended = append(run.Ended, promotion.ID)
	}

	run.ProductIDs = affectedProductIDs(batch.promotions)
	if len(run.ProductIDs) > 0 {
		job := PriceRecomputeJob{
			JobID:        ensureJobID(s.newID()),
			ProductIDs:   run.ProductIDs,
			PromotionIDs: batch.ids,
			Reason:       priceRecomputeReasonToggle,
			QueuedAt:     now,
		}
		if _, err := s.recompute.DispatchPriceRecompute(ctx, job); err != nil {
			s.setNext(now.Add(s.retryInterval))
			return run, fmt.Errorf("promotion toggle: dispatch price recompute: %w", err)
		}
	}

	if len(batch.ids) > 0 {
		if err := s.promotions.MarkNotificationScheduled(ctx, batch.ids, now); err != nil {
			s.setNext(now.Add(s.retryInterval))
			return run, translateRepositoryError(err, ErrDiscountUnavailable)
		}
	}

	if run.Deferred {
		run.NextRunAt = now.Add(s.retryInterval)
	} else {
		run.NextRunAt, err = s.nextWake(ctx, now)
		if err != nil {
			s.setNext(now.Add(s.retryInterval))
			return run, err
		}
	}
	s.setNext(run.NextRunAt)

	if len(batch.ids) > 0 || run.Deferred {
		s.logger(ctx, "promotion_toggle.processed", map[string]any{
			"started":   len(run.Started),
			"ended":     len(run.Ended),
			"products":  len(run.ProductIDs),
			"pending":   run.Pending,
			"nextRunAt": run.NextRunAt,
		})
	}
	return run, nil
}

// Run calls Tick until ctx is cancelled, sleeping until the wake time of the previous tick.
// Tick failures are logged and retried after BatchRetryInterval.
func (s *PromotionToggleScheduler) Run(ctx context.Context) error {
	for {
		tickCtx := ctx
		cancel := context.CancelFunc(func() {})
		if s.runTimeout > 0 {
			tickCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		}
		run, err := s.Tick(tickCtx)
		cancel()

		wake := run.NextRunAt
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger(ctx, "promotion_toggle.tick_failed", map[string]any{"error": err.Error()})
			wake = s.now().Add(s.retryInterval)
		}

		wait := wake.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *PromotionToggleScheduler) publish(ctx context.Context, eventType PromotionEventType, promotion Promotion, now time.Time) error {
	event := PromotionEvent{
		EventID:       ensureEventID(s.newID()),
		Type:          eventType,
		PromotionID:   promotion.ID,
		PromotionName: promotion.Name,
		StartDate:     promotion.StartDate,
		EndDate:       promotion.EndDate,
		OccurredAt:    now,
	}
	if _, err := s.events.PublishPromotionEvent(ctx, event); err != nil {
		return fmt.Errorf("promotion toggle: publish %s for %s: %w", eventType, promotion.ID, err)
	}
	if s.notificationsEnabled {
		s.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(eventType))))
	}
	return nil
}

// nextWake is the nearest upcoming unnotified boundary, bounded by the maximum poll interval.
func (s *PromotionToggleScheduler) nextWake(ctx context.Context, now time.Time) (time.Time, error) {
	limit := now.Add(s.maxPoll)
	upcoming, ok, err := s.promotions.NextTransitionAfter(ctx, now)
	if err != nil {
		return time.Time{}, translateRepositoryError(err, ErrDiscountUnavailable)
	}
	if ok && upcoming.Before(limit) {
		return upcoming.UTC(), nil
	}
	return limit, nil
}

func (s *PromotionToggleScheduler) setNext(at time.Time) {
	s.mu.Lock()
	s.next = at
	s.mu.Unlock()
}

func (s *PromotionToggleScheduler) recordTick(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if s.ticksEnabled {
		s.ticks.Add(ctx, 1, attrs)
	}
	if s.durationEnabled {
		s.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	}
}

type toggleBatch struct {
	starting   []Promotion
	ending     []Promotion
	promotions []Promotion
	ids        []string
	pending    int
}

// planToggleBatch orders the union of starting and ending promotions by the boundary they crossed
// and keeps at most limit of them.
func planToggleBatch(starting, ending []Promotion, limit int) toggleBatch {
	type entry struct {
		promotion Promotion
		boundary  time.Time
	}
	union := make(map[string]*entry)
	consider := func(promotion Promotion, boundary time.Time) {
		if existing, ok := union[promotion.ID]; ok {
			if boundary.Before(existing.boundary) {
				existing.boundary = boundary
			}
			return
		}
		union[promotion.ID] = &entry{promotion: promotion, boundary: boundary}
	}
	for _, promotion := range starting {
		consider(promotion, promotion.StartDate)
	}
	for _, promotion := range ending {
		if promotion.EndDate != nil {
			consider(promotion, *promotion.EndDate)
		}
	}

	ordered := make([]*entry, 0, len(union))
	for _, e := range union {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].boundary.Equal(ordered[j].boundary) {
			return ordered[i].boundary.Before(ordered[j].boundary)
		}
		return ordered[i].promotion.ID < ordered[j].promotion.ID
	})

	batch := toggleBatch{}
	if len(ordered) > limit {
		batch.pending = len(ordered) - limit
		ordered = ordered[:limit]
	}
	selected := make(map[string]struct{}, len(ordered))
	for _, e := range ordered {
		selected[e.promotion.ID] = struct{}{}
		batch.ids = append(batch.ids, e.promotion.ID)
		batch.promotions = append(batch.promotions, e.promotion)
	}
	for _, promotion := range starting {
		if _, ok := selected[promotion.ID]; ok {
			batch.starting = append(batch.starting, promotion)
		}
	}
	for _, promotion := range ending {
		if _, ok := selected[promotion.ID]; ok && promotion.EndDate != nil {
			batch.ending = append(batch.ending, promotion)
		}
	}
	return batch
}

// affectedProductIDs collects indexed and directly referenced products of every rule.
func affectedProductIDs(promotions []Promotion) []string {
	set := make(map[string]struct{})
	for _, promotion := range promotions {
		for _, rule := range promotion.Rules {
			for _, id := range rule.ProductIDs {
				if id = strings.TrimSpace(id); id != "" {
					set[id] = struct{}{}
				}
			}
			collectProductIDs(rule.Catalogue, set)
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func ensureEventID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		id = ulid.Make().String()
	}
	if strings.HasPrefix(id, "evt_") {
		return id
	}
	return "evt_" + id
}

func ensureJobID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		id = ulid.Make().String()
	}
	if strings.HasPrefix(id, "job_") {
		return id
	}
	return "job_" + id
}
