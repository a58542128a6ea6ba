// Package tracker connects a position feed to the site resolver. A
// Controller consumes fixes from a gpsfeed source, re-ranks the site
// registry around each usable fix, and fans the ranked results out to
// subscribers. Slow subscribers never stall ingestion: each subscriber
// channel holds only the most recent update, and bursts of fixes are
// coalesced down to the newest position before resolving.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skpeterson2000/towerwitch/internal/logging"
	"github.com/skpeterson2000/towerwitch/internal/observability"
	"github.com/skpeterson2000/towerwitch/pkg/geo"
	"github.com/skpeterson2000/towerwitch/pkg/gpsfeed"
	"github.com/skpeterson2000/towerwitch/pkg/locator"
	"github.com/skpeterson2000/towerwitch/pkg/registry"
)

// DefaultMinResolveInterval paces fix-triggered resolutions. Consumer
// GPS receivers report at 1 Hz, so the default only matters for feeds
// that report faster or replay logs.
const DefaultMinResolveInterval = 200 * time.Millisecond

var (
	// ErrNoPosition is returned by Refresh when no usable position has
	// been seen yet.
	ErrNoPosition = errors.New("no position available yet")

	// ErrStopped is returned by operations invoked after Stop.
	ErrStopped = errors.New("tracker is stopped")
)

// State describes the controller lifecycle.
type State int

const (
	// StateIdle means Run has not been called yet.
	StateIdle State = iota
	// StateAwaitingFirstFix means the run loop is consuming the feed but
	// no usable fix has arrived.
	StateAwaitingFirstFix
	// StateActive means at least one usable position has been resolved.
	StateActive
	// StateStopped means the controller has shut down and will never
	// publish again.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstFix:
		return "awaiting first fix"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Query holds the resolver parameters applied to every fix.
type Query struct {
	// Unit is the distance unit for ranked results.
	Unit geo.Unit

	// NearestCount is how many control-channel sites to rank.
	NearestCount int

	// Radius bounds the in-range list, measured in Unit.
	Radius float64
}

// DefaultQuery mirrors the resolver defaults.
func DefaultQuery() Query {
	return Query{
		Unit:         locator.DefaultUnit,
		NearestCount: locator.DefaultNearestCount,
		Radius:       locator.DefaultRadius,
	}
}

// Update is one published result set. The slices are shared with the
// controller and other subscribers; treat them as read-only.
type Update struct {
	// Seq increases by one per published update.
	Seq uint64

	// Fix is the position the results were resolved against.
	Fix gpsfeed.PositionFix

	// Nearest ranks the closest control-channel sites.
	Nearest []locator.RankedResult

	// InRange lists every site within the query radius.
	InRange []locator.RankedResult

	// Query records the parameters used for this resolution.
	Query Query

	// ResolvedAt is when the resolution completed.
	ResolvedAt time.Time
}

// Config assembles a Controller.
type Config struct {
	// Sites is the loaded registry to rank.
	Sites []registry.Site

	// Query holds the initial resolver parameters. Zero fields take the
	// resolver defaults.
	Query Query

	// MinResolveInterval paces fix-triggered resolutions. Fixes arriving
	// faster are coalesced to the newest. Zero means
	// DefaultMinResolveInterval.
	MinResolveInterval time.Duration

	// Logger receives lifecycle and drop events. Nil disables logging.
	Logger logging.Logger

	// Metrics records pipeline counters. Nil disables metrics.
	Metrics *observability.Collector
}

// Controller is the live update engine. Create one with New, feed it with
// Run, and consume results through Subscribe. All methods are safe for
// concurrent use.
type Controller struct {
	log     logging.Logger
	metrics *observability.Collector
	limiter *rate.Limiter

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	sites   []registry.Site
	query   Query
	state   State
	started bool
	stopped bool
	lastFix *gpsfeed.PositionFix
	current *Update
	seq     uint64
	subs    map[int]chan Update
	nextSub int
}

// New builds a Controller in the idle state. It fails when the query
// names an unknown distance unit.
func New(cfg Config) (*Controller, error) {
	query := cfg.Query
	if query.Unit == "" {
		query.Unit = locator.DefaultUnit
	}
	if !query.Unit.Valid() {
		return nil, fmt.Errorf("%w: %q", geo.ErrUnknownUnit, query.Unit)
	}
	if query.NearestCount <= 0 {
		query.NearestCount = locator.DefaultNearestCount
	}
	if query.Radius <= 0 {
		query.Radius = locator.DefaultRadius
	}
	interval := cfg.MinResolveInterval
	if interval <= 0 {
		interval = DefaultMinResolveInterval
	}
	c := &Controller{
		log:     logging.OrNoop(cfg.Logger).With(logging.String("component", "tracker")),
		metrics: cfg.Metrics,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		sites:   cfg.Sites,
		query:   query,
		state:   StateIdle,
		subs:    make(map[int]chan Update),
	}
	c.metrics.SetSitesLoaded(len(cfg.Sites))
	return c, nil
}

// Run consumes fixes from src until ctx is cancelled, Stop is called, or
// the source closes its channel. It blocks, so callers usually start it
// in a goroutine. Run must be called at most once.
func (c *Controller) Run(ctx context.Context, src gpsfeed.Source) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		c.log.Error("Run called more than once")
		return
	}
	c.started = true
	if c.state == StateIdle {
		c.state = StateAwaitingFirstFix
	}
	c.mu.Unlock()
	defer close(c.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	c.log.Info("tracker running",
		logging.Int("sites", len(c.Sites())),
		logging.String("unit", string(c.Query().Unit)))

	fixes := src.Fixes()
	for {
		select {
		case <-runCtx.Done():
			c.markStopped()
			return
		case fix, ok := <-fixes:
			if !ok {
				c.log.Info("position source closed")
				c.markStopped()
				return
			}
			fix = c.drainLatest(fixes, fix)
			// Pace resolutions. Fixes arriving during the wait pile up
			// behind the channel and collapse to the newest below.
			if err := c.limiter.Wait(runCtx); err != nil {
				c.markStopped()
				return
			}
			fix = c.drainLatest(fixes, fix)
			c.ingest(fix)
		}
	}
}

// drainLatest empties any backlog on the feed channel and returns the
// newest fix, counting the discarded ones as coalesced.
func (c *Controller) drainLatest(fixes <-chan gpsfeed.PositionFix, newest gpsfeed.PositionFix) gpsfeed.PositionFix {
	for {
		select {
		case fix, ok := <-fixes:
			if !ok {
				return newest
			}
			newest = fix
			c.metrics.RecordFix(observability.FixOutcomeCoalesced)
		default:
			return newest
		}
	}
}

// ingest validates one fix and, when usable, resolves and publishes.
func (c *Controller) ingest(fix gpsfeed.PositionFix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if !fix.Usable() {
		c.metrics.RecordFix(observability.FixOutcomeInvalid)
		c.log.Debug("dropping unusable fix",
			logging.String("quality", fix.Quality.String()),
			logging.String("source", string(fix.Source)))
		return
	}
	c.lastFix = &fix
	if c.state != StateActive {
		c.state = StateActive
		c.log.Info("first usable fix",
			logging.Float64("lat", fix.Latitude),
			logging.Float64("lon", fix.Longitude),
			logging.String("source", string(fix.Source)))
	}
	c.metrics.RecordFix(observability.FixOutcomeProcessed)
	if err := c.resolveLocked(fix, observability.TriggerFix); err != nil {
		c.log.Error("resolve failed", logging.Err(err))
	}
}

// resolveLocked ranks the registry around fix and publishes one update.
// Callers hold mu.
func (c *Controller) resolveLocked(fix gpsfeed.PositionFix, trigger string) error {
	start := time.Now()
	origin := fix.Point()
	nearest, err := locator.FindNearest(origin, c.sites, c.query.Unit, c.query.NearestCount)
	if err != nil {
		return fmt.Errorf("ranking nearest sites: %w", err)
	}
	inRange, err := locator.FindWithinRadius(origin, c.sites, c.query.Unit, c.query.Radius)
	if err != nil {
		return fmt.Errorf("ranking in-range sites: %w", err)
	}
	c.seq++
	update := Update{
		Seq:        c.seq,
		Fix:        fix,
		Nearest:    nearest,
		InRange:    inRange,
		Query:      c.query,
		ResolvedAt: time.Now().UTC(),
	}
	c.current = &update
	c.metrics.RecordResolve(trigger, time.Since(start))
	for _, ch := range c.subs {
		deliver(ch, update)
	}
	return nil
}

// deliver publishes without blocking. A subscriber that has not consumed
// its previous update loses it; the feed never stalls.
func deliver(ch chan Update, update Update) {
	for {
		select {
		case ch <- update:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// OverridePosition injects a literal position, bypassing the live feed.
// It is treated like any usable fix: it becomes the last known position
// and triggers an immediate resolution.
func (c *Controller) OverridePosition(lat, lon float64) error {
	fix := gpsfeed.PositionFix{
		Latitude:  lat,
		Longitude: lon,
		Quality:   gpsfeed.Quality3D,
		Source:    gpsfeed.SourceManual,
		Time:      time.Now().UTC(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	c.lastFix = &fix
	c.state = StateActive
	return c.resolveLocked(fix, observability.TriggerOverride)
}

// Refresh re-runs the resolver against the last known position. Call it
// after SetQuery or ReplaceSites so subscribers see the change without
// waiting for the next fix.
func (c *Controller) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.lastFix == nil {
		return ErrNoPosition
	}
	return c.resolveLocked(*c.lastFix, observability.TriggerRefresh)
}

// SeedPosition primes the last known position without resolving or
// publishing, typically from a saved snapshot. A later Refresh resolves
// against it. Seeding never overrides a position learned from the feed.
func (c *Controller) SeedPosition(pt geo.Point) {
	fix := gpsfeed.PositionFix{
		Latitude:  pt.Latitude,
		Longitude: pt.Longitude,
		Quality:   gpsfeed.Quality2D,
		Source:    gpsfeed.SourceSnapshot,
		Time:      time.Now().UTC(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.lastFix != nil {
		return
	}
	c.lastFix = &fix
}

// SetQuery replaces the resolver parameters for subsequent resolutions.
func (c *Controller) SetQuery(query Query) error {
	if !query.Unit.Valid() {
		return fmt.Errorf("%w: %q", geo.ErrUnknownUnit, query.Unit)
	}
	if query.NearestCount <= 0 {
		query.NearestCount = locator.DefaultNearestCount
	}
	if query.Radius <= 0 {
		query.Radius = locator.DefaultRadius
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.query = query
	return nil
}

// ReplaceSites swaps the registry wholesale, for reloads.
func (c *Controller) ReplaceSites(sites []registry.Site) {
	c.mu.Lock()
	c.sites = sites
	c.mu.Unlock()
	c.metrics.SetSitesLoaded(len(sites))
	c.log.Info("registry replaced", logging.Int("sites", len(sites)))
}

// Subscription delivers updates to one consumer.
type Subscription struct {
	// C carries the most recent update. Subscribers that fall behind
	// skip intermediate result sets. C is closed when the subscription
	// is cancelled or the controller stops.
	C <-chan Update

	id   int
	c    *Controller
	once sync.Once
}

// Cancel stops delivery and closes C. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.c == nil {
			return
		}
		s.c.unsubscribe(s.id)
	})
}

// Subscribe registers a result consumer. If an update has already been
// published, it is delivered immediately.
func (c *Controller) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Update, 1)
	if c.stopped {
		close(ch)
		return &Subscription{C: ch}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	if c.current != nil {
		ch <- *c.current
	}
	c.metrics.SetSubscribers(len(c.subs))
	return &Subscription{C: ch, id: id, c: c}
}

func (c *Controller) unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.subs[id]
	if !ok {
		return
	}
	delete(c.subs, id)
	close(ch)
	c.metrics.SetSubscribers(len(c.subs))
}

// Stop halts processing and closes every subscription. It blocks until
// the run loop has exited; no updates are published after Stop returns.
// Safe to call more than once and without a prior Run.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
		return
	}
	c.markStopped()
}

// markStopped flips the controller into its terminal state and releases
// subscribers. Idempotent.
func (c *Controller) markStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.state = StateStopped
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.metrics.SetSubscribers(0)
	c.log.Info("tracker stopped")
}

// State reports the controller lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Query returns the resolver parameters in effect.
func (c *Controller) Query() Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// Sites returns the registry being ranked. Treat it as read-only.
func (c *Controller) Sites() []registry.Site {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sites
}

// Current returns the most recently published update, if any.
func (c *Controller) Current() (Update, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Update{}, false
	}
	return *c.current, true
}

// LastFix returns the last known usable position, if any.
func (c *Controller) LastFix() (gpsfeed.PositionFix, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastFix == nil {
		return gpsfeed.PositionFix{}, false
	}
	return *c.lastFix, true
}
