package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/chartgate/chartgate/internal/clock"
	"github.com/chartgate/chartgate/pkg/logger"
)

// clientWindow counts one client's attempts until windowEnd.
type clientWindow struct {
	count     int
	windowEnd time.Time
}

// Gate is the in-process admission gate. All state sits behind one mutex
// because a day rollover clears the client windows and the daily counter together.
type Gate struct {
	cfg   Config
	clock clock.Clock
	log   *logger.Logger

	mu      sync.Mutex
	windows map[string]*clientWindow
	total   int
	day     string
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithLogger sets the logger used for rollover events.
func WithLogger(l *logger.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// New creates a Gate. It fails only when cfg is invalid.
func New(cfg Config, opts ...Option) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gate{
		cfg:     cfg,
		clock:   clock.SystemClock{},
		log:     logger.Nop(),
		windows: make(map[string]*clientWindow),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.day = dayOf(g.clock.Now())

	return g, nil
}

// CanonicalID normalises a client identifier so that different spellings of
// the same address share a window.
func CanonicalID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Config returns the gate's limits.
func (g *Gate) Config() Config {
	return g.cfg
}

// RolloverIfNewDay resets every counter when the UTC day has changed since the
// last observation. It reports whether a rollover happened.
func (g *Gate) RolloverIfNewDay() bool {
	g.mu.Lock()
	prev, rolled := g.rolloverLocked(g.clock.Now())
	day := g.day
	g.mu.Unlock()

	if rolled {
		g.logRollover(prev, day)
	}
	return rolled
}

// CheckGlobal reports whether today's quota has room. It does not mutate state.
func (g *Gate) CheckGlobal() GlobalResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkGlobalLocked()
}

// CheckClient counts an attempt against the client's window and reports
// whether it fits. Denied attempts are counted too.
func (g *Gate) CheckClient(id string) ClientResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkClientLocked(CanonicalID(id), g.clock.Now())
}

// IncrementGlobal records one admitted request against today's quota.
func (g *Gate) IncrementGlobal() {
	g.mu.Lock()
	g.total++
	g.mu.Unlock()
}

// Admit runs the full admission sequence under one lock: day rollover, daily
// check, client check, then the daily increment if both checks passed. The
// client window is not touched when the daily quota is already exhausted.
func (g *Gate) Admit(id string) Decision {
	g.mu.Lock()
	now := g.clock.Now()
	prev, rolled := g.rolloverLocked(now)
	d := g.admitLocked(CanonicalID(id), now)
	day := g.day
	g.mu.Unlock()

	if rolled {
		g.logRollover(prev, day)
	}
	return d
}

func (g *Gate) admitLocked(id string, now time.Time) Decision {
	d := Decision{DailyResetAt: nextDay(now)}

	d.Global = g.checkGlobalLocked()
	if !d.Global.Allowed {
		d.Reason = ReasonDailyLimit
		return d
	}

	d.Client = g.checkClientLocked(id, now)
	if !d.Client.Allowed {
		d.Reason = ReasonClientLimit
		return d
	}

	g.total++
	d.Allowed = true
	d.Global = g.checkGlobalLocked()
	return d
}

// Stats returns a snapshot. When id is empty no client section is included;
// an unseen or expired client is reported with an empty window.
func (g *Gate) Stats(id string) Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	global := g.checkGlobalLocked()
	s := Stats{
		Global: GlobalStats{
			Total:     global.Total,
			Limit:     global.Limit,
			Remaining: global.Remaining,
			Day:       g.day,
		},
		DistinctClients: len(g.windows),
	}

	key := CanonicalID(id)
	if key == "" {
		return s
	}

	cs := &ClientStats{
		ID:        key,
		Limit:     g.cfg.ClientLimit,
		Remaining: g.cfg.ClientLimit,
		ResetAt:   now.Add(g.cfg.Window),
	}
	if w, ok := g.windows[key]; ok && !now.After(w.windowEnd) {
		cs.Count = w.count
		cs.Remaining = max(0, g.cfg.ClientLimit-w.count)
		cs.ResetAt = w.windowEnd
	}
	s.Client = cs

	return s
}

// ResetAll zeroes the daily counter and forgets every client window.
func (g *Gate) ResetAll() {
	g.mu.Lock()
	g.total = 0
	clear(g.windows)
	g.mu.Unlock()
}

func (g *Gate) rolloverLocked(now time.Time) (string, bool) {
	today := dayOf(now)
	if today == g.day {
		return "", false
	}

	prev := g.day
	g.day = today
	g.total = 0
	clear(g.windows)
	return prev, true
}

func (g *Gate) checkGlobalLocked() GlobalResult {
	return GlobalResult{
		Allowed:   g.total < g.cfg.DailyLimit,
		Remaining: max(0, g.cfg.DailyLimit-g.total),
		Total:     g.total,
		Limit:     g.cfg.DailyLimit,
	}
}

func (g *Gate) checkClientLocked(id string, now time.Time) ClientResult {
	w, ok := g.windows[id]
	if !ok || now.After(w.windowEnd) {
		w = &clientWindow{windowEnd: now.Add(g.cfg.Window)}
		g.windows[id] = w
	}
	w.count++

	res := ClientResult{
		Allowed:   w.count <= g.cfg.ClientLimit,
		Remaining: max(0, g.cfg.ClientLimit-w.count),
		Limit:     g.cfg.ClientLimit,
		ResetAt:   w.windowEnd,
	}
	if !res.Allowed {
		res.RetryAfter = w.windowEnd.Sub(now)
	}
	return res
}

func (g *Gate) logRollover(prev, day string) {
	g.log.Info("new day detected, admission counters reset",
		"previous_day", prev,
		"day", day,
	)
}

// dayOf returns the UTC calendar day of t.
func dayOf(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// nextDay returns midnight UTC following t.
func nextDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
