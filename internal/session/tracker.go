// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package session

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/config"
	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/metrics"
	"github.com/tomtom215/cartographus-realtime/internal/models"
)

// Broadcaster delivers a typed message to every live subscriber without
// blocking on any one of them.
type Broadcaster interface {
	BroadcastJSON(msgType string, data interface{})
}

// Config holds the tracker policy.
type Config struct {
	Shards      int
	IdleTimeout time.Duration
	StopGrace   time.Duration
	Predictor   Predictor
}

// ConfigFrom builds the tracker policy from application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Shards:      cfg.Sessions.Shards,
		IdleTimeout: cfg.Sessions.IdleTimeout,
		StopGrace:   cfg.Sessions.StopGrace,
		Predictor: Predictor{
			CriticalThreshold: cfg.BufferHealth.CriticalThreshold,
			RiskyThreshold:    cfg.BufferHealth.RiskyThreshold,
			Alpha:             cfg.BufferHealth.DrainSmoothing,
		},
	}
}

// Update is one observation of a session from any source. Nil pointer
// fields and empty strings leave the stored value unchanged.
type Update struct {
	SessionKey string
	// State is the reported playback state. StateUnknown keeps the
	// current state; StateStopped retires the session.
	State models.SessionState
	// NewPlay marks a start-of-playback event. Only a new play may revive
	// a key inside its stop grace period.
	NewPlay bool

	RatingKey string
	Title     string
	Username  string
	Player    string

	ViewOffset         *int64
	MaxOffsetAvailable *float64
	BufferFillPercent  *float64

	// At is the observation time; zero means now.
	At time.Time
}

// Outcome says what Apply did with an update.
type Outcome int

const (
	// Applied: the update changed or refreshed a live session.
	Applied Outcome = iota
	// LateDuplicate: the key was stopped within the grace period and the
	// update was not a new play, so it was dropped.
	LateDuplicate
	// Ignored: the update carried no session key, or stopped a session
	// that was never tracked.
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case LateDuplicate:
		return "late_duplicate"
	default:
		return "ignored"
	}
}

// Result reports the effect of one Apply.
type Result struct {
	Outcome       Outcome
	IsNewSession  bool
	StateChanged  bool
	HealthChanged bool
	Snapshot      models.SessionSnapshot
}

type liveSession struct {
	key       string
	state     models.SessionState
	ratingKey string
	title     string
	username  string
	player    string

	viewOffset int64
	maxOffset  float64

	fill         float64
	drain        float64
	health       models.HealthStatus
	hasSample    bool
	lastSampleAt time.Time

	isNew       bool
	startedAt   time.Time
	lastUpdated time.Time
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*liveSession
	// retired maps a stopped key to the end of its grace period.
	retired map[string]time.Time
}

// Tracker holds live session state behind sharded locks and emits
// plex_realtime_playback and buffer_health_update messages.
//
// Lock order is shard, then riskMu. Messages for one session are emitted
// while its shard lock is held, so they leave in transition order.
type Tracker struct {
	shards    []*shard
	cfg       Config
	predictor Predictor
	bc        Broadcaster
	now       func() time.Time
	onStopped func(key, reason string)

	riskMu sync.Mutex
	atRisk map[string]models.BufferHealthSample
}

// NewTracker creates a tracker. bc may be nil.
func NewTracker(cfg Config, bc Broadcaster) *Tracker {
	if cfg.Shards <= 0 {
		cfg.Shards = 32
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.StopGrace < 0 {
		cfg.StopGrace = 0
	}
	if cfg.Predictor.Alpha <= 0 || cfg.Predictor.Alpha > 1 {
		cfg.Predictor.Alpha = DefaultPredictor().Alpha
	}
	if cfg.Predictor.RiskyThreshold == 0 && cfg.Predictor.CriticalThreshold == 0 {
		d := DefaultPredictor()
		cfg.Predictor.CriticalThreshold = d.CriticalThreshold
		cfg.Predictor.RiskyThreshold = d.RiskyThreshold
	}

	t := &Tracker{
		shards:    make([]*shard, cfg.Shards),
		cfg:       cfg,
		predictor: cfg.Predictor,
		bc:        bc,
		now:       time.Now,
		atRisk:    make(map[string]models.BufferHealthSample),
	}
	for i := range t.shards {
		t.shards[i] = &shard{
			sessions: make(map[string]*liveSession),
			retired:  make(map[string]time.Time),
		}
	}
	return t
}

func (t *Tracker) shardFor(key string) *shard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return t.shards[h.Sum64()%uint64(len(t.shards))]
}

// Apply folds u into the session it names.
func (t *Tracker) Apply(u Update) Result {
	if u.SessionKey == "" {
		return Result{Outcome: Ignored}
	}
	at := u.At
	if at.IsZero() {
		at = t.now()
	}

	sh := t.shardFor(u.SessionKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	until, retired := sh.retired[u.SessionKey]
	inGrace := retired && at.Before(until)

	if u.State == models.StateStopped {
		return t.stopLocked(sh, u.SessionKey, at, models.EndReasonStopped, inGrace)
	}

	s, ok := sh.sessions[u.SessionKey]
	if !ok {
		if inGrace && !u.NewPlay {
			return Result{Outcome: LateDuplicate}
		}
		delete(sh.retired, u.SessionKey)
		s = &liveSession{
			key:       u.SessionKey,
			state:     models.StateUnknown,
			isNew:     true,
			startedAt: at,
		}
		sh.sessions[u.SessionKey] = s
	} else {
		s.isNew = false
	}

	prevState, prevHealth := s.state, s.health

	applyMetadata(s, u)
	sampled := false
	if u.BufferFillPercent != nil {
		t.applySample(s, *u.BufferFillPercent, at)
		sampled = true
	}
	s.state = t.nextState(s, u.State)
	s.lastUpdated = at

	res := Result{
		Outcome:       Applied,
		IsNewSession:  s.isNew,
		StateChanged:  s.state != prevState,
		HealthChanged: s.health != prevHealth,
		Snapshot:      s.snapshot(),
	}

	if res.StateChanged {
		metrics.SessionTransitions.WithLabelValues(string(prevState), string(s.state)).Inc()
	}
	if res.StateChanged || res.HealthChanged || res.IsNewSession {
		t.emitRealtime(s, prevState, "")
	}
	if sampled {
		t.refreshAtRisk(s, at)
	}
	return res
}

func applyMetadata(s *liveSession, u Update) {
	if u.RatingKey != "" {
		s.ratingKey = u.RatingKey
	}
	if u.Title != "" {
		s.title = u.Title
	}
	if u.Username != "" {
		s.username = u.Username
	}
	if u.Player != "" {
		s.player = u.Player
	}
	if u.ViewOffset != nil {
		s.viewOffset = *u.ViewOffset
	}
	if u.MaxOffsetAvailable != nil {
		s.maxOffset = *u.MaxOffsetAvailable
	}
}

func (t *Tracker) applySample(s *liveSession, fill float64, at time.Time) {
	if fill < 0 {
		fill = 0
	} else if fill > 100 {
		fill = 100
	}
	if s.hasSample {
		s.drain = t.predictor.NextDrainRate(s.drain, s.fill, fill, at.Sub(s.lastSampleAt))
	} else {
		s.drain = 0
	}
	s.fill = fill
	s.hasSample = true
	s.lastSampleAt = at
	s.health = t.predictor.Classify(fill)
}

// nextState applies the reported state and the buffering rule: a playing
// session whose buffer is critical is buffering, and a derived buffering
// state clears once the buffer recovers. Paused sessions are not
// progressing and keep their state regardless of fill.
func (t *Tracker) nextState(s *liveSession, reported models.SessionState) models.SessionState {
	next := s.state
	if reported != models.StateUnknown {
		next = reported
	}
	if !s.hasSample {
		return next
	}
	switch next {
	case models.StatePlaying:
		if s.health == models.HealthCritical {
			return models.StateBuffering
		}
	case models.StateBuffering:
		if reported != models.StateBuffering && s.health != models.HealthCritical {
			return models.StatePlaying
		}
	}
	return next
}

// SetOnStopped registers fn to run each time a live session is retired,
// whether by an explicit stop or an idle sweep. fn runs under the shard
// lock and must not call back into the tracker. Call before the tracker
// is shared.
func (t *Tracker) SetOnStopped(fn func(key, reason string)) {
	t.onStopped = fn
}

// stopLocked retires key. The caller holds the shard lock.
func (t *Tracker) stopLocked(sh *shard, key string, at time.Time, reason string, inGrace bool) Result {
	s, ok := sh.sessions[key]
	if !ok {
		if inGrace {
			return Result{Outcome: LateDuplicate}
		}
		// Remember the stop so stragglers for this key are dropped.
		sh.retired[key] = at.Add(t.cfg.StopGrace)
		return Result{Outcome: Ignored}
	}

	prevState := s.state
	delete(sh.sessions, key)
	sh.retired[key] = at.Add(t.cfg.StopGrace)

	s.state = models.StateStopped
	s.lastUpdated = at

	metrics.SessionTransitions.WithLabelValues(string(prevState), string(models.StateStopped)).Inc()
	metrics.SessionsExpired.WithLabelValues(reason).Inc()

	t.emitRealtime(s, prevState, reason)
	t.removeAtRisk(key, at)
	if t.onStopped != nil {
		t.onStopped(key, reason)
	}

	logging.Debug().
		Str("session_key", key).
		Str("reason", reason).
		Str("previous_state", string(prevState)).
		Msg("Session stopped")

	return Result{Outcome: Applied, StateChanged: true, Snapshot: s.snapshot()}
}

func (t *Tracker) emitRealtime(s *liveSession, prev models.SessionState, endReason string) {
	if t.bc == nil {
		return
	}
	msg := models.RealtimePlayback{
		SessionKey:        s.key,
		State:             s.state,
		PreviousState:     prev,
		RatingKey:         s.ratingKey,
		ViewOffset:        s.viewOffset,
		IsBuffering:       s.state == models.StateBuffering,
		IsNewSession:      s.isNew,
		HealthStatus:      s.health,
		BufferFillPercent: s.fill,
		EndReason:         endReason,
	}
	if s.hasSample && s.state != models.StateStopped {
		msg.SecondsToStall = SecondsToStall(s.fill, s.drain)
	}
	t.bc.BroadcastJSON(models.MessageTypeRealtimePlayback, msg)
}

// refreshAtRisk stores the latest sample of s in the at-risk set and
// broadcasts when membership or class changed.
func (t *Tracker) refreshAtRisk(s *liveSession, at time.Time) {
	t.riskMu.Lock()
	defer t.riskMu.Unlock()

	prev, was := t.atRisk[s.key]
	if s.health.AtRisk() {
		t.atRisk[s.key] = s.sample(at)
		if was && prev.HealthStatus == s.health {
			return
		}
	} else {
		if !was {
			return
		}
		delete(t.atRisk, s.key)
	}
	t.broadcastAtRiskLocked(at)
}

func (t *Tracker) removeAtRisk(key string, at time.Time) {
	t.riskMu.Lock()
	defer t.riskMu.Unlock()

	if _, was := t.atRisk[key]; !was {
		return
	}
	delete(t.atRisk, key)
	t.broadcastAtRiskLocked(at)
}

func (t *Tracker) broadcastAtRiskLocked(at time.Time) {
	update := t.atRiskUpdateLocked(at)
	metrics.SetAtRisk(update.CriticalCount, update.RiskyCount)
	metrics.BufferHealthUpdates.Inc()
	if t.bc != nil {
		t.bc.BroadcastJSON(models.MessageTypeBufferHealthUpdate, update)
	}
}

func (t *Tracker) atRiskUpdateLocked(at time.Time) models.BufferHealthUpdate {
	update := models.BufferHealthUpdate{
		Sessions:  make([]models.BufferHealthSample, 0, len(t.atRisk)),
		Timestamp: at.UTC(),
	}
	for _, sample := range t.atRisk {
		update.Sessions = append(update.Sessions, sample)
		if sample.HealthStatus == models.HealthCritical {
			update.CriticalCount++
		} else {
			update.RiskyCount++
		}
	}
	sort.Slice(update.Sessions, func(i, j int) bool {
		a, b := update.Sessions[i], update.Sessions[j]
		if a.RiskLevel != b.RiskLevel {
			return a.RiskLevel > b.RiskLevel
		}
		if a.BufferFillPercent != b.BufferFillPercent {
			return a.BufferFillPercent < b.BufferFillPercent
		}
		return a.SessionKey < b.SessionKey
	})
	return update
}

// AtRisk returns the current risky and critical sessions, most at risk first.
func (t *Tracker) AtRisk() models.BufferHealthUpdate {
	t.riskMu.Lock()
	defer t.riskMu.Unlock()
	return t.atRiskUpdateLocked(t.now())
}

// Get returns a snapshot of one live session.
func (t *Tracker) Get(key string) (models.SessionSnapshot, bool) {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.sessions[key]
	if !ok {
		return models.SessionSnapshot{}, false
	}
	return s.snapshot(), true
}

// Sessions returns snapshots of every live session ordered by key.
func (t *Tracker) Sessions() []models.SessionSnapshot {
	out := make([]models.SessionSnapshot, 0)
	for _, sh := range t.shards {
		sh.mu.Lock()
		for _, s := range sh.sessions {
			out = append(out, s.snapshot())
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionKey < out[j].SessionKey })
	return out
}

// Len returns the number of live sessions.
func (t *Tracker) Len() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// Sweep stops sessions idle for longer than the idle timeout and forgets
// retirements whose grace period ended. It returns the number of sessions
// stopped.
func (t *Tracker) Sweep(now time.Time) int {
	stopped := 0
	counts := make(map[models.SessionState]int)

	for _, sh := range t.shards {
		sh.mu.Lock()
		for key, s := range sh.sessions {
			if now.Sub(s.lastUpdated) >= t.cfg.IdleTimeout {
				t.stopLocked(sh, key, now, models.EndReasonIdle, false)
				stopped++
				continue
			}
			counts[s.state]++
		}
		for key, until := range sh.retired {
			if !now.Before(until) {
				delete(sh.retired, key)
			}
		}
		sh.mu.Unlock()
	}

	for _, state := range []models.SessionState{
		models.StateUnknown, models.StatePlaying, models.StatePaused, models.StateBuffering,
	} {
		metrics.SessionsByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
	return stopped
}

func (s *liveSession) sample(at time.Time) models.BufferHealthSample {
	return models.BufferHealthSample{
		SessionKey:        s.key,
		Title:             s.title,
		Username:          s.username,
		Player:            s.player,
		BufferFillPercent: s.fill,
		BufferDrainRate:   s.drain,
		HealthStatus:      s.health,
		RiskLevel:         s.health.RiskLevel(),
		SecondsToStall:    SecondsToStall(s.fill, s.drain),
		Timestamp:         at.UTC(),
	}
}

func (s *liveSession) snapshot() models.SessionSnapshot {
	snap := models.SessionSnapshot{
		SessionKey:         s.key,
		State:              s.state,
		RatingKey:          s.ratingKey,
		Title:              s.title,
		Username:           s.username,
		Player:             s.player,
		ViewOffset:         s.viewOffset,
		MaxOffsetAvailable: s.maxOffset,
		BufferFillPercent:  s.fill,
		BufferDrainRate:    s.drain,
		HealthStatus:       s.health,
		IsNewSession:       s.isNew,
		StartedAt:          s.startedAt,
		LastUpdatedAt:      s.lastUpdated,
	}
	if s.hasSample {
		snap.SecondsToStall = SecondsToStall(s.fill, s.drain)
	}
	return snap
}
