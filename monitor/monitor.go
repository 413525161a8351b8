package monitor

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MetricType identifies a tracked aggregate metric.
type MetricType string

const (
	MetricEvaluationTime MetricType = "evaluation_time"
	MetricMemoryUsage    MetricType = "memory_usage"
	MetricCacheHitRate   MetricType = "cache_hit_rate"
	MetricErrorRate      MetricType = "error_rate"
)

// Threshold configures warning/critical alerting for one metric. Inverse
// flips the comparison for metrics where lower is worse, such as the
// cache-hit rate.
type Threshold struct {
	Warning  float64
	Critical float64
	Inverse  bool
}

// AlertSeverity is the level of a raised alert.
type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// Alert records one threshold crossing.
type Alert struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Severity  AlertSeverity `json:"severity"`
	Metric    MetricType    `json:"metric"`
	Threshold float64       `json:"threshold"`
	Value     float64       `json:"value"`
	Message   string        `json:"message"`
}

// ConstraintMetrics aggregates per-constraint evaluation statistics.
type ConstraintMetrics struct {
	ConstraintID   string        `json:"constraintId"`
	Count          int64         `json:"count"`
	TotalDuration  time.Duration `json:"totalDuration"`
	AvgDuration    time.Duration `json:"avgDuration"`
	MinDuration    time.Duration `json:"minDuration"`
	MaxDuration    time.Duration `json:"maxDuration"`
	CacheHits      int64         `json:"cacheHits"`
	SatisfiedCount int64         `json:"satisfiedCount"`
	ViolationCount int64         `json:"violationCount"`
	ErrorCount     int64         `json:"errorCount"`
	LastEvaluated  time.Time     `json:"lastEvaluated"`
}

// Snapshot is the aggregate view across all constraints.
type Snapshot struct {
	TotalEvaluations  int64         `json:"totalEvaluations"`
	CacheHitRate      float64       `json:"cacheHitRate"`
	SatisfactionRate  float64       `json:"satisfactionRate"`
	ErrorRate         float64       `json:"errorRate"`
	AvgEvaluationTime time.Duration `json:"avgEvaluationTime"`
	ActiveEvaluations int           `json:"activeEvaluations"`
	PeakConcurrent    int           `json:"peakConcurrent"`
	MemoryBytes       uint64        `json:"memoryBytes"`
	Uptime            time.Duration `json:"uptime"`
	AlertCount        int           `json:"alertCount"`
}

// Sample is one point of the bounded time-series history.
type Sample struct {
	Timestamp time.Time              `json:"timestamp"`
	Values    map[MetricType]float64 `json:"values"`
}

// Record carries the outcome of one finished evaluation.
type Record struct {
	ConstraintID string
	Duration     time.Duration
	Satisfied    bool
	Violations   int
	Cached       bool
	Err          bool
}

// Config holds monitoring configuration.
type Config struct {
	// SampleInterval is the period of the background sampling tick.
	SampleInterval time.Duration

	// Retention bounds how long time-series samples and alerts are kept.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleInterval: 30 * time.Second,
		Retention:      time.Hour,
	}
}

type activeEval struct {
	constraintID string
	startedAt    time.Time
}

// Monitor tracks evaluation statistics and raises threshold alerts. It is
// purely observational: nothing here ever fails an evaluation.
type Monitor struct {
	cfg        Config
	logger     *slog.Logger
	collectors *Collectors

	mu            sync.Mutex
	active        map[string]activeEval
	perConstraint map[string]*ConstraintMetrics
	thresholds    map[MetricType]Threshold
	alerts        []Alert
	history       []Sample
	onAlert       []func(Alert)

	evaluations   int64
	cacheHits     int64
	satisfied     int64
	errors        int64
	totalDuration time.Duration
	peak          int
	startedAt     time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a monitor. collectors may be nil when Prometheus exposition is
// not wanted.
func New(cfg Config, logger *slog.Logger, collectors *Collectors) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:           cfg,
		logger:        logger,
		collectors:    collectors,
		active:        make(map[string]activeEval),
		perConstraint: make(map[string]*ConstraintMetrics),
		thresholds:    make(map[MetricType]Threshold),
		startedAt:     time.Now(),
	}
}

// StartEvaluation begins tracking an in-flight evaluation.
func (m *Monitor) StartEvaluation(id, constraintID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active[id] = activeEval{constraintID: constraintID, startedAt: time.Now()}
	if n := len(m.active); n > m.peak {
		m.peak = n
	}
	if m.collectors != nil {
		m.collectors.active.Inc()
	}
}

// EndEvaluation finishes tracking and returns the measured duration. Unknown
// ids return zero; monitoring never complains.
func (m *Monitor) EndEvaluation(id string, cached bool) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.active[id]
	if !ok {
		return 0
	}
	delete(m.active, id)
	if m.collectors != nil {
		m.collectors.active.Dec()
	}
	_ = cached
	return time.Since(ev.startedAt)
}

// RecordMetrics folds one finished evaluation into per-constraint and
// aggregate counters.
func (m *Monitor) RecordMetrics(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cm, ok := m.perConstraint[rec.ConstraintID]
	if !ok {
		cm = &ConstraintMetrics{ConstraintID: rec.ConstraintID, MinDuration: rec.Duration}
		m.perConstraint[rec.ConstraintID] = cm
	}

	cm.Count++
	cm.TotalDuration += rec.Duration
	cm.AvgDuration = cm.TotalDuration / time.Duration(cm.Count)
	if rec.Duration < cm.MinDuration {
		cm.MinDuration = rec.Duration
	}
	if rec.Duration > cm.MaxDuration {
		cm.MaxDuration = rec.Duration
	}
	cm.LastEvaluated = time.Now()
	cm.ViolationCount += int64(rec.Violations)
	if rec.Cached {
		cm.CacheHits++
	}
	if rec.Satisfied {
		cm.SatisfiedCount++
	}
	if rec.Err {
		cm.ErrorCount++
	}

	m.evaluations++
	m.totalDuration += rec.Duration
	if rec.Cached {
		m.cacheHits++
	}
	if rec.Satisfied {
		m.satisfied++
	}
	if rec.Err {
		m.errors++
	}

	if m.collectors != nil {
		m.collectors.observe(rec)
	}
}

// Metrics returns the aggregate snapshot.
func (m *Monitor) Metrics() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := Snapshot{
		TotalEvaluations:  m.evaluations,
		ActiveEvaluations: len(m.active),
		PeakConcurrent:    m.peak,
		MemoryBytes:       mem.HeapAlloc,
		Uptime:            time.Since(m.startedAt),
		AlertCount:        len(m.alerts),
	}
	if m.evaluations > 0 {
		s.CacheHitRate = float64(m.cacheHits) / float64(m.evaluations)
		s.SatisfactionRate = float64(m.satisfied) / float64(m.evaluations)
		s.ErrorRate = float64(m.errors) / float64(m.evaluations)
		s.AvgEvaluationTime = m.totalDuration / time.Duration(m.evaluations)
	}
	return s
}

// ConstraintMetrics returns per-constraint statistics, or false when the
// constraint has never been evaluated.
func (m *Monitor) ConstraintMetrics(constraintID string) (ConstraintMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cm, ok := m.perConstraint[constraintID]
	if !ok {
		return ConstraintMetrics{}, false
	}
	return *cm, true
}

// SetThreshold configures alerting for a metric type.
func (m *Monitor) SetThreshold(metric MetricType, t Threshold) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds[metric] = t
}

// Alerts returns alerts raised at or after since. A zero since returns all
// retained alerts.
func (m *Monitor) Alerts(since time.Time) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if since.IsZero() || !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	return out
}

// History returns the retained time-series samples.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// OnAlert registers a callback invoked for every raised alert. Callbacks run
// on the sampling goroutine and must not block.
func (m *Monitor) OnAlert(fn func(Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlert = append(m.onAlert, fn)
}

// Reset clears all counters, history and alerts. Thresholds survive.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.perConstraint = make(map[string]*ConstraintMetrics)
	m.alerts = nil
	m.history = nil
	m.evaluations = 0
	m.cacheHits = 0
	m.satisfied = 0
	m.errors = 0
	m.totalDuration = 0
	m.peak = len(m.active)
	m.startedAt = time.Now()
}

// Start launches the background sampling loop.
func (m *Monitor) Start() {
	if m.cfg.SampleInterval <= 0 {
		return
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

// Stop halts the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()
}

// sample snapshots current values into the time-series, checks thresholds
// and prunes records older than the retention window.
func (m *Monitor) sample() {
	m.mu.Lock()

	snap := m.snapshotLocked()
	values := map[MetricType]float64{
		MetricEvaluationTime: float64(snap.AvgEvaluationTime.Milliseconds()),
		MetricMemoryUsage:    float64(snap.MemoryBytes),
		MetricCacheHitRate:   snap.CacheHitRate,
		MetricErrorRate:      snap.ErrorRate,
	}
	now := time.Now()
	m.history = append(m.history, Sample{Timestamp: now, Values: values})

	var raised []Alert
	for metric, t := range m.thresholds {
		value, ok := values[metric]
		if !ok {
			continue
		}
		if a := m.checkThresholdLocked(metric, t, value, now); a != nil {
			raised = append(raised, *a)
		}
	}

	cutoff := now.Add(-m.cfg.Retention)
	m.history = pruneSamples(m.history, cutoff)
	m.alerts = pruneAlerts(m.alerts, cutoff)

	callbacks := make([]func(Alert), len(m.onAlert))
	copy(callbacks, m.onAlert)
	m.mu.Unlock()

	for _, a := range raised {
		for _, fn := range callbacks {
			fn(a)
		}
	}
}

// checkThresholdLocked raises at most one alert per metric per tick,
// critical before warning. Caller holds m.mu.
func (m *Monitor) checkThresholdLocked(metric MetricType, t Threshold, value float64, now time.Time) *Alert {
	crossed := func(limit float64) bool {
		if t.Inverse {
			return value < limit
		}
		return value > limit
	}

	var severity AlertSeverity
	var limit float64
	switch {
	case crossed(t.Critical):
		severity, limit = AlertCritical, t.Critical
	case crossed(t.Warning):
		severity, limit = AlertWarning, t.Warning
	default:
		return nil
	}

	a := Alert{
		ID:        uuid.NewString(),
		Timestamp: now,
		Severity:  severity,
		Metric:    metric,
		Threshold: limit,
		Value:     value,
		Message:   string(metric) + " crossed " + string(severity) + " threshold",
	}
	m.alerts = append(m.alerts, a)
	if m.collectors != nil {
		m.collectors.alerts.WithLabelValues(string(metric), string(severity)).Inc()
	}
	m.logger.Warn("performance threshold crossed",
		"metric", metric,
		"severity", severity,
		"value", value,
		"threshold", limit,
	)
	return &a
}

func pruneSamples(samples []Sample, cutoff time.Time) []Sample {
	i := 0
	for i < len(samples) && samples[i].Timestamp.Before(cutoff) {
		i++
	}
	return samples[i:]
}

func pruneAlerts(alerts []Alert, cutoff time.Time) []Alert {
	i := 0
	for i < len(alerts) && alerts[i].Timestamp.Before(cutoff) {
		i++
	}
	return alerts[i:]
}
