package testutil

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jeffstoner/ganymede/internal/db"
)

// MockStore is an in-memory event log and agent registry for testing. It
// satisfies the store interfaces of the registry and the reconciler.
type MockStore struct {
	mu         sync.Mutex
	events     []db.LogEvent
	activeGeos []int64
	runs       []db.ReconcileRun
	queryError error
	writeError error
	closed     int
}

func NewMockStore() *MockStore {
	return &MockStore{
		events:     make([]db.LogEvent, 0),
		activeGeos: make([]int64, 0),
		runs:       make([]db.ReconcileRun, 0),
	}
}

// SetActiveGeos sets the geo of every enabled, active, assigned agent
func (m *MockStore) SetActiveGeos(geos ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeGeos = append([]int64(nil), geos...)
}

func (m *MockStore) SetQueryError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryError = err
}

func (m *MockStore) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeError = err
}

// Log appends an event with the next sequence number
func (m *MockStore) Log(transactionID string, geo int64, ts time.Time, stage, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, db.LogEvent{
		ID:            int64(len(m.events) + 1),
		TransactionID: transactionID,
		GeoID:         geo,
		Timestamp:     ts.UTC(),
		Stage:         stage,
		Status:        status,
		Message:       stage + " " + status,
	})
}

func (m *MockStore) TransactionIDs(ctx context.Context, start, end time.Time, stage, status string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.queryError != nil {
		return nil, m.queryError
	}

	ids := []string{}
	for _, e := range m.events {
		if e.Stage != stage || e.Status != status {
			continue
		}
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		ids = append(ids, e.TransactionID)
	}
	return ids, nil
}

func (m *MockStore) ActiveGeoIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queryError != nil {
		return nil, m.queryError
	}

	return append([]int64(nil), m.activeGeos...), nil
}

func (m *MockStore) EventsForStage(_ context.Context, transactionID, stage string) ([]db.LogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queryError != nil {
		return nil, m.queryError
	}

	// Reverse insertion order so callers cannot rely on scan order
	events := []db.LogEvent{}
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if e.TransactionID == transactionID && e.Stage == stage {
			events = append(events, e)
		}
	}
	return events, nil
}

func (m *MockStore) HasStage(ctx context.Context, transactionID, stage string) (bool, error) {
	events, err := m.EventsForStage(ctx, transactionID, stage)
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

func (m *MockStore) CreateReconcileRun(ctx context.Context, run *db.ReconcileRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.writeError != nil {
		return m.writeError
	}

	m.runs = append(m.runs, *run)
	return nil
}

// GetWrittenRuns returns every run record written so far
func (m *MockStore) GetWrittenRuns() []db.ReconcileRun {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]db.ReconcileRun, len(m.runs))
	copy(result, m.runs)
	return result
}

// Close counts closes; the store stays usable so it can be reconnected
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *MockStore) CountCloses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockConnector hands out the same MockStore on every connect and counts
// how often it was asked. Connect errors can be scripted per attempt.
type MockConnector struct {
	mu       sync.Mutex
	store    *MockStore
	attempts int
	failOn   map[int]error
}

func NewMockConnector(store *MockStore) *MockConnector {
	return &MockConnector{store: store, failOn: make(map[int]error)}
}

// FailOn makes the nth connect attempt (1-based) return err
func (c *MockConnector) FailOn(attempt int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOn[attempt] = err
}

func (c *MockConnector) Connect(_ context.Context) (*MockStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts++
	if err, ok := c.failOn[c.attempts]; ok {
		return nil, err
	}
	return c.store, nil
}

func (c *MockConnector) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// RecordingDispatcher records every dispatch instead of starting workers
type RecordingDispatcher struct {
	mu         sync.Mutex
	calls      []string
	err        error
	onDispatch func(transactionID string)
}

func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{calls: make([]string, 0)}
}

// SetError makes every subsequent dispatch fail after being recorded
func (d *RecordingDispatcher) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// OnDispatch registers a hook run after each recorded dispatch
func (d *RecordingDispatcher) OnDispatch(fn func(transactionID string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDispatch = fn
}

// Dispatch fails without recording when ctx is already cancelled
func (d *RecordingDispatcher) Dispatch(ctx context.Context, transactionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	d.calls = append(d.calls, transactionID)
	err := d.err
	hook := d.onDispatch
	d.mu.Unlock()

	if hook != nil {
		hook(transactionID)
	}
	return err
}

func (d *RecordingDispatcher) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := make([]string, len(d.calls))
	copy(result, d.calls)
	return result
}

// CountFor returns how often a transaction was dispatched
func (d *RecordingDispatcher) CountFor(transactionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, id := range d.calls {
		if id == transactionID {
			n++
		}
	}
	return n
}

// RecordingTrigger counts extraction triggers
type RecordingTrigger struct {
	mu    sync.Mutex
	count int
	err   error
}

func (r *RecordingTrigger) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *RecordingTrigger) Trigger(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	r.count++
	return r.err
}

func (r *RecordingTrigger) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// MockClock provides controllable time for testing. Sleep advances the
// clock instead of blocking and runs any hook registered for that sleep.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	sleeps  []time.Duration
	onSleep func(n int)
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{
		current: start,
	}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

func (m *MockClock) Sleep(d time.Duration) {
	m.mu.Lock()
	m.current = m.current.Add(d)
	m.sleeps = append(m.sleeps, d)
	n := len(m.sleeps)
	hook := m.onSleep
	m.mu.Unlock()

	if hook != nil {
		hook(n)
	}
}

// OnSleep registers a hook called with the 1-based sleep count after each Sleep
func (m *MockClock) OnSleep(fn func(n int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSleep = fn
}

// Sleeps returns every duration passed to Sleep
func (m *MockClock) Sleeps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]time.Duration, len(m.sleeps))
	copy(result, m.sleeps)
	return result
}

// TestLogger collects slog records so tests can assert on what was logged
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

// LogEntry is one captured record. Attribute keys are qualified by any
// enclosing groups, joined with dots.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

// Logger returns a logger whose records land in l
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&captureHandler{sink: l})
}

func (l *TestLogger) add(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *TestLogger) where(keep func(LogEntry) bool) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	matched := []LogEntry{}
	for _, e := range l.entries {
		if keep(e) {
			matched = append(matched, e)
		}
	}
	return matched
}

// GetEntriesByLevel filters by slog level name ("INFO", "WARN", ...)
func (l *TestLogger) GetEntriesByLevel(level string) []LogEntry {
	return l.where(func(e LogEntry) bool { return e.Level == level })
}

func (l *TestLogger) GetEntriesByMessage(msg string) []LogEntry {
	return l.where(func(e LogEntry) bool { return e.Message == msg })
}

func (l *TestLogger) HasMessage(msg string) bool {
	return len(l.GetEntriesByMessage(msg)) > 0
}

func (l *TestLogger) HasWarning() bool {
	return len(l.GetEntriesByLevel(slog.LevelWarn.String())) > 0
}

type captureHandler struct {
	sink   *TestLogger
	prefix string
	attrs  []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[h.prefix+a.Key] = a.Value.Any()
		return true
	})

	h.sink.add(LogEntry{Level: r.Level.String(), Message: r.Message, Fields: fields})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &captureHandler{sink: h.sink, prefix: h.prefix, attrs: slices.Clone(h.attrs)}
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return next
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &captureHandler{sink: h.sink, prefix: h.prefix + name + ".", attrs: h.attrs}
}
