package fleet

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stempelwerk/zeitcore/internal/devicebus"
	"github.com/stempelwerk/zeitcore/internal/storage"
	"github.com/stempelwerk/zeitcore/internal/types"
)

// fakeDriver spielt pro Adresse ein Drehbuch ab: jeder Connect nimmt den
// nächsten Eintrag. Ohne Eintrag blockiert Connect bis ctx endet.
type fakeDriver struct {
	mu       sync.Mutex
	byAddr   map[string][]connectOutcome
	connects map[string]int
}

type connectOutcome struct {
	sess *fakeSession
	err  error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		byAddr:   make(map[string][]connectOutcome),
		connects: make(map[string]int),
	}
}

func (d *fakeDriver) queue(addr string, sess *fakeSession, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byAddr[addr] = append(d.byAddr[addr], connectOutcome{sess: sess, err: err})
}

func (d *fakeDriver) connectCount(addr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects[addr]
}

func (d *fakeDriver) Connect(ctx context.Context, params devicebus.ConnectParams) (devicebus.Session, error) {
	d.mu.Lock()
	d.connects[params.Address]++
	queue := d.byAddr[params.Address]
	if len(queue) > 0 {
		out := queue[0]
		d.byAddr[params.Address] = queue[1:]
		d.mu.Unlock()
		if out.err != nil {
			return nil, out.err
		}
		return out.sess, nil
	}
	d.mu.Unlock()

	<-ctx.Done()
	return nil, &devicebus.ConnectionError{Op: "dial", Err: ctx.Err()}
}

type fakeSession struct {
	serial string
	live   chan devicebus.RawRecord

	mu      sync.Mutex
	users   []devicebus.RawUser
	history []devicebus.RawRecord
	pingErr error
	drains  int
	pings   int
	closed  bool
}

func newFakeSession(serial string) *fakeSession {
	return &fakeSession{
		serial: serial,
		live:   make(chan devicebus.RawRecord, 16),
	}
}

func (s *fakeSession) emit(rec devicebus.RawRecord) { s.live <- rec }

func (s *fakeSession) setPingErr(err error) {
	s.mu.Lock()
	s.pingErr = err
	s.mu.Unlock()
}

func (s *fakeSession) drainCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drains
}

func (s *fakeSession) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) Serial() string { return s.serial }

func (s *fakeSession) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return s.pingErr
}

func (s *fakeSession) ListUsers(ctx context.Context) ([]devicebus.RawUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]devicebus.RawUser(nil), s.users...), nil
}

func (s *fakeSession) AttendanceLog(ctx context.Context) ([]devicebus.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drains++
	return append([]devicebus.RawRecord(nil), s.history...), nil
}

func (s *fakeSession) Subscribe(ctx context.Context) (devicebus.EventStream, error) {
	return &fakeStream{live: s.live}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeStream struct {
	live chan devicebus.RawRecord
}

func (f *fakeStream) Next(ctx context.Context) (devicebus.RawRecord, error) {
	select {
	case rec := <-f.live:
		return rec, nil
	case <-ctx.Done():
		return devicebus.RawRecord{}, ctx.Err()
	}
}

// fakeStore bildet die Konfliktsemantik der echten Persistenz nach:
// gleicher Schlüssel heißt AlreadyExists, fehlende Nutzer werden beim
// Insert angelegt.
type fakeStore struct {
	mu      sync.Mutex
	users   map[string]types.UserRecord
	events  map[string]types.AttendanceEvent
	inserts []types.AttendanceEvent
	failN   int
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]types.UserRecord),
		events: make(map[string]types.AttendanceEvent),
	}
}

func (s *fakeStore) failNext(n int, err error) {
	s.mu.Lock()
	s.failN = n
	s.failErr = err
	s.mu.Unlock()
}

func (s *fakeStore) UpsertUsers(ctx context.Context, users []types.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.users[u.UserID] = u
	}
	return nil
}

func (s *fakeStore) InsertEventIfAbsent(ctx context.Context, event types.AttendanceEvent) (types.InsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failN > 0 {
		s.failN--
		return types.OutcomeUnknown, s.failErr
	}

	if _, ok := s.users[event.UserID]; !ok {
		s.users[event.UserID] = types.UserRecord{UserID: event.UserID}
	}
	if _, dup := s.events[event.Key()]; dup {
		return types.OutcomeAlreadyExists, nil
	}
	s.events[event.Key()] = event
	s.inserts = append(s.inserts, event)
	return types.OutcomeInserted, nil
}

func (s *fakeStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *fakeStore) userIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *fakeStore) insertedTimestamps() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := make([]time.Time, 0, len(s.inserts))
	for _, ev := range s.inserts {
		ts = append(ts, ev.Timestamp)
	}
	return ts
}

type fakeFeed struct {
	mu        sync.Mutex
	punches   []types.AttendanceEvent
	states    []string
	summaries []FleetSummary
}

func (f *fakeFeed) PublishPunch(event types.AttendanceEvent, kind string) {
	f.mu.Lock()
	f.punches = append(f.punches, event)
	f.mu.Unlock()
}

func (f *fakeFeed) PublishDeviceState(device, from, to string) {
	f.mu.Lock()
	f.states = append(f.states, from+">"+to)
	f.mu.Unlock()
}

func (f *fakeFeed) PublishFleetSummary(summary FleetSummary) {
	f.mu.Lock()
	f.summaries = append(f.summaries, summary)
	f.mu.Unlock()
}

func (f *fakeFeed) punchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.punches)
}

func (f *fakeFeed) summaryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.summaries)
}

func (f *fakeFeed) stateLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.states...)
}

func testOptions() Options {
	return Options{
		ConnectTimeout:   200 * time.Millisecond,
		BootstrapTimeout: time.Second,
		LiveReadTimeout:  25 * time.Millisecond,
		StoreTimeout:     time.Second,
		Backoff:          Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond},
	}
}

func testDevice(serial string) DeviceConfig {
	return DeviceConfig{
		Serial:       serial,
		Address:      "10.0.0.7:4370",
		Timezone:     time.UTC,
		PollInterval: time.Hour,
	}
}

// startWorker fährt den Worker im Hintergrund und räumt ihn am Testende
// wieder ab.
func startWorker(t *testing.T, w *Worker) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop in time")
		}
	}
	t.Cleanup(stop)
	return cancel
}

func waitForState(t *testing.T, w *Worker, want WorkerState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return w.Health().State == want
	}, 2*time.Second, 2*time.Millisecond, "worker never reached %s", want)
}

func TestWorkerBootstrapThenLive(t *testing.T) {
	at0900 := time.Date(2024, 5, 21, 9, 0, 0, 0, time.UTC)
	buffered := devicebus.RawRecord{UserID: "42", Timestamp: at0900}

	sess := newFakeSession("DEV1")
	sess.users = []devicebus.RawUser{{UserID: "42", Name: "Anna Beispiel"}}
	// Gerätepuffer liefert denselben Stempel doppelt
	sess.history = []devicebus.RawRecord{buffered, buffered}

	driver := newFakeDriver()
	driver.queue("10.0.0.7:4370", sess, nil)

	store := newFakeStore()
	feed := &fakeFeed{}
	w := NewWorker(testDevice("DEV1"), testOptions(), driver, store, feed, zaptest.NewLogger(t))
	cancel := startWorker(t, w)

	waitForState(t, w, StateLive)
	sess.emit(devicebus.RawRecord{UserID: "43", Timestamp: at0900.Add(5 * time.Minute)})

	require.Eventually(t, func() bool {
		return store.eventCount() == 2
	}, 2*time.Second, 2*time.Millisecond)

	cancel()
	waitForState(t, w, StateDisconnected)

	assert.Equal(t, []string{"42", "43"}, store.userIDs())
	assert.Equal(t, []time.Time{at0900, at0900.Add(5 * time.Minute)}, store.insertedTimestamps())
	assert.True(t, sess.isClosed())

	h := w.Health()
	assert.Equal(t, int64(2), h.EventsPersisted)
	assert.Equal(t, int64(1), h.DuplicatesSuppressed)
	assert.Zero(t, h.ConsecutiveFailures)
	assert.NotNil(t, h.LastSuccessAt)

	// Feed sieht nur echte Inserts, nie Duplikate
	assert.Equal(t, 2, feed.punchCount())
	assert.Contains(t, feed.stateLog(), "connecting>bootstrapping")
	assert.Contains(t, feed.stateLog(), "bootstrapping>live")
}

func TestWorkerPersistsInDeviceOrder(t *testing.T) {
	base := time.Date(2024, 5, 21, 8, 0, 0, 0, time.UTC)
	sess := newFakeSession("DEV1")
	// absichtlich nicht chronologisch: die Gerätereihenfolge zählt
	sess.history = []devicebus.RawRecord{
		{UserID: "7", Timestamp: base.Add(2 * time.Minute)},
		{UserID: "7", Timestamp: base},
		{UserID: "7", Timestamp: base.Add(time.Minute)},
	}

	driver := newFakeDriver()
	driver.queue("10.0.0.7:4370", sess, nil)
	store := newFakeStore()
	w := NewWorker(testDevice("DEV1"), testOptions(), driver, store, nil, zaptest.NewLogger(t))
	startWorker(t, w)

	waitForState(t, w, StateLive)
	assert.Equal(t, []time.Time{
		base.Add(2 * time.Minute),
		base,
		base.Add(time.Minute),
	}, store.insertedTimestamps())
}

func TestWorkerRetriesAfterConnectFailure(t *testing.T) {
	driver := newFakeDriver()
	driver.queue("10.0.0.7:4370", nil, &devicebus.ConnectionError{Op: "dial", Err: errors.New("connection refused")})
	driver.queue("10.0.0.7:4370", nil, &devicebus.ConnectionError{Op: "dial", Err: errors.New("connection refused")})
	driver.queue("10.0.0.7:4370", newFakeSession("DEV1"), nil)

	store := newFakeStore()
	w := NewWorker(testDevice("DEV1"), testOptions(), driver, store, nil, zaptest.NewLogger(t))
	startWorker(t, w)

	waitForState(t, w, StateLive)
	assert.Equal(t, 3, driver.connectCount("10.0.0.7:4370"))

	h := w.Health()
	assert.Equal(t, 2, h.ConsecutiveFailures)
	assert.Contains(t, h.LastError, "connection refused")
}

func TestWorkerDropsInvalidRecords(t *testing.T) {
	at := time.Date(2024, 5, 21, 9, 0, 0, 0, time.UTC)
	sess := newFakeSession("DEV1")
	sess.history = []devicebus.RawRecord{
		{UserID: "", Timestamp: at},
		{UserID: "42"},
		{UserID: "42", Timestamp: at},
	}

	driver := newFakeDriver()
	driver.queue("10.0.0.7:4370", sess, nil)
	store := newFakeStore()
	w := NewWorker(testDevice("DEV1"), testOptions(), driver, store, nil, zaptest.NewLogger(t))
	startWorker(t, w)

	waitForState(t, w, StateLive)

	h := w.Health()
	assert.Equal(t, int64(2), h.ValidationDrops)
	assert.Equal(t, int64(1), h.EventsPersisted)
	assert.Equal(t, 1, store.eventCount())
}

func TestWorkerDropsRecordsFromWrongDevice(t *testing.T) {
	sess := newFakeSession("MYSTERY")
	sess.history = []devicebus.RawRecord{
		{UserID: "42", Timestamp: time.Date(2024, 5, 21, 9, 0, 0, 0, time.UTC)},
	}

	driver := newFakeDriver()
	driver.queue("10.0.0.7:4370", sess, nil)
	store := newFakeStore()
	w := NewWorker(testDevice("DEV1"), testOptions(), driver, store, nil, zaptest.NewLogger(t))
	startWorker(t, w)

	waitForState(t, w, StateLive)
	assert.Equal(t, int64(1), w.Health().ValidationDrops)
	assert.Zero(t, store.eventCount())
}

func TestWorkerStoreFailureRetriesSession(t *testing.T) {
	at := time.Date(2024, 5, 21, 9, 0, 0, 0, time.UTC)
	rec := devicebus.RawRecord{UserID: "42", Timestamp: at}

	first := newFakeSession("DEV1")
	first.history = []devicebus.RawRecord{rec}
	second := newFakeSession("DEV1")
	second.history = []devicebus.RawRecord{rec}

	driver := newFakeDriver()
	driver.queue("10.0.0.7:4370", first, nil)
	driver.queue("10.0.0.7:4370", second, nil)

	store := newFakeStore()
	store.failNext(1, &storage.StoreError{Op: "insert attendance", Err: errors.New("connection reset")})

	core, logs := observer.New(zap.DebugLevel)
	w := NewWorker(testDevice("DEV1"), testOptions(), driver, store, nil, zap.New(core))
	startWorker(t, w)

	waitForState(t, w, StateLive)
	require.Eventually(t, func() bool {
		return store.eventCount() == 1
	}, 2*time.Second, 2*time.Millisecond)

	assert.True(t, first.isClosed())
	assert.Equal(t, 2, driver.connectCount("10.0.0.7:4370"))

	// Die Ursache steht als Speicherproblem im Log, nicht als Geräteproblem
	entries := logs.FilterMessage("device session failed").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, "storage", entries[0].ContextMap()["cause"])
}

func TestWorkerPingsIdleDevice(t *testing.T) {
	sess := newFakeSession("DEV1")
	driver := newFakeDriver()
	driver.queue("10.0.0.7:4370", sess, nil)

	w := NewWorker(testDevice("DEV1"), testOptions(), driver, newFakeStore(), nil, zaptest.NewLogger(t))
	startWorker(t, w)

	waitForState(t, w, StateLive)
	require.Eventually(t, func() bool {
		return sess.pingCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	// ein toter Ping beendet die Sitzung und führt in den Backoff
	sess.setPingErr(&devicebus.ConnectionError{Op: "ping", Err: errors.New("timeout")})
	require.Eventually(t, func() bool {
		return driver.connectCount("10.0.0.7:4370") >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWorkerIntervalDrainSuppressesDuplicates(t *testing.T) {
	at := time.Date(2024, 5, 21, 9, 0, 0, 0, time.UTC)
	sess := newFakeSession("DEV1")
	sess.history = []devicebus.RawRecord{{UserID: "42", Timestamp: at}}

	driver := newFakeDriver()
	driver.queue("10.0.0.7:4370", sess, nil)
	store := newFakeStore()

	cfg := testDevice("DEV1")
	cfg.PollInterval = 30 * time.Millisecond
	w := NewWorker(cfg, testOptions(), driver, store, nil, zaptest.NewLogger(t))
	startWorker(t, w)

	waitForState(t, w, StateLive)
	require.Eventually(t, func() bool {
		return sess.drainCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return w.Health().DuplicatesSuppressed >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.eventCount())
}
