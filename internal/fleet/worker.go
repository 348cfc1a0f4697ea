package fleet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stempelwerk/zeitcore/internal/devicebus"
	"github.com/stempelwerk/zeitcore/internal/punch"
	"github.com/stempelwerk/zeitcore/internal/storage"
	"github.com/stempelwerk/zeitcore/internal/types"
)

// EventStore ist die Sicht des Workers auf die Persistenz. Implementiert
// vom PostgresClient; in Tests durch Fakes ersetzt.
type EventStore interface {
	UpsertUsers(ctx context.Context, users []types.UserRecord) error
	InsertEventIfAbsent(ctx context.Context, event types.AttendanceEvent) (types.InsertOutcome, error)
}

// Publisher speist den Live-Feed. Optional; nil schaltet ihn ab.
type Publisher interface {
	PublishPunch(event types.AttendanceEvent, kind string)
	PublishDeviceState(device, from, to string)
	PublishFleetSummary(summary FleetSummary)
}

// Options sind die prozessweiten Stellschrauben, gleich für alle
// Geräte; das Gerätespezifische steht in DeviceConfig.
type Options struct {
	ConnectTimeout   time.Duration
	BootstrapTimeout time.Duration
	LiveReadTimeout  time.Duration
	StoreTimeout     time.Duration
	Backoff          Backoff
	SummaryInterval  time.Duration
}

// Worker betreibt genau ein Terminal: verbinden, Verzeichnis und Puffer
// abgleichen, dann Live-Ereignisse verarbeiten. Fehler führen zurück in
// den Backoff, nie aus dem Worker hinaus.
type Worker struct {
	cfg    DeviceConfig
	opts   Options
	driver devicebus.Driver
	store  EventStore
	feed   Publisher
	logger *zap.Logger

	mu     sync.RWMutex
	health DeviceHealth
}

func NewWorker(
	cfg DeviceConfig,
	opts Options,
	driver devicebus.Driver,
	store EventStore,
	feed Publisher,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		cfg:    cfg,
		opts:   opts,
		driver: driver,
		store:  store,
		feed:   feed,
		logger: logger.With(zap.String("device", cfg.Identity())),
		health: DeviceHealth{
			Serial:          cfg.Serial,
			Address:         cfg.Address,
			State:           StateDisconnected,
			LastStateChange: time.Now(),
		},
	}
}

func (w *Worker) Identity() string {
	return w.cfg.Identity()
}

// Health liefert eine Momentaufnahme als Kopie
func (w *Worker) Health() DeviceHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()

	h := w.health
	if h.LastSuccessAt != nil {
		t := *h.LastSuccessAt
		h.LastSuccessAt = &t
	}
	return h
}

// Run betreibt den Worker bis ctx endet. Danach ist der Zustand
// endgültig disconnected.
func (w *Worker) Run(ctx context.Context) {
	defer w.setState(StateDisconnected)

	for ctx.Err() == nil {
		w.setState(StateConnecting)

		err := w.runSession(ctx)
		if ctx.Err() != nil {
			return
		}

		attempt := w.recordFailure(err)
		w.setState(StateReconnecting)

		delay := w.opts.Backoff.Delay(attempt - 1)
		w.logger.Warn("device session failed",
			zap.String("cause", failureCause(err)),
			zap.Int("consecutive_failures", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		if !wait(ctx, delay) {
			return
		}
	}
}

// runSession fährt eine komplette Sitzung: Verbinden, Bootstrap, Live.
// Der Rückgabewert ist der Grund für das Sitzungsende; disconnect läuft
// auf jedem Pfad.
func (w *Worker) runSession(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, w.opts.ConnectTimeout)
	sess, err := w.driver.Connect(connectCtx, devicebus.ConnectParams{
		Address:  w.cfg.Address,
		Timeout:  w.opts.ConnectTimeout,
		Location: w.cfg.Timezone,
	})
	cancel()
	if err != nil {
		return err
	}
	defer sess.Close()

	sessionID := uuid.New().String()
	w.setSessionID(sessionID)
	defer w.setSessionID("")

	logger := w.logger.With(zap.String("session", sessionID))
	logger.Info("device connected", zap.String("serial", sess.Serial()))

	w.setState(StateBootstrapping)
	stream, err := w.bootstrap(ctx, sess, logger)
	if err != nil {
		return err
	}

	w.setState(StateLive)
	return w.live(ctx, sess, stream, logger)
}

// bootstrap gleicht Verzeichnis und Gerätepuffer ab. Das Live-Abo wird
// vor dem Puffer-Drain scharf geschaltet, damit zwischen Drain und Abo
// kein Stempel verloren geht; Überlappung fängt die Dedup-Schicht ab.
func (w *Worker) bootstrap(ctx context.Context, sess devicebus.Session, logger *zap.Logger) (devicebus.EventStream, error) {
	bctx, cancel := context.WithTimeout(ctx, w.opts.BootstrapTimeout)
	defer cancel()

	rawUsers, err := sess.ListUsers(bctx)
	if err != nil {
		return nil, err
	}

	users := make([]types.UserRecord, 0, len(rawUsers))
	for _, raw := range rawUsers {
		u, err := punch.NormalizeUser(raw)
		if err != nil {
			w.countValidationDrop()
			logger.Debug("user entry dropped", zap.Error(err))
			continue
		}
		users = append(users, u)
	}
	if err := w.storeUsers(ctx, users); err != nil {
		return nil, err
	}

	stream, err := sess.Subscribe(bctx)
	if err != nil {
		return nil, err
	}

	inserted, duplicates, err := w.drain(bctx, ctx, sess, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("bootstrap complete",
		zap.Int("users", len(users)),
		zap.Int64("history_inserted", inserted),
		zap.Int64("history_duplicates", duplicates))

	return stream, nil
}

// drain liest den Gerätepuffer und persistiert ihn in Gerätereihenfolge
func (w *Worker) drain(readCtx, ctx context.Context, sess devicebus.Session, logger *zap.Logger) (inserted, duplicates int64, err error) {
	records, err := sess.AttendanceLog(readCtx)
	if err != nil {
		return 0, 0, err
	}

	for _, raw := range records {
		outcome, err := w.persist(ctx, sess.Serial(), raw, logger)
		if err != nil {
			return inserted, duplicates, err
		}
		switch outcome {
		case types.OutcomeInserted:
			inserted++
		case types.OutcomeAlreadyExists:
			duplicates++
		}
	}

	return inserted, duplicates, nil
}

// live konsumiert das Abo. Stille ist kein Fehler: nach Ablauf des
// Lesefensters prüft ein Ping, ob das Gerät noch lebt, und der
// Intervall-Drain holt nach, was dem Abo entgangen sein könnte.
func (w *Worker) live(ctx context.Context, sess devicebus.Session, stream devicebus.EventStream, logger *zap.Logger) error {
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	redrain := time.NewTicker(interval)
	defer redrain.Stop()

	for {
		readCtx, cancel := context.WithTimeout(ctx, w.opts.LiveReadTimeout)
		raw, err := stream.Next(readCtx)
		cancel()

		switch {
		case err == nil:
			if _, err := w.persist(ctx, sess.Serial(), raw, logger); err != nil {
				return err
			}

		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			pingCtx, cancel := context.WithTimeout(ctx, w.opts.ConnectTimeout)
			err := sess.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}

		default:
			return err
		}

		select {
		case <-redrain.C:
			drainCtx, cancel := context.WithTimeout(ctx, w.opts.BootstrapTimeout)
			_, dups, err := w.drain(drainCtx, ctx, sess, logger)
			cancel()
			if err != nil {
				return err
			}
			if dups > 0 {
				logger.Debug("interval drain suppressed duplicates", zap.Int64("duplicates", dups))
			}
		default:
		}
	}
}

// persist normalisiert und schreibt einen Satz. Validierungsfehler
// verwerfen nur den Satz; alles andere beendet die Sitzung.
func (w *Worker) persist(ctx context.Context, serial string, raw devicebus.RawRecord, logger *zap.Logger) (types.InsertOutcome, error) {
	event, err := punch.Normalize(raw, serial, w.cfg.Serial)
	if err != nil {
		var verr *punch.ValidationError
		if errors.As(err, &verr) {
			w.countValidationDrop()
			logger.Debug("record dropped", zap.String("field", verr.Field), zap.String("reason", verr.Reason))
			return types.OutcomeUnknown, nil
		}
		return types.OutcomeUnknown, err
	}

	storeCtx, cancel := w.storeContext(ctx)
	defer cancel()
	outcome, err := w.store.InsertEventIfAbsent(storeCtx, event)
	if err != nil {
		return types.OutcomeUnknown, err
	}

	switch outcome {
	case types.OutcomeInserted:
		w.recordPersisted(false)
		logger.Debug("event persisted",
			zap.String("user", event.UserID),
			zap.Time("timestamp", event.Timestamp),
			zap.String("kind", punch.KindLabel(raw.Punch)))
		if w.feed != nil {
			w.feed.PublishPunch(event, punch.KindLabel(raw.Punch))
		}
	case types.OutcomeAlreadyExists:
		// erwarteter Ausgang nach Reconnects: zählen, nicht loggen
		w.recordPersisted(true)
	}

	return outcome, nil
}

func (w *Worker) storeUsers(ctx context.Context, users []types.UserRecord) error {
	if len(users) == 0 {
		return nil
	}
	storeCtx, cancel := w.storeContext(ctx)
	defer cancel()
	return w.store.UpsertUsers(storeCtx, users)
}

// storeContext begrenzt Speicheraufrufe auf die Kulanzfrist: ein
// laufender Insert darf den Shutdown nicht reißen, aber auch nicht
// unbegrenzt aufhalten.
func (w *Worker) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), w.opts.StoreTimeout)
}

func (w *Worker) setState(next WorkerState) {
	w.mu.Lock()
	prev := w.health.State
	if prev == next {
		w.mu.Unlock()
		return
	}
	w.health.State = next
	w.health.LastStateChange = time.Now()
	w.mu.Unlock()

	w.logger.Info("device state changed",
		zap.String("from", string(prev)),
		zap.String("to", string(next)))

	if w.feed != nil {
		w.feed.PublishDeviceState(w.Identity(), string(prev), string(next))
	}
}

func (w *Worker) setSessionID(id string) {
	w.mu.Lock()
	w.health.SessionID = id
	w.mu.Unlock()
}

func (w *Worker) recordPersisted(duplicate bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.health.LastSuccessAt = &now
	w.health.ConsecutiveFailures = 0
	if duplicate {
		w.health.DuplicatesSuppressed++
	} else {
		w.health.EventsPersisted++
	}
}

func (w *Worker) recordFailure(err error) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.health.ConsecutiveFailures++
	if err != nil {
		w.health.LastError = err.Error()
	}
	return w.health.ConsecutiveFailures
}

func (w *Worker) countValidationDrop() {
	w.mu.Lock()
	w.health.ValidationDrops++
	w.mu.Unlock()
}

// failureCause trennt Speicher- von Geräteproblemen in den Logs
func failureCause(err error) string {
	var serr *storage.StoreError
	if errors.As(err, &serr) {
		return "storage"
	}
	return "device"
}
