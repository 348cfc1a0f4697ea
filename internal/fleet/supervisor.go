package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stempelwerk/zeitcore/internal/devicebus"
)

// FleetSummary verdichtet die Flotte auf ein paar Kennzahlen, für Logs
// und den Live-Feed.
type FleetSummary struct {
	Devices              int   `json:"devices"`
	Live                 int   `json:"live"`
	Reconnecting         int   `json:"reconnecting"`
	EventsPersisted      int64 `json:"events_persisted"`
	DuplicatesSuppressed int64 `json:"duplicates_suppressed"`
	ValidationDrops      int64 `json:"validation_drops"`
}

// Supervisor fährt pro Gerät einen Worker in eigener Goroutine hoch und
// hält die Flotte am Leben: ein Panic in einem Worker reißt weder den
// Prozess noch die anderen Geräte mit.
type Supervisor struct {
	opts    Options
	logger  *zap.Logger
	feed    Publisher
	order   []string
	workers map[string]*Worker

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSupervisor(
	devices []DeviceConfig,
	opts Options,
	driver devicebus.Driver,
	store EventStore,
	feed Publisher,
	logger *zap.Logger,
) *Supervisor {
	s := &Supervisor{
		opts:    opts,
		logger:  logger,
		feed:    feed,
		order:   make([]string, 0, len(devices)),
		workers: make(map[string]*Worker, len(devices)),
	}
	for _, cfg := range devices {
		w := NewWorker(cfg, opts, driver, store, feed, logger)
		s.order = append(s.order, w.Identity())
		s.workers[w.Identity()] = w
	}
	return s
}

// Start fährt alle Worker hoch und kehrt sofort zurück. Beenden über
// Stop oder das Ende von ctx.
func (s *Supervisor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for _, id := range s.order {
		s.wg.Add(1)
		go s.runWorker(runCtx, s.workers[id])
	}

	if s.opts.SummaryInterval > 0 {
		s.wg.Add(1)
		go s.summaryLoop(runCtx)
	}

	s.logger.Info("fleet supervisor started", zap.Int("devices", len(s.workers)))
}

// Stop beendet die Flotte und wartet bis alle Worker zurück sind,
// längstens bis ctx abläuft.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("fleet supervisor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fleet shutdown incomplete: %w", ctx.Err())
	}
}

// FleetHealth liefert die Momentaufnahme aller Geräte in stabiler
// Reihenfolge.
func (s *Supervisor) FleetHealth() []DeviceHealth {
	healths := make([]DeviceHealth, 0, len(s.order))
	for _, id := range s.order {
		healths = append(healths, s.workers[id].Health())
	}
	return healths
}

// WorkerHealth liefert die Momentaufnahme eines einzelnen Geräts.
func (s *Supervisor) WorkerHealth(identity string) (DeviceHealth, bool) {
	w, ok := s.workers[identity]
	if !ok {
		return DeviceHealth{}, false
	}
	return w.Health(), true
}

// Summarize verdichtet Gerätezustände zu Flottenkennzahlen
func Summarize(healths []DeviceHealth) FleetSummary {
	sum := FleetSummary{Devices: len(healths)}
	for _, h := range healths {
		switch h.State {
		case StateLive:
			sum.Live++
		case StateReconnecting:
			sum.Reconnecting++
		}
		sum.EventsPersisted += h.EventsPersisted
		sum.DuplicatesSuppressed += h.DuplicatesSuppressed
		sum.ValidationDrops += h.ValidationDrops
	}
	return sum
}

// runWorker hält einen Worker am Leben. Reguläres Ende heißt Shutdown;
// nach einem Panic startet der Worker mit Backoff neu.
func (s *Supervisor) runWorker(ctx context.Context, w *Worker) {
	defer s.wg.Done()

	for restarts := 0; ; restarts++ {
		if s.safeRun(ctx, w) {
			return
		}
		if ctx.Err() != nil {
			return
		}

		delay := s.opts.Backoff.Delay(restarts)
		s.logger.Warn("restarting device worker",
			zap.String("device", w.Identity()),
			zap.Int("restarts", restarts+1),
			zap.Duration("retry_in", delay))
		if !wait(ctx, delay) {
			return
		}
	}
}

// safeRun kapselt einen Worker-Lauf; false heißt: durch Panic beendet
func (s *Supervisor) safeRun(ctx context.Context, w *Worker) (finished bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("device worker panicked",
				zap.String("device", w.Identity()),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	w.Run(ctx)
	return true
}

func (s *Supervisor) summaryLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.SummaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sum := Summarize(s.FleetHealth())
			s.logger.Info("fleet summary",
				zap.Int("devices", sum.Devices),
				zap.Int("live", sum.Live),
				zap.Int("reconnecting", sum.Reconnecting),
				zap.Int64("events_persisted", sum.EventsPersisted),
				zap.Int64("duplicates_suppressed", sum.DuplicatesSuppressed),
				zap.Int64("validation_drops", sum.ValidationDrops))
			if s.feed != nil {
				s.feed.PublishFleetSummary(sum)
			}
		}
	}
}
