package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asgrid/gridengine/internal/metrics"
	"github.com/asgrid/gridengine/internal/retry"
)

// restartWindow and maxRestartsPerHour implement §4.4's "max attempts per
// hour = 12" worker-restart budget, independent of internal/retry's
// per-call attempt cap (that governs one retry.Do loop, such as the market
// stream's resubscription; this governs a worker's whole lifetime).
const (
	restartWindow      = time.Hour
	maxRestartsPerHour = 12
)

// Status is one symbol's entry in a heartbeat snapshot.
type Status struct {
	Symbol  string
	Halted  bool
	Reason  StopReason
	Equity  float64
	Mark    float64
}

// Heartbeat is the status snapshot Supervisor.Snapshot builds on each call
// (cmd/gridengine serves it on request at /heartbeat): overall status,
// whether any symbol is running, summed equity, and per-symbol status. It
// carries no PnL, available-balance, or open-position fields.
type Heartbeat struct {
	Status        string
	IsTrading     bool
	Equity        float64
	Symbols       []Status
	Timestamp     time.Time
}

// Supervisor is C6: it owns the set of running Worker instances, starts and
// restarts them with backoff, and aggregates status — generalized from
// main.go's single-bot boot/shutdown sequence to N workers.
type Supervisor struct {
	mu       sync.Mutex
	workers  map[string]*Worker
	cancels  map[string]context.CancelFunc // per-symbol cancel, derived from StartSymbol's ctx
	restarts map[string][]time.Time        // recent restart timestamps, pruned to restartWindow
}

// NewSupervisor builds an empty Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		workers:  make(map[string]*Worker),
		cancels:  make(map[string]context.CancelFunc),
		restarts: make(map[string][]time.Time),
	}
}

// StartSymbol registers w and launches its Run loop under a context derived
// from ctx, restarting it with exponential backoff on unexpected return — a
// failure of one symbol's worker must never take down its peers (§4.4). The
// derived context is cancelled independently by StopSymbol, so stopping one
// symbol does not require cancelling every other worker's context (§5).
func (s *Supervisor) StartSymbol(ctx context.Context, eg *errgroup.Group, w *Worker) {
	workerCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.workers[w.Symbol] = w
	s.cancels[w.Symbol] = cancel
	s.mu.Unlock()

	eg.Go(func() error {
		policy := retry.Policy{
			Min:         5 * time.Second,
			Max:         5 * time.Minute,
			Factor:      2,
			MaxAttempts: 0, // unbounded: the hourly cap below governs termination, not attempt count
		}
		backoff := retry.NewBackoff(policy)
		for {
			err := w.Run(workerCtx)
			if workerCtx.Err() != nil {
				return nil
			}
			if halted, reason := w.Halted(); halted {
				log.Printf("[engine] %s worker halted permanently: %s", w.Symbol, reason)
				return nil
			}
			if err == nil {
				return nil
			}

			if !s.allowRestart(w.Symbol) {
				log.Printf("[engine] %s exceeded %d restarts/hour, giving up", w.Symbol, maxRestartsPerHour)
				return nil
			}
			metrics.WorkerRestarts.WithLabelValues(w.Symbol).Inc()
			delay := backoff.Next()
			log.Printf("[engine] %s worker exited (%v), restarting in %s", w.Symbol, err, delay)
			select {
			case <-workerCtx.Done():
				return nil
			case <-time.After(delay):
			}
		}
	})
}

// allowRestart enforces the 12-restarts-per-rolling-hour budget, pruning
// timestamps older than restartWindow.
func (s *Supervisor) allowRestart(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-restartWindow)
	kept := s.restarts[symbol][:0]
	for _, t := range s.restarts[symbol] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= maxRestartsPerHour {
		s.restarts[symbol] = kept
		return false
	}
	s.restarts[symbol] = append(kept, now)
	return true
}

// StopSymbol cancels symbol's worker context — the derived context
// StartSymbol created it with — and stops tracking it for heartbeat
// reporting. Cancelling unblocks w.Run's select on workerCtx.Done(), letting
// it finish any in-flight fill-posting before returning, per §5; it does not
// itself wait for that return (callers needing that should wait on the
// errgroup passed to StartSymbol).
func (s *Supervisor) StopSymbol(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[symbol]; ok {
		cancel()
	}
	delete(s.cancels, symbol)
	delete(s.workers, symbol)
}

// Snapshot builds a Heartbeat from the current worker set, at marks supplied
// by the caller (the supervisor does not itself know the latest price).
func (s *Supervisor) Snapshot(marks map[string]float64) Heartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	statuses := make([]Status, 0, len(s.workers))
	for symbol, w := range s.workers {
		mark := marks[symbol]
		halted, reason := w.Halted()
		eq := mustFloat(w.Equity(mark))
		total += eq
		statuses = append(statuses, Status{
			Symbol: symbol,
			Halted: halted,
			Reason: reason,
			Equity: eq,
			Mark:   mark,
		})
	}
	metrics.GlobalEquityUSD.Set(total)

	return Heartbeat{
		Status:    "ok",
		IsTrading: len(statuses) > 0,
		Equity:    total,
		Symbols:   statuses,
		Timestamp: time.Now().UTC(),
	}
}
