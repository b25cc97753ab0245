/*
sweeper.go - Background inventory sweep

PURPOSE:
  Periodically performs the two housekeeping passes the engine otherwise
  expects from external collaborators:
  1. Mark past-expiry units as expired (the disposal sweep).
  2. Force-release reservations older than the TTL with no commit
     (abandoned approvals would otherwise leak units forever).

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Each pass is independent; a failure in one doesn't skip the other
  - Counts are logged and exported as Prometheus counters

USAGE:
  sweeper := api.NewSweeper(store)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - engine/store.go: MarkExpired / ReleaseStale contracts
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/crossmatch/blood-engine/engine"
	"github.com/crossmatch/blood-engine/metrics"
)

// Sweeper handles periodic expiry marking and stale reservation release.
type Sweeper struct {
	Units          engine.UnitStore
	CheckInterval  time.Duration
	ReservationTTL time.Duration
	Enabled        bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper with sensible defaults: hourly checks,
// 30 minute reservation TTL.
func NewSweeper(units engine.UnitStore) *Sweeper {
	return &Sweeper{
		Units:          units,
		CheckInterval:  1 * time.Hour,
		ReservationTTL: 30 * time.Minute,
		Enabled:        true,
		stop:           make(chan bool),
	}
}

// Start begins the sweeper.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Sweeper] Started with interval %v, reservation TTL %v", s.CheckInterval, s.ReservationTTL)
}

// Stop stops the sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.Sweep(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.Sweep(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Sweep runs both passes once. Exported for manual triggering and tests.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()

	expired, err := s.Units.MarkExpired(ctx, now)
	if err != nil {
		log.Printf("[Sweeper] Expiry pass failed: %v", err)
	} else if expired > 0 {
		metrics.ExpiredUnitsTotal.Add(float64(expired))
		log.Printf("[Sweeper] Marked %d unit(s) expired", expired)
	}

	released, err := s.Units.ReleaseStale(ctx, now.Add(-s.ReservationTTL))
	if err != nil {
		log.Printf("[Sweeper] Stale reservation pass failed: %v", err)
	} else if released > 0 {
		metrics.StaleReleasesTotal.Add(float64(released))
		log.Printf("[Sweeper] Force-released %d stale reservation(s)", released)
	}
}
