/*
scheduler.go - Automated grant issuing

PURPOSE:
  Periodically walks the employee directory and issues every scheduled
  grant that has come due. Issuing is idempotent on (employee, grant
  date), so a missed tick or a restart never double-grants.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs once immediately on start
  - One employee's failure is logged and does not stop the sweep

USAGE:
  scheduler := NewGrantScheduler(service, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CreateGrants endpoint (manual issuing)
  - timeoff/issue.go: Issuer
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/yukyu-ledger/timeoff"
	"go.uber.org/zap"
)

// GrantScheduler issues due grants on a timer.
type GrantScheduler struct {
	Service       *timeoff.Service
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// SweepResult summarizes one pass over the directory.
type SweepResult struct {
	Employees int
	Issued    int
	Failed    int
}

// NewGrantScheduler creates an enabled scheduler with an hourly interval.
func NewGrantScheduler(svc *timeoff.Service, logger *zap.Logger) *GrantScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrantScheduler{
		Service:       svc,
		Logger:        logger,
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (gs *GrantScheduler) Start() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if !gs.Enabled {
		gs.Logger.Info("grant scheduler disabled")
		return
	}
	if gs.ticker != nil {
		return
	}

	gs.ticker = time.NewTicker(gs.CheckInterval)
	gs.stop = make(chan struct{})
	gs.wg.Add(1)
	go gs.run(gs.ticker, gs.stop)

	gs.Logger.Info("grant scheduler started", zap.Duration("interval", gs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (gs *GrantScheduler) Stop() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if gs.ticker == nil {
		return
	}
	gs.ticker.Stop()
	close(gs.stop)
	gs.wg.Wait()
	gs.ticker = nil
	gs.Logger.Info("grant scheduler stopped")
}

func (gs *GrantScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer gs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	gs.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			gs.Sweep(ctx)
		case <-stop:
			return
		}
	}
}

// Sweep issues due grants for every employee as of the service's today.
func (gs *GrantScheduler) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	asOf := gs.Service.Today()

	employees, err := gs.Service.ListEmployees(ctx)
	if err != nil {
		gs.Logger.Error("listing employees", zap.Error(err))
		return res
	}

	for _, emp := range employees {
		if ctx.Err() != nil {
			break
		}
		res.Employees++
		issued, err := gs.Service.IssueDueGrants(ctx, emp.ID, asOf)
		if err != nil {
			res.Failed++
			gs.Logger.Error("issuing grants",
				zap.String("employee_id", string(emp.ID)),
				zap.Error(err),
			)
			continue
		}
		res.Issued += len(issued)
	}

	gs.Logger.Info("grant sweep finished",
		zap.Stringer("as_of", asOf),
		zap.Int("employees", res.Employees),
		zap.Int("issued", res.Issued),
		zap.Int("failed", res.Failed),
	)
	return res
}
