package sync

import (
	"context"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"
)

// DriverConfig holds configuration for the background reconciliation
// driver.
type DriverConfig struct {
	// Interval is how often a push/pull cycle runs.
	Interval time.Duration

	// Boundary delivers logical-day boundary events; the driver consumes
	// them and runs the recompute within a normal cycle. May be nil.
	Boundary <-chan time.Time

	// Logger for driver activity.
	Logger *log.Logger
}

// DefaultDriverConfig returns sensible defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Interval: 5 * time.Minute,
		Logger:   log.New(os.Stderr, "[driver] ", log.LstdFlags),
	}
}

// Driver runs reconciliation cycles periodically in the background.
//
// The foreground path never waits on it: user edits commit to the cache
// and queue synchronously, and the driver reconciles later. A cycle in
// flight is abandoned safely on Stop because queue items transition state
// per item.
type Driver struct {
	service *Service
	config  DriverConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewDriver creates a driver for the given sync service.
func NewDriver(service *Service, config DriverConfig) *Driver {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[driver] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		service: service,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the background loop. An immediate cycle runs on startup
// so a freshly-opened app reconciles without waiting a full interval.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	d.wg.Add(1)
	go d.loop()
}

// Stop cancels any in-flight cycle and waits for the loop to exit.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *Driver) loop() {
	defer d.wg.Done()

	d.runOnce()

	timer := time.NewTimer(d.jittered())
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-timer.C:
			d.runOnce()
			timer.Reset(d.jittered())

		case bt, ok := <-d.config.Boundary:
			if !ok {
				// Scheduler shut down; keep ticking.
				d.config.Boundary = nil
				continue
			}
			d.config.Logger.Printf("Day boundary at %s, running cycle", bt.Format(time.RFC3339))
			d.runOnce()
		}
	}
}

// jittered spreads cycle starts by up to 10% of the interval so multiple
// clients do not hit the remote in lockstep.
func (d *Driver) jittered() time.Duration {
	max := int64(d.config.Interval) / 10
	if max <= 0 {
		return d.config.Interval
	}
	return d.config.Interval + time.Duration(rand.Int63n(max))
}

func (d *Driver) runOnce() {
	if _, err := d.service.RunCycle(d.ctx); err != nil {
		// Background failures land in the observable sync state; log
		// and keep the loop alive.
		d.config.Logger.Printf("Cycle failed: %v", err)
	}
}
