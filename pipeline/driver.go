package pipeline

import (
	"context"
	"fmt"
	"time"

	"flatbot/browser"
	"flatbot/models"
	"flatbot/processor"
	"flatbot/storage"
	"flatbot/utils"
)

// Ingester feeds newly discovered listings into the store. The mailbox
// fetcher implements it.
type Ingester interface {
	FetchOnce(ctx context.Context) (int, error)
}

// SessionFactory opens a fresh browser session for one processing cycle.
type SessionFactory func(ctx context.Context) (*browser.Session, error)

// Driver owns the outer loop: ingest, drain the eligible queue through one
// browser session, persist results, idle, repeat. One listing is processed
// fully before the next starts; there is no parallelism.
type Driver struct {
	store      storage.ListingStore
	ingester   Ingester
	registry   *processor.Registry
	newSession SessionFactory
	idle       time.Duration
	log        *utils.Logger
}

// NewDriver wires the pipeline.
func NewDriver(store storage.ListingStore, ingester Ingester, registry *processor.Registry,
	newSession SessionFactory, idle time.Duration, log *utils.Logger) *Driver {
	return &Driver{
		store:      store,
		ingester:   ingester,
		registry:   registry,
		newSession: newSession,
		idle:       idle,
		log:        log,
	}
}

// Run repeats cycles until the context is cancelled, waiting the idle
// interval between them.
func (d *Driver) Run(ctx context.Context) error {
	for {
		if err := d.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Error("[pipeline] Cycle failed: %v", err)
		}

		d.log.Info("[pipeline] Idling for %v", d.idle)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.idle):
		}
	}
}

// RunCycle performs one full pass: mailbox ingestion, then processing of
// every currently eligible listing.
func (d *Driver) RunCycle(ctx context.Context) error {
	if d.ingester != nil {
		n, err := d.ingester.FetchOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Warn("[pipeline] Ingestion failed: %v", err)
		} else {
			d.log.Info("[pipeline] Ingestion done — %d new listings", n)
		}
	}

	listings, err := d.store.SelectEligible()
	if err != nil {
		return fmt.Errorf("pipeline: select eligible: %w", err)
	}
	if len(listings) == 0 {
		d.log.Info("[pipeline] No eligible listings")
		d.logStats()
		return nil
	}
	d.log.Info("[pipeline] %d eligible listings to process", len(listings))

	session, err := d.newSession(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: open browser session: %w", err)
	}
	defer session.Close()

	for _, l := range listings {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		d.processOne(ctx, session, l)
	}

	d.logStats()
	return nil
}

// processOne runs a single listing through its processor and persists the
// outcome. Unexpected errors are logged and the cycle moves on; they still
// count against the listing's failure budget.
func (d *Driver) processOne(ctx context.Context, session *browser.Session, l *models.Listing) {
	proc, ok := d.registry.BySource(l.Source)
	if !ok {
		d.log.Warn("[pipeline] No processor registered for source %q (listing %s)", l.Source, l.ID)
		return
	}

	terminal, err := proc.Process(ctx, session, l)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.log.Error("[pipeline] Processor %s failed on listing %s: %v", proc.Name(), l.ID, err)
	}

	if uerr := d.store.Update(l); uerr != nil {
		d.log.Error("[pipeline] Could not persist listing %s: %v", l.ID, uerr)
	}

	if terminal || l.Processed {
		if merr := d.store.MarkProcessed(l.Source, l.ID); merr != nil {
			d.log.Error("[pipeline] Could not mark listing %s processed: %v", l.ID, merr)
		}
		d.log.Info("[pipeline] Listing %s finished", l.ID)
		return
	}

	// failures increment exactly once per non-terminal invocation,
	// however many local attempts it burned
	count, ferr := d.store.IncrementFailures(l.Source, l.ID)
	if ferr != nil {
		d.log.Error("[pipeline] Could not record failure for listing %s: %v", l.ID, ferr)
		return
	}
	d.log.Info("[pipeline] Listing %s failed, failure count now %d", l.ID, count)
}

func (d *Driver) logStats() {
	stats, err := d.store.Stats()
	if err != nil {
		d.log.Warn("[pipeline] Stats unavailable: %v", err)
		return
	}
	d.log.Info("[pipeline] Queue — total: %d | processed: %d | eligible: %d",
		stats.Total, stats.Processed, stats.Eligible)
}
