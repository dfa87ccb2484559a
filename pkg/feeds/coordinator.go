package feeds

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/events"
	"github.com/vigilsec/vigil/pkg/locking"
	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// syncOrder is the set of feeds the coordinator watches, in the order
// they are reported. NVT, SCAP and CERT ingest in parallel; the data
// objects follow once those are in, since scan configs reference VTs.
var syncOrder = []types.FeedType{types.FeedNVT, types.FeedSCAP, types.FeedCERT, types.FeedData}

// Coordinator ingests synchronised feed data into the store. The feed
// directories are written by an external sync job; the coordinator only
// detects new versions and loads them, serialised across processes by
// the feed lock and gated on free memory.
type Coordinator struct {
	store  storage.Store
	cfg    *config.Config
	events *events.Broker
	lock   *locking.FileLock
	logger zerolog.Logger

	// Replaceable in tests.
	freeMem func() uint64
	wait    func(ctx context.Context, d time.Duration) error
}

// NewCoordinator wires a feed coordinator on the configured feed
// directory and lock file.
func NewCoordinator(store storage.Store, cfg *config.Config, broker *events.Broker) *Coordinator {
	return &Coordinator{
		store:   store,
		cfg:     cfg,
		events:  broker,
		lock:    locking.NewStampedFileLock(cfg.FeedLock()),
		logger:  log.WithComponent("feeds"),
		freeMem: memory.FreeMemory,
		wait:    sleep,
	}
}

// Status is one feed's disk version against what the store has
// ingested.
type Status struct {
	Feed    types.FeedType
	Disk    time.Time // version on disk, zero when the feed is absent
	Synced  time.Time // version ingested, zero when never synced
	Pending bool
}

// Status reports every feed's sync state.
func (c *Coordinator) Status() ([]Status, error) {
	var out []Status
	for _, feed := range syncOrder {
		disk, err := c.diskVersion(feed)
		if err != nil {
			return nil, err
		}
		synced, err := c.store.FeedSyncedAt(feed)
		if err != nil {
			return nil, err
		}
		out = append(out, Status{
			Feed:    feed,
			Disk:    disk,
			Synced:  synced,
			Pending: !disk.IsZero() && disk.After(synced),
		})
	}
	return out, nil
}

// Tick probes the feed directories and syncs when any feed on disk is
// newer than what the store ingested. A busy lock or memory pressure
// is not an error at tick level; the next tick retries.
func (c *Coordinator) Tick(ctx context.Context) error {
	statuses, err := c.Status()
	if err != nil {
		return err
	}
	pending := false
	for _, st := range statuses {
		pending = pending || st.Pending
	}
	if !pending {
		return nil
	}
	return c.Sync(ctx, false)
}

// Sync ingests every pending feed, or every feed present on disk when
// force is set. It returns ErrFeedBusy when another holder keeps the
// feed lock past the configured timeout and ErrMemoryPressure when
// free memory stays under the floor for the whole retry window.
func (c *Coordinator) Sync(ctx context.Context, force bool) error {
	statuses, err := c.Status()
	if err != nil {
		return err
	}
	var todo []Status
	for _, st := range statuses {
		if st.Pending || (force && !st.Disk.IsZero()) {
			todo = append(todo, st)
		}
	}
	if len(todo) == 0 {
		return nil
	}

	if err := c.waitForMemory(ctx); err != nil {
		return err
	}
	if err := c.acquireLock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.lock.Release(); err != nil {
			c.logger.Warn().Err(err).Msg("feed lock release failed")
		}
	}()

	names := feedNames(todo)
	c.logger.Info().Strs("feeds", names).Msg("feed sync started")
	c.events.Publish(&events.Event{Type: events.EventFeedSyncStarted, Message: strings.Join(names, ",")})

	err = c.run(ctx, todo)
	outcome := "feeds synced"
	if err != nil {
		outcome = fmt.Sprintf("feed sync failed: %v", err)
	}
	c.events.Publish(&events.Event{Type: events.EventFeedSyncFinished, Message: outcome})
	return err
}

func feedNames(statuses []Status) []string {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st.Feed)
	}
	return names
}

// waitForMemory blocks until free memory clears the configured floor,
// rechecking every tick period up to MemWaitRetries times.
func (c *Coordinator) waitForMemory(ctx context.Context) error {
	if c.cfg.MinMemFeedUpdate <= 0 {
		return nil
	}
	floor := uint64(c.cfg.MinMemFeedUpdate) * 1024 * 1024
	for attempt := 0; ; attempt++ {
		free := c.freeMem()
		if free >= floor {
			return nil
		}
		if attempt >= c.cfg.MemWaitRetries {
			return fmt.Errorf("%d MiB free, need %d MiB: %w",
				free/(1024*1024), c.cfg.MinMemFeedUpdate, types.ErrMemoryPressure)
		}
		c.logger.Info().
			Uint64("free_mib", free/(1024*1024)).
			Int("need_mib", c.cfg.MinMemFeedUpdate).
			Msg("waiting for free memory before feed sync")
		if err := c.wait(ctx, c.cfg.SchedulePeriod); err != nil {
			return err
		}
	}
}

// acquireLock takes the feed lock, retrying every second up to
// FeedLockTimeout. A timeout of zero tries exactly once.
func (c *Coordinator) acquireLock(ctx context.Context) error {
	deadline := time.Now().Add(time.Duration(c.cfg.FeedLockTimeout) * time.Second)
	for {
		ok, err := c.lock.TryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if c.cfg.FeedLockTimeout <= 0 || !time.Now().Before(deadline) {
			return fmt.Errorf("lock %s held elsewhere: %w", c.lock.Path(), types.ErrFeedBusy)
		}
		if err := c.wait(ctx, time.Second); err != nil {
			return err
		}
	}
}

// diskVersion reads a feed's timestamp file. The sync job writes the
// feed version as "YYYYMMDDhhmm" in UTC; a missing file means the feed
// is not present on this host.
func (c *Coordinator) diskVersion(feed types.FeedType) (time.Time, error) {
	path := filepath.Join(c.cfg.FeedTypeDir(string(feed)), "timestamp")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read feed timestamp %s: %w", path, err)
	}
	stamp := strings.TrimSpace(string(data))
	t, err := time.ParseInLocation("200601021504", stamp, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("feed timestamp %s: %w", path, err)
	}
	return t, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
