package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vigilsec/vigil/pkg/metrics"
	"github.com/vigilsec/vigil/pkg/types"
)

// run ingests the given feeds under the held lock. Metadata feeds load
// in parallel; the data objects follow serially because scan configs
// reference VTs. One failing feed cancels the rest; the markers of the
// feeds that completed stand, so the retry only redoes the failures.
func (c *Coordinator) run(ctx context.Context, todo []Status) error {
	var dataObjects *Status
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range todo {
		if st.Feed == types.FeedData {
			dataObjects = &st
			continue
		}
		g.Go(func() error {
			return c.syncOne(gctx, st)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if dataObjects != nil {
		return c.syncOne(ctx, *dataObjects)
	}
	return nil
}

// syncOne ingests one feed and moves its marker to the disk version.
func (c *Coordinator) syncOne(ctx context.Context, st Status) error {
	start := time.Now()
	var err error
	switch st.Feed {
	case types.FeedNVT:
		err = c.syncNVT(ctx)
	case types.FeedSCAP:
		err = c.syncSCAP(ctx)
	case types.FeedCERT:
		// Advisory data is served from disk; only the marker moves.
	case types.FeedData:
		err = c.syncDataObjects(ctx)
	}
	if err == nil {
		err = c.store.SetFeedSyncedAt(st.Feed, st.Disk)
	}

	feed := string(st.Feed)
	metrics.FeedSyncDuration.WithLabelValues(feed).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FeedSyncsTotal.WithLabelValues(feed, "error").Inc()
		c.logger.Error().Err(err).Str("feed", feed).Msg("feed sync failed")
		return fmt.Errorf("sync %s feed: %w", feed, err)
	}
	metrics.FeedSyncsTotal.WithLabelValues(feed, "ok").Inc()
	c.logger.Info().Str("feed", feed).Time("version", st.Disk).Dur("took", time.Since(start)).Msg("feed synced")
	return nil
}

// syncNVT replaces the stored VT metadata with the feed manifest.
func (c *Coordinator) syncNVT(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(c.cfg.FeedTypeDir(string(types.FeedNVT)), "vts.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read vt manifest: %w", err)
	}
	var vts []*types.VT
	if err := json.Unmarshal(data, &vts); err != nil {
		return fmt.Errorf("parse vt manifest: %w", err)
	}
	if err := c.store.ReplaceVTs(vts); err != nil {
		return err
	}
	c.logger.Debug().Int("vts", len(vts)).Msg("vt metadata replaced")
	return nil
}

// syncSCAP replaces the CVE correlation map the CVE scanner runs on.
func (c *Coordinator) syncSCAP(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(c.cfg.FeedTypeDir(string(types.FeedSCAP)), "cves.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read cve manifest: %w", err)
	}
	var items []*types.CVEItem
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("parse cve manifest: %w", err)
	}
	if err := c.store.ReplaceCVEItems(items); err != nil {
		return err
	}
	c.logger.Debug().Int("cves", len(items)).Msg("cve map replaced")
	return nil
}

// syncDataObjects imports the shipped scan configs. Existing configs
// with the same id are overwritten; user-created ones are untouched.
func (c *Coordinator) syncDataObjects(ctx context.Context) error {
	dir := filepath.Join(c.cfg.FeedTypeDir(string(types.FeedData)), "scan-configs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read scan config dir: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		var sc types.ScanConfig
		if err := json.Unmarshal(data, &sc); err != nil {
			return fmt.Errorf("scan config %s: %w", entry.Name(), err)
		}
		if sc.ID == "" {
			return fmt.Errorf("scan config %s has no id", entry.Name())
		}
		if err := c.store.CreateScanConfig(&sc); err != nil {
			return err
		}
		count++
	}
	c.logger.Debug().Int("configs", count).Msg("data objects imported")
	return nil
}
