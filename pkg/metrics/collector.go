package metrics

import (
	"time"

	"github.com/vigilsec/vigil/pkg/storage"
)

// RunningCounter reports how many scan workers are live. The worker
// supervisor satisfies it.
type RunningCounter interface {
	Running() int
}

// Sized reports element count. The VT cache satisfies it.
type Sized interface {
	Len() int
}

// Collector samples gauge metrics from the store and supervisor
type Collector struct {
	store   storage.Store
	running RunningCounter
	vts     Sized
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector. running and vts may be
// nil when the caller has no supervisor or VT cache to sample.
func NewCollector(store storage.Store, running RunningCounter, vts Sized) *Collector {
	return &Collector{
		store:   store,
		running: running,
		vts:     vts,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect samples every gauge once. The periodic loop calls it; tests
// may call it directly.
func (c *Collector) Collect() {
	c.collectTaskMetrics()
	c.collectQueueMetrics()

	if c.running != nil {
		ScansRunning.Set(float64(c.running.Running()))
	}
	if c.vts != nil {
		VTCacheSize.Set(float64(c.vts.Len()))
	}
}

func (c *Collector) collectTaskMetrics() {
	tasks, err := c.store.ListTasks()
	if err != nil {
		return
	}

	statusCounts := make(map[string]int)
	for _, task := range tasks {
		statusCounts[string(task.Status)]++
	}

	TasksTotal.Reset()
	for status, count := range statusCounts {
		TasksTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectQueueMetrics() {
	entries, err := c.store.ScanQueueList()
	if err != nil {
		return
	}

	ScanQueueLength.Set(float64(len(entries)))
}
