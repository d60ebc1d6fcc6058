package metrics

import (
	"context"
	"time"

	"github.com/cuemby/blockvault/pkg/database"
)

// Collector periodically samples the metadata database and updates the
// gauge metrics that no single backup/restore/scrub/gc call can keep
// current on its own (version counts by lifecycle status).
type Collector struct {
	db     *database.DB
	stopCh chan struct{}
}

// NewCollector creates a collector reading from db.
func NewCollector(db *database.DB) *Collector {
	return &Collector{
		db:     db,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s ticker until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectVersionMetrics()
}

func (c *Collector) collectVersionMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	versions, err := c.db.ListVersions(ctx, "")
	if err != nil {
		return
	}

	counts := map[database.Status]int{
		database.StatusIncomplete: 0,
		database.StatusValid:      0,
		database.StatusInvalid:    0,
	}
	for _, v := range versions {
		counts[v.Status]++
	}
	for status, count := range counts {
		VersionsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
