package rocksdb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a handful of pebble engine gauges for the store.
type Collector struct {
	st *Store

	compactions    *prometheus.Desc
	compactionDebt *prometheus.Desc
	memtableSize   *prometheus.Desc
	memtableCount  *prometheus.Desc
	walFiles       *prometheus.Desc
	walSize        *prometheus.Desc
	diskSpaceUsage *prometheus.Desc
}

func NewCollector(st *Store) *Collector {
	return &Collector{
		st:             st,
		compactions:    prometheus.NewDesc("pebble_compaction_count_total", "Total number of compactions performed", nil, nil),
		compactionDebt: prometheus.NewDesc("pebble_compaction_estimated_debt_bytes", "Estimated bytes to compact to reach a stable state", nil, nil),
		memtableSize:   prometheus.NewDesc("pebble_memtable_size_bytes", "Current size of the memtable in bytes", nil, nil),
		memtableCount:  prometheus.NewDesc("pebble_memtable_count", "Current count of memtables", nil, nil),
		walFiles:       prometheus.NewDesc("pebble_wal_files", "Number of live WAL files", nil, nil),
		walSize:        prometheus.NewDesc("pebble_wal_size_bytes", "Size of live WAL data in bytes", nil, nil),
		diskSpaceUsage: prometheus.NewDesc("pebble_disk_space_usage_bytes", "On-disk size of the store", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.compactions
	ch <- c.compactionDebt
	ch <- c.memtableSize
	ch <- c.memtableCount
	ch <- c.walFiles
	ch <- c.walSize
	ch <- c.diskSpaceUsage
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.st == nil || c.st.db == nil {
		return
	}
	m := c.st.db.Metrics()

	ch <- prometheus.MustNewConstMetric(c.compactions, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(c.compactionDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(c.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(c.memtableCount, prometheus.GaugeValue, float64(m.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(c.walFiles, prometheus.GaugeValue, float64(m.WAL.Files))
	ch <- prometheus.MustNewConstMetric(c.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(c.diskSpaceUsage, prometheus.GaugeValue, float64(m.DiskSpaceUsage()))
}
