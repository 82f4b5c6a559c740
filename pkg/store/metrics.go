package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a compact view of the pebble metrics worth exporting.
type Stats struct {
	DiskBytes         uint64
	WALBytes          uint64
	L0Files           int64
	L0Bytes           int64
	CompactionBacklog uint64
}

// Stats returns a snapshot of the database metrics. A closed store reports
// zeroes.
func (s *Store) Stats() Stats {
	var st Stats
	if s.db == nil {
		return st
	}
	m := s.db.Metrics()
	st.DiskBytes = m.DiskSpaceUsage()
	st.WALBytes = m.WAL.Size
	st.L0Files = m.Levels[0].NumFiles
	st.L0Bytes = m.Levels[0].Size
	st.CompactionBacklog = m.Compact.EstimatedDebt
	return st
}

// Collectors returns gauges reading the store's stats on each scrape.
func (s *Store) Collectors() []prometheus.Collector {
	gauge := func(name, help string, fn func(Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "eventbatcher",
			Subsystem: "pebble",
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(s.Stats()) })
	}
	return []prometheus.Collector{
		gauge("disk_bytes", "On-disk size of the document store.", func(st Stats) float64 { return float64(st.DiskBytes) }),
		gauge("wal_bytes", "Size of the live write-ahead log.", func(st Stats) float64 { return float64(st.WALBytes) }),
		gauge("l0_files", "Number of level-0 sstables.", func(st Stats) float64 { return float64(st.L0Files) }),
		gauge("l0_bytes", "Size of level-0 sstables.", func(st Stats) float64 { return float64(st.L0Bytes) }),
		gauge("compaction_debt_bytes", "Estimated bytes pending compaction.", func(st Stats) float64 { return float64(st.CompactionBacklog) }),
	}
}
