package store

// PebbleMetrics is a compact view of the engine state exported to
// prometheus.
type PebbleMetrics struct {
	DiskBytes         uint64
	WALBytes          uint64
	L0Files           int64
	L0Bytes           uint64
	CompactionBacklog uint64
}

// GetPebbleMetrics returns a snapshot, or the zero value when closed.
func GetPebbleMetrics() PebbleMetrics {
	var m PebbleMetrics
	if db == nil {
		return m
	}
	pm := db.Metrics()
	if pm == nil {
		return m
	}
	m.DiskBytes = pm.DiskSpaceUsage()
	m.WALBytes = pm.WAL.Size
	m.L0Files = pm.Levels[0].NumFiles
	m.L0Bytes = uint64(pm.Levels[0].Size)
	m.CompactionBacklog = pm.Compact.EstimatedDebt
	return m
}

// Path returns the directory the store was opened at.
func Path() string { return dbPath }
