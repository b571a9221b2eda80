// Package metrics wires the handful of counters/gauges that matter for
// an embedded single-writer store: how often transactions commit or roll
// back, how often a write stalls on another transaction's lock, and how
// many OIDs currently sit behind an active write lock.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector groups the database's Prometheus instruments. Database.Open
// constructs one and registers it against the supplied Registerer (or the
// default global registry when nil), handing callers an explicit
// metrics surface instead of relying on package-level globals.
type Collector struct {
	Commits          prometheus.Counter
	Rollbacks        prometheus.Counter
	LockConflicts    prometheus.Counter
	ActiveWriteLocks prometheus.Gauge
}

// NewCollector builds and registers the instrument set. A nil registerer
// registers against prometheus.DefaultRegisterer. Registering the same
// metric names twice (e.g. opening several Databases against the default
// registry) is tolerated rather than treated as a fatal error.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udb",
			Name:      "transaction_commits_total",
			Help:      "Number of transactions successfully committed.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udb",
			Name:      "transaction_rollbacks_total",
			Help:      "Number of transactions rolled back.",
		}),
		LockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udb",
			Name:      "write_lock_conflicts_total",
			Help:      "Number of writes rejected because the OID was locked by another transaction.",
		}),
		ActiveWriteLocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "udb",
			Name:      "active_write_locks",
			Help:      "Number of OIDs currently held by an open transaction's write lock.",
		}),
	}
	c.Commits = registerOrReuse(reg, c.Commits).(prometheus.Counter)
	c.Rollbacks = registerOrReuse(reg, c.Rollbacks).(prometheus.Counter)
	c.LockConflicts = registerOrReuse(reg, c.LockConflicts).(prometheus.Counter)
	c.ActiveWriteLocks = registerOrReuse(reg, c.ActiveWriteLocks).(prometheus.Gauge)
	return c
}

// registerOrReuse registers coll against reg. If an earlier Database.Open
// in this process already registered an instrument under the same
// fully-qualified name (e.g. several Databases sharing the default global
// registry), it returns that existing instrument instead so the new
// Collector reports through the one the registry actually exposes, rather
// than silently updating an orphaned, unregistered duplicate.
func registerOrReuse(reg prometheus.Registerer, coll prometheus.Collector) prometheus.Collector {
	if err := reg.Register(coll); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return coll
}
