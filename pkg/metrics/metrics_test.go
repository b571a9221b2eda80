package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollectorRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Commits.Inc()
	c.Commits.Inc()
	c.Rollbacks.Inc()
	c.LockConflicts.Inc()
	c.ActiveWriteLocks.Set(3)

	if got := testutil.ToFloat64(c.Commits); got != 2 {
		t.Fatalf("Commits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Rollbacks); got != 1 {
		t.Fatalf("Rollbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.LockConflicts); got != 1 {
		t.Fatalf("LockConflicts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ActiveWriteLocks); got != 3 {
		t.Fatalf("ActiveWriteLocks = %v, want 3", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) != 4 {
		t.Fatalf("Gather returned %d metric families, want 4", len(mfs))
	}
}

func TestNewCollectorNilRegistererUsesDefault(t *testing.T) {
	// Registers against the default registry; NewCollector tolerates an
	// earlier registration of the same instruments within this test binary.
	c := NewCollector(nil)
	if c.Commits == nil || c.Rollbacks == nil || c.LockConflicts == nil || c.ActiveWriteLocks == nil {
		t.Fatalf("NewCollector(nil) left an instrument unset")
	}
}
