// Package tier models the ordered chain of storage pools, fastest first.
package tier

import (
	"fmt"
	"os"
	"time"

	"github.com/coldshift/coldshift/internal/catalog"
)

// Tier is one storage pool in the chain.
type Tier struct {
	ID  string
	Dir string

	// MaxWatermark is the usage percent at or above which files migrate
	// down; MinWatermark is the usage percent below which the tier has
	// headroom to accept files from below.
	MaxWatermark int
	MinWatermark int

	// Expires, when non-zero, demotes files whose age since last modify
	// exceeds it, independent of watermark pressure.
	Expires time.Duration

	// Catalog is rebuilt by the crawler at the start of every pass and
	// owned exclusively by the migration engine for its duration.
	Catalog *catalog.Catalog
}

// TopologyError reports a malformed tier chain. It is fatal: a pass must
// not begin against a broken topology.
type TopologyError struct {
	Reason string
}

func (e *TopologyError) Error() string {
	return "tier topology: " + e.Reason
}

// Topology is the tier chain, index 0 fastest. "Higher" and "lower"
// neighbors are index arithmetic, so the chain is non-cyclic by
// construction.
type Topology struct {
	tiers []*Tier
}

// NewTopology validates the ordered tier list and returns a topology over
// it. The list is trusted to come from validated configuration; the checks
// here are the invariants a pass cannot survive without.
func NewTopology(tiers []*Tier) (*Topology, error) {
	if len(tiers) < 2 {
		return nil, &TopologyError{Reason: fmt.Sprintf("need at least 2 tiers, have %d", len(tiers))}
	}

	seen := make(map[string]string, len(tiers))
	for _, t := range tiers {
		if t.Dir == "" {
			return nil, &TopologyError{Reason: fmt.Sprintf("tier %q has no directory", t.ID)}
		}
		if prev, ok := seen[t.Dir]; ok {
			return nil, &TopologyError{
				Reason: fmt.Sprintf("tiers %q and %q share directory %s", prev, t.ID, t.Dir),
			}
		}
		seen[t.Dir] = t.ID

		if t.MaxWatermark < 0 || t.MaxWatermark > 100 || t.MinWatermark < 0 || t.MinWatermark > 100 {
			return nil, &TopologyError{
				Reason: fmt.Sprintf("tier %q watermarks out of range: max=%d min=%d",
					t.ID, t.MaxWatermark, t.MinWatermark),
			}
		}

		info, err := os.Stat(t.Dir)
		if err != nil {
			return nil, &TopologyError{Reason: fmt.Sprintf("tier %q: %v", t.ID, err)}
		}
		if !info.IsDir() {
			return nil, &TopologyError{Reason: fmt.Sprintf("tier %q: %s is not a directory", t.ID, t.Dir)}
		}

		if t.Catalog == nil {
			t.Catalog = &catalog.Catalog{}
		}
	}

	return &Topology{tiers: tiers}, nil
}

// Len returns the number of tiers in the chain.
func (t *Topology) Len() int { return len(t.tiers) }

// Tier returns the tier at position i, 0 being the fastest.
func (t *Topology) Tier(i int) *Tier { return t.tiers[i] }

// Top returns the fastest tier.
func (t *Topology) Top() *Tier { return t.tiers[0] }

// Bottom returns the slowest tier.
func (t *Topology) Bottom() *Tier { return t.tiers[len(t.tiers)-1] }

// Lower returns the next-slower neighbor of the tier at i, or nil for the
// bottom tier.
func (t *Topology) Lower(i int) *Tier {
	if i+1 >= len(t.tiers) {
		return nil
	}
	return t.tiers[i+1]
}

// Higher returns the next-faster neighbor of the tier at i, or nil for the
// top tier.
func (t *Topology) Higher(i int) *Tier {
	if i == 0 {
		return nil
	}
	return t.tiers[i-1]
}
