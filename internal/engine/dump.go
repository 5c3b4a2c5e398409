package engine

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// DumpCatalogs writes a human-readable dump of every tier's ranked catalog
// for operational inspection. The format is not a compatibility contract.
func (e *Engine) DumpCatalogs(w io.Writer) {
	fmt.Fprintln(w, "Files from freshest to stalest:")
	for i := 0; i < e.cfg.Topology.Len(); i++ {
		t := e.cfg.Topology.Tier(i)
		fmt.Fprintf(w, "\n[%s] %s\n", t.ID, t.Dir)
		for _, f := range t.Catalog.Files() {
			pin := ""
			if f.PinnedTo != "" {
				pin = " pinned"
			}
			fmt.Fprintf(w, "  prio=%-6d atime=%s size=%-10s %s%s\n",
				f.Priority,
				f.ATime.Format(time.RFC3339),
				humanize.IBytes(uint64(f.Size)),
				f.Path,
				pin)
		}
	}
}
