package entfile

import (
	"fmt"
	"io"
	"strings"

	"github.com/fortiblox/progsvm/pkg/edict"
	"github.com/fortiblox/progsvm/pkg/progs"
)

// PrintEdict writes a readable dump of e's non-zero fields.
func (c *Codec) PrintEdict(w io.Writer, e *edict.Edict) {
	if e.IsFree() {
		fmt.Fprintf(w, "FREE\n")
		return
	}
	fmt.Fprintf(w, "\nEDICT %d:\n", e.Index())

	c.liveFields(e, func(name string, d *progs.Def, cells progs.Cells) {
		pad := ""
		if len(name) < 15 {
			pad = strings.Repeat(" ", 15-len(name))
		}
		fmt.Fprintf(w, "%s%s%s\n", name, pad, c.fmt.Value(d.Type, cells))
	})
}

// PrintEdicts dumps every entity slot in use.
func (c *Codec) PrintEdicts(w io.Writer) {
	fmt.Fprintf(w, "%d entities\n", c.pool.Count())
	for i := 0; i < c.pool.Count(); i++ {
		e, _ := c.pool.Num(i)
		c.PrintEdict(w, e)
	}
}

// PrintCount writes the entity census.
func (c *Codec) PrintCount(w io.Writer) {
	s := c.pool.Stats()
	fmt.Fprintf(w, "num_edicts: %3d\n", s.Num)
	fmt.Fprintf(w, "active:     %3d\n", s.Active)
	fmt.Fprintf(w, "view:       %3d\n", s.Models)
	fmt.Fprintf(w, "touch:      %3d\n", s.Solid)
	fmt.Fprintf(w, "step:       %3d\n", s.Step)
}
