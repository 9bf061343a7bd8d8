package entfile

import (
	"bufio"
	"fmt"
	"io"

	"github.com/fortiblox/progsvm/pkg/edict"
	"github.com/fortiblox/progsvm/pkg/progs"
)

// IsComponent reports whether name is a synthetic _x, _y or _z component of
// a vector.
func IsComponent(name string) bool {
	return len(name) >= 2 && name[len(name)-2] == '_'
}

// liveFields calls fn for every field of e other than vector components
// whose cells are not all zero, in definition order.
func (c *Codec) liveFields(e *edict.Edict, fn func(name string, d *progs.Def, cells progs.Cells)) {
	img := c.dir.Image()
	fields := e.Fields()
	for i := 1; i < len(img.FieldDefs); i++ {
		d := &img.FieldDefs[i]
		name := img.Name(d)
		if IsComponent(name) || fields.Zero(int(d.Ofs), d.Kind().Size()) {
			continue
		}
		fn(name, d, fields[d.Ofs:])
	}
}

// Epair is one key/value pair of entity text.
type Epair struct {
	Key   string
	Value string
}

// Epairs returns the pairs WriteEntity would write for e. A free entity
// has none.
func (c *Codec) Epairs(e *edict.Edict) []Epair {
	if e.IsFree() {
		return nil
	}
	var out []Epair
	c.liveFields(e, func(name string, d *progs.Def, cells progs.Cells) {
		out = append(out, Epair{Key: name, Value: c.fmt.Ugly(d.Type, cells)})
	})
	return out
}

// WriteEntity writes e as one group. Fields whose cells are all zero and
// vector components are omitted. A free entity is written as an empty group.
func (c *Codec) WriteEntity(w io.Writer, e *edict.Edict) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("{\n")
	for _, p := range c.Epairs(e) {
		fmt.Fprintf(bw, "\"%s\" \"%s\"\n", p.Key, p.Value)
	}
	bw.WriteString("}\n")
	return bw.Flush()
}

// WriteGlobals writes the persisted string, float and entity globals as one
// group.
func (c *Codec) WriteGlobals(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("{\n")
	img := c.dir.Image()
	for i := range img.GlobalDefs {
		d := &img.GlobalDefs[i]
		if !d.Persist() {
			continue
		}
		switch d.Kind() {
		case progs.EvString, progs.EvFloat, progs.EvEntity:
		default:
			continue
		}
		fmt.Fprintf(bw, "\"%s\" \"%s\"\n", img.Name(d), c.fmt.Ugly(d.Type, img.Globals[d.Ofs:]))
	}
	bw.WriteString("}\n")
	return bw.Flush()
}
