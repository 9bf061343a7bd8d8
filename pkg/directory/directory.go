// Package directory resolves field, global and function names against a
// loaded program image.
//
// Lookups are linear scans over the definition tables. Field lookups from the
// hot paths go through a two-entry cache that only remembers successful
// lookups.
package directory

import (
	"github.com/fortiblox/progsvm/pkg/progs"
)

const (
	cacheSize = 2

	// MaxCachedName is the length at and above which names bypass the cache.
	MaxCachedName = 64
)

type cacheEntry struct {
	name string
	def  *progs.Def
}

// Directory is a name index over one image.
type Directory struct {
	img   *progs.Image
	cache [cacheSize]cacheEntry
	rep   int
	scans int
}

// New creates a directory over img.
func New(img *progs.Image) *Directory {
	return &Directory{img: img}
}

// Reset switches to a newly loaded image and drops the cache.
func (d *Directory) Reset(img *progs.Image) {
	d.img = img
	d.cache = [cacheSize]cacheEntry{}
	d.rep = 0
}

// Image returns the image being indexed.
func (d *Directory) Image() *progs.Image { return d.img }

// FindField returns the field definition called name.
func (d *Directory) FindField(name string) (*progs.Def, bool) {
	d.scans++
	return find(d.img, d.img.FieldDefs, name)
}

// FindGlobal returns the global definition called name.
func (d *Directory) FindGlobal(name string) (*progs.Def, bool) {
	return find(d.img, d.img.GlobalDefs, name)
}

func find(img *progs.Image, defs []progs.Def, name string) (*progs.Def, bool) {
	for i := range defs {
		if img.Strings.Lookup(defs[i].Name) == name {
			return &defs[i], true
		}
	}
	return nil, false
}

// FindFunction returns the index of the function called name.
func (d *Directory) FindFunction(name string) (progs.Func, bool) {
	for i := range d.img.Functions {
		if d.img.Strings.Lookup(d.img.Functions[i].Name) == name {
			return progs.Func(i), true
		}
	}
	return 0, false
}

// CachedField is FindField through the lookup cache. Misses are never
// cached, so a field that does not exist is rescanned every time.
func (d *Directory) CachedField(name string) (*progs.Def, bool) {
	for i := range d.cache {
		if d.cache[i].def != nil && d.cache[i].name == name {
			return d.cache[i].def, true
		}
	}

	def, ok := d.FindField(name)
	if !ok {
		return nil, false
	}
	if len(name) < MaxCachedName {
		d.cache[d.rep] = cacheEntry{name: name, def: def}
		d.rep ^= 1
	}
	return def, true
}

// FieldAtOfs returns the first field definition at ofs.
func (d *Directory) FieldAtOfs(ofs int) (*progs.Def, bool) {
	return atOfs(d.img.FieldDefs, ofs)
}

// GlobalAtOfs returns the first global definition at ofs.
func (d *Directory) GlobalAtOfs(ofs int) (*progs.Def, bool) {
	return atOfs(d.img.GlobalDefs, ofs)
}

func atOfs(defs []progs.Def, ofs int) (*progs.Def, bool) {
	for i := range defs {
		if int(defs[i].Ofs) == ofs {
			return &defs[i], true
		}
	}
	return nil, false
}

// Name returns the name of a definition.
func (d *Directory) Name(def *progs.Def) string {
	return d.img.Name(def)
}

// Scans returns the number of linear field scans performed so far.
func (d *Directory) Scans() int { return d.scans }
