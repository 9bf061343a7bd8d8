package progs

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/fortiblox/progsvm/internal/types"
)

// ErrBadString is returned when a string cell points outside the table.
var ErrBadString = errors.New("string offset out of range")

// Cells is a view of 4-byte memory cells: the globals register file or an
// entity field block. The typed accessors are the only place cell bits are
// reinterpreted; which accessor to use is decided by a definition's Etype.
type Cells []uint32

// Float reads a float cell.
func (c Cells) Float(ofs int) float32 {
	return math.Float32frombits(c[ofs])
}

// SetFloat writes a float cell.
func (c Cells) SetFloat(ofs int, v float32) {
	c[ofs] = math.Float32bits(v)
}

// Int reads a cell as a signed integer (string, entity, field, function and
// pointer cells).
func (c Cells) Int(ofs int) int32 {
	return int32(c[ofs])
}

// SetInt writes an integer cell.
func (c Cells) SetInt(ofs int, v int32) {
	c[ofs] = uint32(v)
}

// Vector reads three consecutive float cells.
func (c Cells) Vector(ofs int) types.Vec3 {
	v := c[ofs : ofs+3 : ofs+3]
	return types.Vec3{
		math.Float32frombits(v[0]),
		math.Float32frombits(v[1]),
		math.Float32frombits(v[2]),
	}
}

// SetVector writes three consecutive float cells.
func (c Cells) SetVector(ofs int, v types.Vec3) {
	d := c[ofs : ofs+3 : ofs+3]
	d[0] = math.Float32bits(v[0])
	d[1] = math.Float32bits(v[1])
	d[2] = math.Float32bits(v[2])
}

// Zero reports whether n cells starting at ofs are all zero bits.
func (c Cells) Zero(ofs, n int) bool {
	for _, v := range c[ofs : ofs+n] {
		if v != 0 {
			return false
		}
	}
	return true
}

// Clear zeroes every cell.
func (c Cells) Clear() {
	for i := range c {
		c[i] = 0
	}
}

// StringTable is the string table. Offsets from the image and offsets
// returned by Intern share one address space. The loaded section is never
// written; interned strings live in chunks drawn from the allocator and are
// only dropped all at once by Reset.
type StringTable struct {
	base   []byte
	chunks []stringChunk
	alloc  Allocator
	size   int // logical end of the table
	temp   int // offset of the scratch slot, -1 until first used
}

type stringChunk struct {
	start int
	used  int
	mem   []byte
}

// TempSize is the capacity of the scratch slot including the terminator.
const TempSize = 128

// StringChunkSize is the minimum block requested from the allocator for
// interned strings.
const StringChunkSize = 4096

// NewStringTable wraps the string section of an image. Interned strings are
// allocated from alloc; a nil allocator uses the Go heap.
func NewStringTable(data []byte, alloc Allocator) *StringTable {
	if alloc == nil {
		alloc = HeapAllocator{}
	}
	return &StringTable{base: data[:len(data):len(data)], alloc: alloc, size: len(data), temp: -1}
}

// String returns the NUL terminated string at ofs. Offsets outside the
// table are rejected rather than dereferenced.
func (t *StringTable) String(ofs int32) (string, error) {
	s, ok := t.bytesAt(int(ofs))
	if !ok {
		return "", fmt.Errorf("%w: %d (table size %d)", ErrBadString, ofs, t.size)
	}
	if end := bytes.IndexByte(s, 0); end >= 0 {
		s = s[:end]
	}
	return string(s), nil
}

func (t *StringTable) bytesAt(ofs int) ([]byte, bool) {
	if ofs < 0 || ofs >= t.size {
		return nil, false
	}
	if ofs < len(t.base) {
		return t.base[ofs:], true
	}
	for i := len(t.chunks) - 1; i >= 0; i-- {
		c := &t.chunks[i]
		if ofs >= c.start {
			if ofs >= c.start+c.used {
				return nil, false
			}
			return c.mem[ofs-c.start : c.used], true
		}
	}
	return nil, false
}

// Lookup returns the string at ofs, or "" when the offset is invalid. It is
// meant for diagnostics only.
func (t *StringTable) Lookup(ofs int32) string {
	s, _ := t.String(ofs)
	return s
}

// reserve claims n bytes at the end of the table. A chunk that cannot hold
// n more bytes is sealed and a new one is allocated, so an allocator
// failure surfaces here.
func (t *StringTable) reserve(n int) (int32, []byte) {
	var c *stringChunk
	if len(t.chunks) > 0 {
		c = &t.chunks[len(t.chunks)-1]
	}
	if c == nil || len(c.mem)-c.used < n {
		t.chunks = append(t.chunks, stringChunk{
			start: t.size,
			mem:   t.alloc.Alloc(max(n, StringChunkSize), "strings"),
		})
		c = &t.chunks[len(t.chunks)-1]
	}
	ofs := c.start + c.used
	mem := c.mem[c.used : c.used+n]
	c.used += n
	t.size += n
	return int32(ofs), mem
}

// Intern appends s and returns its offset.
func (t *StringTable) Intern(s string) int32 {
	ofs, mem := t.reserve(len(s) + 1)
	n := copy(mem, s)
	mem[n] = 0
	return ofs
}

// Len returns the current table size in bytes.
func (t *StringTable) Len() int {
	return t.size
}

// Interned returns the number of bytes appended since load.
func (t *StringTable) Interned() int {
	return t.size - len(t.base)
}

// Reset drops every interned string and the scratch slot. Offsets handed
// out before the call are invalid afterwards. The chunk memory is returned
// to the allocator by its owner.
func (t *StringTable) Reset() {
	t.chunks = nil
	t.size = len(t.base)
	t.temp = -1
}

// Temp overwrites the single scratch slot with s, truncated to fit, and
// returns its offset. The value is only valid until the next call.
func (t *StringTable) Temp(s string) int32 {
	if t.temp < 0 {
		ofs, _ := t.reserve(TempSize)
		t.temp = int(ofs)
	}
	if len(s) > TempSize-1 {
		s = s[:TempSize-1]
	}
	slot, _ := t.bytesAt(t.temp)
	slot = slot[:TempSize]
	n := copy(slot, s)
	slot[n] = 0
	return int32(t.temp)
}
