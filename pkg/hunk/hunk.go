// Package hunk implements the mark/release storage arena that program images
// and level data are allocated from. Blocks are zeroed, 16-byte aligned and
// never freed individually; a level change releases everything above a
// watermark in one step.
package hunk

import (
	"errors"
	"fmt"
	"io"
	"unsafe"

	"github.com/rs/zerolog"
)

// Errors.
var (
	ErrHunkOverflow = errors.New("hunk: allocation failed")
	ErrBadSize      = errors.New("hunk: bad size")
	ErrBadMark      = errors.New("hunk: bad mark")
)

const (
	align   = 16
	nameLen = 8
)

// DefaultSize is the arena size used when none is configured.
const DefaultSize = 16 * 1024 * 1024

type block struct {
	ofs  int
	size int
	name string
}

// Hunk is a fixed-capacity arena.
type Hunk struct {
	base   []byte
	used   int
	blocks []block
	log    zerolog.Logger
}

// New creates an arena of size bytes.
func New(size int, log zerolog.Logger) *Hunk {
	if size <= 0 {
		size = DefaultSize
	}
	// Word backing keeps every block aligned for AllocCells.
	words := make([]uint64, (size+7)/8)
	base := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	return &Hunk{base: base, log: log}
}

// TryAlloc returns a zeroed block of size bytes tagged with name.
func (h *Hunk) TryAlloc(size int, name string) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	rounded := (size + align - 1) &^ (align - 1)
	if len(h.base)-h.used < rounded {
		return nil, fmt.Errorf("%w on %d bytes (%d free)", ErrHunkOverflow, size, len(h.base)-h.used)
	}
	if len(name) > nameLen {
		name = name[:nameLen]
	}
	ofs := h.used
	h.used += rounded
	mem := h.base[ofs : ofs+size : ofs+size]
	clear(mem)
	h.blocks = append(h.blocks, block{ofs: ofs, size: rounded, name: name})
	h.log.Debug().Str("name", name).Int("size", size).Int("used", h.used).Msg("hunk alloc")
	return mem, nil
}

// Alloc implements progs.Allocator. Running out of arena space is fatal to
// the operation in progress, so it panics with an error wrapping
// ErrHunkOverflow.
func (h *Hunk) Alloc(size int, name string) []byte {
	mem, err := h.TryAlloc(size, name)
	if err != nil {
		panic(err)
	}
	return mem
}

// AllocCells implements progs.Allocator: n 4-byte cells in one block.
func (h *Hunk) AllocCells(n int, name string) []uint32 {
	mem := h.Alloc(n*4, name)
	if n == 0 {
		return []uint32{}
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), n)
}

// LowMark returns the current watermark.
func (h *Hunk) LowMark() int { return h.used }

// FreeToLowMark releases every block allocated after mark.
func (h *Hunk) FreeToLowMark(mark int) error {
	if mark < 0 || mark > h.used {
		return fmt.Errorf("%w %d", ErrBadMark, mark)
	}
	clear(h.base[mark:h.used])
	h.used = mark
	n := len(h.blocks)
	for n > 0 && h.blocks[n-1].ofs >= mark {
		n--
	}
	h.blocks = h.blocks[:n]
	return nil
}

// Used returns the number of bytes in use.
func (h *Hunk) Used() int { return h.used }

// Size returns the arena capacity.
func (h *Hunk) Size() int { return len(h.base) }

// Print writes the block map. With all set every block is listed, otherwise
// runs of blocks sharing a name are totalled.
func (h *Hunk) Print(w io.Writer, all bool) {
	fmt.Fprintf(w, "          :%8d total hunk size\n", len(h.base))
	fmt.Fprintf(w, "-------------------------\n")
	sum := 0
	for i, b := range h.blocks {
		sum += b.size
		if all {
			fmt.Fprintf(w, "%8d :%8d %8s\n", b.ofs, b.size, b.name)
		}
		last := i == len(h.blocks)-1
		if last || h.blocks[i+1].name != b.name {
			if !all {
				fmt.Fprintf(w, "          :%8d %8s (TOTAL)\n", sum, b.name)
			}
			sum = 0
		}
	}
	fmt.Fprintf(w, "-------------------------\n")
	fmt.Fprintf(w, "          :%8d REMAINING\n", len(h.base)-h.used)
	fmt.Fprintf(w, "-------------------------\n")
	fmt.Fprintf(w, "%8d total blocks\n", len(h.blocks))
}
