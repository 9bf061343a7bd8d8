// Package edict implements the fixed-capacity entity pool.
//
// Every entity owns a field block of EdictSize cells laid out by the loaded
// program's field definitions. All blocks live in one backing Cells array so
// that pointer cells, which are byte offsets into that array, can address any
// field of any entity.
package edict

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fortiblox/progsvm/internal/types"
	"github.com/fortiblox/progsvm/pkg/directory"
	"github.com/fortiblox/progsvm/pkg/progs"
)

// Errors.
var (
	ErrNoFreeEdicts = errors.New("no free edicts")
	ErrBadNumber    = errors.New("bad edict number")
	ErrBadPointer   = errors.New("bad edict pointer")
	ErrReserved     = errors.New("reserved edict")
)

const (
	// DefaultCapacity is the classic MAX_EDICTS.
	DefaultCapacity = 600

	// ReuseGrace is the simulation time before which freed slots are reused
	// immediately.
	ReuseGrace = 2.0

	// ReuseDelay is how long a freed slot rests before it is handed out again.
	ReuseDelay = 0.5
)

// Config configures a Pool.
type Config struct {
	// Capacity is the maximum number of entities.
	Capacity int

	// Reserved is the first slot Alloc may return. Slot 0 is the world and
	// the next MaxClients slots belong to clients.
	Reserved int

	// Clock returns the current simulation time.
	Clock func() float64

	// Allocator supplies the field block array. Nil uses the Go heap.
	Allocator progs.Allocator

	Logger zerolog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Capacity: DefaultCapacity,
		Reserved: 2,
		Clock:    func() float64 { return 0 },
		Logger:   zerolog.Nop(),
	}
}

// Edict is one entity slot.
type Edict struct {
	pool     *Pool
	index    int
	free     bool
	freeTime float64
}

// Index returns the slot number.
func (e *Edict) Index() int { return e.index }

// IsFree reports whether the slot is logically free.
func (e *Edict) IsFree() bool { return e.free }

// FreeTime returns the simulation time the slot was last freed.
func (e *Edict) FreeTime() float64 { return e.freeTime }

// SetFree marks the slot free or in use without touching its fields.
func (e *Edict) SetFree(free bool) { e.free = free }

// Fields returns the entity's field block.
func (e *Edict) Fields() progs.Cells {
	s := e.pool.stride
	return e.pool.cells[e.index*s : (e.index+1)*s : (e.index+1)*s]
}

// Float reads a float field, returning 0 for fields the program lacks.
func (e *Edict) Float(ofs int) float32 {
	if ofs < 0 {
		return 0
	}
	return e.Fields().Float(ofs)
}

// SetFloat writes a float field if the program declares it.
func (e *Edict) SetFloat(ofs int, v float32) {
	if ofs >= 0 {
		e.Fields().SetFloat(ofs, v)
	}
}

// Int reads an integer-valued field (string, entity, function).
func (e *Edict) Int(ofs int) int32 {
	if ofs < 0 {
		return 0
	}
	return e.Fields().Int(ofs)
}

// SetInt writes an integer-valued field if the program declares it.
func (e *Edict) SetInt(ofs int, v int32) {
	if ofs >= 0 {
		e.Fields().SetInt(ofs, v)
	}
}

// Vector reads a vector field.
func (e *Edict) Vector(ofs int) types.Vec3 {
	if ofs < 0 {
		return types.Vec3{}
	}
	return e.Fields().Vector(ofs)
}

// SetVector writes a vector field if the program declares it.
func (e *Edict) SetVector(ofs int, v types.Vec3) {
	if ofs >= 0 {
		e.Fields().SetVector(ofs, v)
	}
}

// Pool is the entity store.
type Pool struct {
	cfg    Config
	img    *progs.Image
	stride int
	cells  progs.Cells
	slots  []Edict
	count  int
	fields SystemFields
	log    zerolog.Logger
}

// NewPool creates a pool for img. The field block stride is fixed for the
// lifetime of the pool.
func NewPool(img *progs.Image, dir *directory.Directory, cfg Config) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Reserved < 1 {
		cfg.Reserved = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = func() float64 { return 0 }
	}
	if cfg.Allocator == nil {
		cfg.Allocator = progs.HeapAllocator{}
	}
	p := &Pool{
		cfg:    cfg,
		img:    img,
		stride: img.EdictSize,
		cells:  progs.Cells(cfg.Allocator.AllocCells(cfg.Capacity*img.EdictSize, "edicts")),
		slots:  make([]Edict, cfg.Capacity),
		fields: ResolveSystemFields(dir),
		log:    cfg.Logger,
	}
	for i := range p.slots {
		p.slots[i] = Edict{pool: p, index: i}
	}
	p.count = cfg.Reserved
	return p
}

// Image returns the program the pool is laid out for.
func (p *Pool) Image() *progs.Image { return p.img }

// Fields returns the resolved system field offsets.
func (p *Pool) Fields() *SystemFields { return &p.fields }

// Stride returns the field block size in cells.
func (p *Pool) Stride() int { return p.stride }

// Capacity returns the maximum number of entities.
func (p *Pool) Capacity() int { return p.cfg.Capacity }

// Reserved returns the first allocatable slot.
func (p *Pool) Reserved() int { return p.cfg.Reserved }

// Count returns the number of slots in use, free or not.
func (p *Pool) Count() int { return p.count }

// SetCount sets the number of slots in use.
func (p *Pool) SetCount(n int) error {
	if n < 0 || n > p.cfg.Capacity {
		return fmt.Errorf("%w %d", ErrBadNumber, n)
	}
	p.count = n
	return nil
}

// Cells returns the backing array of every field block.
func (p *Pool) Cells() progs.Cells { return p.cells }

// World returns slot 0.
func (p *Pool) World() *Edict { return &p.slots[0] }

// Num returns slot n.
func (p *Pool) Num(n int) (*Edict, error) {
	if n < 0 || n >= p.cfg.Capacity {
		return nil, fmt.Errorf("%w %d", ErrBadNumber, n)
	}
	return &p.slots[n], nil
}

// Clear zeroes the field block and marks the slot in use.
func (p *Pool) Clear(e *Edict) {
	e.Fields().Clear()
	e.free = false
}

// Alloc returns a cleared entity. Freed slots are reused once they have
// rested for ReuseDelay, or at any time during the first ReuseGrace seconds
// of simulation.
func (p *Pool) Alloc() (*Edict, error) {
	now := p.cfg.Clock()
	i := p.cfg.Reserved
	for ; i < p.count; i++ {
		e := &p.slots[i]
		if e.free && (e.freeTime < ReuseGrace || now-e.freeTime > ReuseDelay) {
			p.Clear(e)
			return e, nil
		}
	}
	if i >= p.cfg.Capacity {
		return nil, ErrNoFreeEdicts
	}
	p.count++
	e := &p.slots[i]
	p.Clear(e)
	p.log.Trace().Int("edict", i).Int("count", p.count).Msg("edict pool grew")
	return e, nil
}

// Free marks e free and neutralises the fields the engine would otherwise
// keep acting on.
func (p *Pool) Free(e *Edict) {
	f := &p.fields
	e.free = true
	e.SetInt(f.Model, 0)
	e.SetFloat(f.TakeDamage, 0)
	e.SetFloat(f.ModelIndex, 0)
	e.SetFloat(f.ColorMap, 0)
	e.SetFloat(f.Skin, 0)
	e.SetFloat(f.Frame, 0)
	e.SetVector(f.Origin, types.Vec3{})
	e.SetVector(f.Angles, types.Vec3{})
	e.SetFloat(f.NextThink, -1)
	e.SetFloat(f.Solid, 0)
	e.freeTime = p.cfg.Clock()
}

// Remove frees e on behalf of the program. The world and client slots are
// owned by the engine and cannot be removed.
func (p *Pool) Remove(e *Edict) error {
	if e.index < p.cfg.Reserved {
		return fmt.Errorf("%w %d", ErrReserved, e.index)
	}
	p.Free(e)
	return nil
}

// Reset clears every slot and sets the in-use count, as on level load.
func (p *Pool) Reset(count int) error {
	p.cells.Clear()
	for i := range p.slots {
		p.slots[i].free = false
		p.slots[i].freeTime = 0
	}
	return p.SetCount(count)
}

// Addr returns the pointer cell value addressing field ofs of entity index.
func (p *Pool) Addr(index, ofs int) int32 {
	return int32((index*p.stride + ofs) * progs.CellSize)
}

// CellAt converts a pointer cell value to an index into Cells.
func (p *Pool) CellAt(ptr int32) (int, error) {
	if ptr < 0 || ptr%progs.CellSize != 0 {
		return 0, fmt.Errorf("%w %d", ErrBadPointer, ptr)
	}
	cell := int(ptr) / progs.CellSize
	if cell >= p.count*p.stride {
		return 0, fmt.Errorf("%w %d", ErrBadPointer, ptr)
	}
	return cell, nil
}

// IndexOf converts a pointer to the start of an entity's field block back to
// its slot number.
func (p *Pool) IndexOf(ptr int32) (int, error) {
	size := p.stride * progs.CellSize
	if ptr < 0 || (size > 0 && int(ptr)%size != 0) {
		return 0, fmt.Errorf("%w %d", ErrBadPointer, ptr)
	}
	n := 0
	if size > 0 {
		n = int(ptr) / size
	}
	if n >= p.count {
		return 0, fmt.Errorf("%w %d", ErrBadPointer, ptr)
	}
	return n, nil
}

// Stats summarises the live entities.
type Stats struct {
	Num    int
	Active int
	Models int
	Solid  int
	Step   int
}

// Stats counts live entities by category.
func (p *Pool) Stats() Stats {
	s := Stats{Num: p.count}
	f := &p.fields
	for i := 0; i < p.count; i++ {
		e := &p.slots[i]
		if e.free {
			continue
		}
		s.Active++
		if e.Float(f.Solid) != 0 {
			s.Solid++
		}
		if e.Int(f.Model) != 0 {
			s.Models++
		}
		if e.Float(f.MoveType) == MoveTypeStep {
			s.Step++
		}
	}
	return s
}
