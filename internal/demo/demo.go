// Package demo builds a small self-contained program and map. The program
// exercises spawn functions, thinks, the STATE opcode and the entity
// builtins; the map feeds it a few entities including ones that are
// inhibited or have no spawn function.
package demo

import (
	"github.com/fortiblox/progsvm/pkg/builtins"
	"github.com/fortiblox/progsvm/pkg/edict"
	"github.com/fortiblox/progsvm/pkg/progs"
)

// MapName is the name the demo map is spawned under.
const MapName = "demo"

// Map is the demo map entity text.
const Map = `
{
"classname" "worldspawn"
"message" "progsvm demo"
}
{
"classname" "info_player_start"
"origin" "0 0 24"
"angle" "90"
}
{
"classname" "misc_counter"
"count" "5"
"origin" "64 0 0"
}
{
"classname" "misc_counter"
"count" "8"
"spawnflags" "256"
}
{
"classname" "misc_spawner"
"origin" "128 0 0"
}
{
"classname" "light"
"light" "300"
}
`

// Program returns a builder holding the demo program.
func Program() *progs.Builder {
	b := progs.NewBuilder()
	edict.DeclareSystem(b)
	builtins.NewRegistry(builtins.DefaultConfig()).Declare(b)

	self, _ := b.GlobalOfs("self")
	now, _ := b.GlobalOfs("time")
	health, _ := b.GlobalOfs("health")
	think, _ := b.GlobalOfs("think")
	nextthink, _ := b.GlobalOfs("nextthink")
	classname, _ := b.GlobalOfs("classname")
	origin, _ := b.GlobalOfs("origin")
	count := b.Field("count", progs.EvFloat)

	frames := b.Global("demo_frames", progs.EvFloat)
	removed := b.SavedGlobal("demo_removed", progs.EvFloat)

	one := b.Float(1)
	three := b.Float(3)
	interval := b.Float(0.1)
	newline := b.StringConst("\n")
	counterName := b.StringConst("misc_counter")
	ptr := b.Temp(progs.EvPointer)
	tmp := b.Temp(progs.EvFloat)
	limit := b.Temp(progs.EvFloat)
	cond := b.Temp(progs.EvFloat)

	fb := b.Func("worldspawn", nil)
	fb.End()

	fb = b.Func("info_player_start", nil)
	fb.End()

	fb = b.Func("StartFrame", nil)
	fb.Emit(progs.OpAddF, frames, one, frames)
	fb.End()

	// counter_think bumps health once per think and removes the entity
	// when health reaches count.
	fb = b.Func("counter_think", nil)
	fb.Emit(progs.OpLoadF, self, health, tmp)
	fb.Emit(progs.OpAddF, tmp, one, tmp)
	fb.Emit(progs.OpAddress, self, health, ptr)
	fb.Emit(progs.OpStorePF, tmp, ptr, 0)
	fb.Call("ftos", tmp)
	fb.Call("dprint", progs.OfsReturn)
	fb.Call("dprint", newline)
	fb.Emit(progs.OpLoadF, self, count, limit)
	fb.Emit(progs.OpLt, tmp, limit, cond)
	skip := fb.If(progs.OpIf, cond, 0)
	fb.Emit(progs.OpAddF, removed, one, removed)
	fb.Call("remove", self)
	fb.Emit(progs.OpDone, 0, 0, 0)
	fb.Patch(skip, fb.Label())
	fb.Emit(progs.OpState, one, b.FuncRef("counter_think"), 0)
	fb.End()

	fb = b.Func("misc_counter", nil)
	fb.Emit(progs.OpState, one, b.FuncRef("counter_think"), 0)
	fb.End()

	// misc_spawner creates a short-lived counter beside itself.
	fb = b.Func("misc_spawner", nil, progs.EvEntity, progs.EvVector)
	child, pos := fb.Local(0), fb.Local(1)
	fb.Call("spawn")
	fb.Emit(progs.OpStoreEnt, progs.OfsReturn, child, 0)
	fb.Emit(progs.OpLoadV, self, origin, pos)
	fb.Emit(progs.OpStoreEnt, child, uint16(progs.ParmOfs(0)), 0)
	fb.Emit(progs.OpStoreV, pos, uint16(progs.ParmOfs(1)), 0)
	fb.CallStaged("setorigin", 2)
	fb.Emit(progs.OpAddress, child, classname, ptr)
	fb.Emit(progs.OpStorePS, counterName, ptr, 0)
	fb.Emit(progs.OpAddress, child, count, ptr)
	fb.Emit(progs.OpStorePF, three, ptr, 0)
	fb.Emit(progs.OpAddress, child, think, ptr)
	fb.Emit(progs.OpStorePFnc, b.FuncRef("counter_think"), ptr, 0)
	fb.Emit(progs.OpAddF, now, interval, tmp)
	fb.Emit(progs.OpAddress, child, nextthink, ptr)
	fb.Emit(progs.OpStorePF, tmp, ptr, 0)
	fb.End()

	return b
}

// Image encodes the demo program.
func Image() ([]byte, error) {
	return Program().Encode()
}
