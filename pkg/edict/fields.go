package edict

import (
	"github.com/fortiblox/progsvm/pkg/directory"
	"github.com/fortiblox/progsvm/pkg/progs"
)

// SystemFields holds the entity block offsets of the fields the engine
// itself reads and writes. A field the loaded program does not declare has
// offset -1.
type SystemFields struct {
	ModelIndex int
	Origin     int
	Angles     int
	ClassName  int
	Model      int
	Frame      int
	Skin       int
	Solid      int
	MoveType   int
	TakeDamage int
	ColorMap   int
	Think      int
	NextThink  int
	SpawnFlags int
	Health     int
}

// ResolveSystemFields looks up every system field by name.
func ResolveSystemFields(dir *directory.Directory) SystemFields {
	ofs := func(name string) int {
		def, ok := dir.FindField(name)
		if !ok {
			return -1
		}
		return int(def.Ofs)
	}
	return SystemFields{
		ModelIndex: ofs("modelindex"),
		Origin:     ofs("origin"),
		Angles:     ofs("angles"),
		ClassName:  ofs("classname"),
		Model:      ofs("model"),
		Frame:      ofs("frame"),
		Skin:       ofs("skin"),
		Solid:      ofs("solid"),
		MoveType:   ofs("movetype"),
		TakeDamage: ofs("takedamage"),
		ColorMap:   ofs("colormap"),
		Think:      ofs("think"),
		NextThink:  ofs("nextthink"),
		SpawnFlags: ofs("spawnflags"),
		Health:     ofs("health"),
	}
}

// MoveTypeStep is the movetype counted by Stats as a walking monster.
const MoveTypeStep = 4

// SystemGlobals holds the offsets of the globals the engine reads and
// writes. Missing globals have offset -1.
type SystemGlobals struct {
	Self      int
	Other     int
	World     int
	Time      int
	FrameTime int
	MapName   int
}

// ResolveSystemGlobals looks up every system global by name.
func ResolveSystemGlobals(dir *directory.Directory) SystemGlobals {
	ofs := func(name string) int {
		def, ok := dir.FindGlobal(name)
		if !ok {
			return -1
		}
		return int(def.Ofs)
	}
	return SystemGlobals{
		Self:      ofs("self"),
		Other:     ofs("other"),
		World:     ofs("world"),
		Time:      ofs("time"),
		FrameTime: ofs("frametime"),
		MapName:   ofs("mapname"),
	}
}

// DeclareSystem declares the standard system globals and entity fields on a
// builder, in the order the engine expects them.
func DeclareSystem(b *progs.Builder) {
	b.Global("self", progs.EvEntity)
	b.Global("other", progs.EvEntity)
	b.Global("world", progs.EvEntity)
	b.Global("time", progs.EvFloat)
	b.Global("frametime", progs.EvFloat)
	b.Global("force_retouch", progs.EvFloat)
	b.Global("mapname", progs.EvString)
	b.Global("deathmatch", progs.EvFloat)
	b.Global("coop", progs.EvFloat)
	b.Global("teamplay", progs.EvFloat)
	b.SavedGlobal("serverflags", progs.EvFloat)
	b.Global("total_secrets", progs.EvFloat)
	b.Global("total_monsters", progs.EvFloat)
	b.Global("found_secrets", progs.EvFloat)
	b.Global("killed_monsters", progs.EvFloat)
	b.Global("v_forward", progs.EvVector)
	b.Global("v_up", progs.EvVector)
	b.Global("v_right", progs.EvVector)
	b.Global("msg_entity", progs.EvEntity)

	b.Field("modelindex", progs.EvFloat)
	b.Field("absmin", progs.EvVector)
	b.Field("absmax", progs.EvVector)
	b.Field("ltime", progs.EvFloat)
	b.Field("movetype", progs.EvFloat)
	b.Field("solid", progs.EvFloat)
	b.Field("origin", progs.EvVector)
	b.Field("oldorigin", progs.EvVector)
	b.Field("velocity", progs.EvVector)
	b.Field("angles", progs.EvVector)
	b.Field("avelocity", progs.EvVector)
	b.Field("classname", progs.EvString)
	b.Field("model", progs.EvString)
	b.Field("frame", progs.EvFloat)
	b.Field("skin", progs.EvFloat)
	b.Field("effects", progs.EvFloat)
	b.Field("mins", progs.EvVector)
	b.Field("maxs", progs.EvVector)
	b.Field("size", progs.EvVector)
	b.Field("touch", progs.EvFunction)
	b.Field("use", progs.EvFunction)
	b.Field("think", progs.EvFunction)
	b.Field("blocked", progs.EvFunction)
	b.Field("nextthink", progs.EvFloat)
	b.Field("groundentity", progs.EvEntity)
	b.Field("health", progs.EvFloat)
	b.Field("frags", progs.EvFloat)
	b.Field("takedamage", progs.EvFloat)
	b.Field("colormap", progs.EvFloat)
	b.Field("netname", progs.EvString)
	b.Field("owner", progs.EvEntity)
	b.Field("enemy", progs.EvEntity)
	b.Field("spawnflags", progs.EvFloat)
	b.Field("target", progs.EvString)
	b.Field("targetname", progs.EvString)
	b.Field("message", progs.EvString)
}
