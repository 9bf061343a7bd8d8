package builtins

import (
	"fmt"
	"math"

	"github.com/fortiblox/progsvm/internal/types"
	"github.com/fortiblox/progsvm/pkg/entfile"
	"github.com/fortiblox/progsvm/pkg/progs"
	"github.com/fortiblox/progsvm/pkg/vm"
)

func (r *Registry) registerMath() {
	r.register(1, "makevectors", makevectors, progs.EvVector)

	r.register(7, "random", func(m *vm.Machine) error {
		m.ReturnFloat(r.cfg.Random())
		return nil
	})

	r.register(9, "normalize", func(m *vm.Machine) error {
		v := m.ParmVector(0)
		l := v.Length()
		if l == 0 {
			m.ReturnVector(types.Vec3{})
			return nil
		}
		m.ReturnVector(v.Scale(1 / l))
		return nil
	}, progs.EvVector)

	r.register(12, "vlen", func(m *vm.Machine) error {
		m.ReturnFloat(m.ParmVector(0).Length())
		return nil
	}, progs.EvVector)

	r.register(13, "vectoyaw", func(m *vm.Machine) error {
		v := m.ParmVector(0)
		var yaw float32
		if v[0] != 0 || v[1] != 0 {
			yaw = float32(int32(math.Atan2(float64(v[1]), float64(v[0])) * 180 / math.Pi))
			if yaw < 0 {
				yaw += 360
			}
		}
		m.ReturnFloat(yaw)
		return nil
	}, progs.EvVector)

	r.register(36, "rint", func(m *vm.Machine) error {
		f := m.ParmFloat(0)
		if f > 0 {
			m.ReturnFloat(float32(int32(f + 0.5)))
		} else {
			m.ReturnFloat(float32(int32(f - 0.5)))
		}
		return nil
	}, progs.EvFloat)

	r.register(37, "floor", unary(math.Floor), progs.EvFloat)
	r.register(38, "ceil", unary(math.Ceil), progs.EvFloat)
	r.register(43, "fabs", unary(math.Abs), progs.EvFloat)

	r.register(26, "ftos", func(m *vm.Machine) error {
		m.ReturnTempString(ftos(m.ParmFloat(0)))
		return nil
	}, progs.EvFloat)

	r.register(27, "vtos", func(m *vm.Machine) error {
		v := m.ParmVector(0)
		m.ReturnTempString(fmt.Sprintf("'%5.1f %5.1f %5.1f'", v[0], v[1], v[2]))
		return nil
	}, progs.EvVector)

	r.register(81, "stof", func(m *vm.Machine) error {
		s, err := m.ParmString(0)
		if err != nil {
			return err
		}
		m.ReturnFloat(entfile.Atof(s))
		return nil
	}, progs.EvString)
}

func unary(fn func(float64) float64) vm.Builtin {
	return func(m *vm.Machine) error {
		m.ReturnFloat(float32(fn(float64(m.ParmFloat(0)))))
		return nil
	}
}

func ftos(f float32) string {
	if f == float32(int32(f)) {
		return fmt.Sprintf("%d", int32(f))
	}
	return fmt.Sprintf("%5.1f", f)
}

// AngleVectors returns the forward, right and up vectors for pitch, yaw
// and roll in degrees.
func AngleVectors(angles types.Vec3) (forward, right, up types.Vec3) {
	rad := func(deg float32) (float64, float64) {
		a := float64(deg) * (math.Pi * 2 / 360)
		return math.Sin(a), math.Cos(a)
	}
	sp, cp := rad(angles[0])
	sy, cy := rad(angles[1])
	sr, cr := rad(angles[2])

	forward = types.Vec3{float32(cp * cy), float32(cp * sy), float32(-sp)}
	right = types.Vec3{
		float32(-sr*sp*cy + cr*sy),
		float32(-sr*sp*sy - cr*cy),
		float32(-sr * cp),
	}
	up = types.Vec3{
		float32(cr*sp*cy + sr*sy),
		float32(cr*sp*sy - sr*cy),
		float32(cr * cp),
	}
	return forward, right, up
}

func makevectors(m *vm.Machine) error {
	forward, right, up := AngleVectors(m.ParmVector(0))
	dir := m.Directory()
	for _, g := range []struct {
		name string
		v    types.Vec3
	}{{"v_forward", forward}, {"v_right", right}, {"v_up", up}} {
		if def, ok := dir.FindGlobal(g.name); ok {
			m.SetGlobalVector(int(def.Ofs), g.v)
		}
	}
	return nil
}
