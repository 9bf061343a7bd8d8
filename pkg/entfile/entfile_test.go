package entfile

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/progsvm/internal/types"
	"github.com/fortiblox/progsvm/pkg/directory"
	"github.com/fortiblox/progsvm/pkg/edict"
	"github.com/fortiblox/progsvm/pkg/progs"
	"github.com/fortiblox/progsvm/pkg/valuefmt"
)

type fixture struct {
	codec *Codec
	pool  *edict.Pool
	dir   *directory.Directory
	img   *progs.Image
	b     *progs.Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := progs.NewBuilder()
	edict.DeclareSystem(b)
	b.Field("light_lev", progs.EvFloat)
	b.Field("th_stand", progs.EvFunction)
	b.Field("aimfield", progs.EvField)
	b.SavedGlobal("level_name", progs.EvString)
	b.SavedGlobal("saved_ent", progs.EvEntity)
	b.SavedGlobal("saved_vec", progs.EvVector)
	fb := b.Func("monster_army", nil)
	fb.End()

	img, err := b.Image()
	require.NoError(t, err)
	dir := directory.New(img)
	cfg := edict.DefaultConfig()
	cfg.Capacity = 16
	cfg.Reserved = 1
	pool := edict.NewPool(img, dir, cfg)
	codec := New(dir, pool, valuefmt.New(dir), zerolog.Nop())
	return &fixture{codec: codec, pool: pool, dir: dir, img: img, b: b}
}

func (fx *fixture) parse(t *testing.T, text string) (*edict.Edict, error) {
	t.Helper()
	if !strings.HasPrefix(strings.TrimSpace(text), "{") {
		text = "{" + text
	}
	lex := NewLexer([]byte(text))
	ok, err := lex.OpenGroup()
	require.NoError(t, err)
	require.True(t, ok)
	e, err := fx.pool.Alloc()
	require.NoError(t, err)
	return e, fx.codec.ParseEntity(lex, e)
}

func TestLexer(t *testing.T) {
	lex := NewLexer([]byte("// comment\n{ \"a key\" word\n(x):'}"))
	var got []string
	for {
		tok, ok := lex.Next()
		if !ok {
			break
		}
		got = append(got, tok.Text)
	}
	assert.Equal(t, []string{"{", "a key", "word", "(", "x", ")", ":", "'", "}"}, got)
	assert.Equal(t, 3, lex.Line())
}

func TestLexerQuotedBrace(t *testing.T) {
	lex := NewLexer([]byte(`"}" }`))
	tok, ok := lex.Next()
	require.True(t, ok)
	assert.False(t, tok.Is("}"))
	tok, ok = lex.Next()
	require.True(t, ok)
	assert.True(t, tok.Is("}"))
}

func TestRoundTrip(t *testing.T) {
	fx := newFixture(t)
	f := fx.pool.Fields()

	e, err := fx.pool.Alloc()
	require.NoError(t, err)
	e.SetVector(f.Origin, types.Vec3{1, 2, 3})
	e.SetFloat(f.Health, 100)

	var buf bytes.Buffer
	require.NoError(t, fx.codec.WriteEntity(&buf, e))
	assert.Equal(t, "{\n\"origin\" \"1.000000 2.000000 3.000000\"\n\"health\" \"100.000000\"\n}\n", buf.String())

	got, err := fx.parse(t, buf.String())
	require.NoError(t, err)
	assert.Equal(t, types.Vec3{1, 2, 3}, got.Vector(f.Origin))
	assert.Equal(t, float32(100), got.Float(f.Health))

	fields := got.Fields()
	for i := range fields {
		if i >= f.Origin && i < f.Origin+3 || i == f.Health {
			continue
		}
		assert.Zero(t, fields[i], "cell %d", i)
	}
}

func TestEpairs(t *testing.T) {
	fx := newFixture(t)
	f := fx.pool.Fields()

	e, err := fx.pool.Alloc()
	require.NoError(t, err)
	e.SetVector(f.Origin, types.Vec3{0, 0, 8})
	e.SetFloat(f.Health, 3)

	assert.Equal(t, []Epair{
		{Key: "origin", Value: "0.000000 0.000000 8.000000"},
		{Key: "health", Value: "3.000000"},
	}, fx.codec.Epairs(e))

	fx.pool.Free(e)
	assert.Empty(t, fx.codec.Epairs(e))

	assert.True(t, IsComponent("origin_x"))
	assert.False(t, IsComponent("origin"))
	assert.False(t, IsComponent("_"))
}

func TestParseEntityUsesFieldCache(t *testing.T) {
	fx := newFixture(t)
	before := fx.dir.Scans()
	for i := 0; i < 5; i++ {
		_, err := fx.parse(t, `{ "origin" "1 2 3" "health" "10" }`)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, fx.dir.Scans()-before)
}

func TestWriteFreeEntity(t *testing.T) {
	fx := newFixture(t)
	e, _ := fx.pool.Alloc()
	e.SetFloat(fx.pool.Fields().Health, 5)
	fx.pool.Free(e)

	var buf bytes.Buffer
	require.NoError(t, fx.codec.WriteEntity(&buf, e))
	assert.Equal(t, "{\n}\n", buf.String())
}

func TestKeyRewrites(t *testing.T) {
	fx := newFixture(t)
	f := fx.pool.Fields()
	light, ok := fx.dir.FindField("light_lev")
	require.True(t, ok)

	e, err := fx.parse(t, `
"classname" "light"
"angle" "90"
"light" "300"
"health " "7"
"_comment" "ignored"
"nosuchkey" "1"
}`)
	require.NoError(t, err)
	assert.Equal(t, types.Vec3{0, 90, 0}, e.Vector(f.Angles))
	assert.Equal(t, float32(300), e.Fields().Float(int(light.Ofs)))
	assert.Equal(t, float32(7), e.Float(f.Health))
	assert.Equal(t, "light", fx.img.Strings.Lookup(e.Int(f.ClassName)))
	assert.False(t, e.IsFree())
}

func TestEmptyGroupLeavesFree(t *testing.T) {
	fx := newFixture(t)
	e, err := fx.parse(t, "}")
	require.NoError(t, err)
	assert.True(t, e.IsFree())

	e, err = fx.parse(t, `"_only" "comment" }`)
	require.NoError(t, err)
	assert.False(t, e.IsFree())
}

func TestReferenceValues(t *testing.T) {
	fx := newFixture(t)
	stand, _ := fx.dir.FindField("th_stand")
	aim, _ := fx.dir.FindField("aimfield")
	fn, _ := fx.dir.FindFunction("monster_army")
	f := fx.pool.Fields()

	e, err := fx.parse(t, `"th_stand" "monster_army" "aimfield" "health" "enemy" "3" "message" "line1\nline2" }`)
	require.NoError(t, err)
	assert.Equal(t, int32(fn), e.Fields().Int(int(stand.Ofs)))
	assert.Equal(t, int32(f.Health), e.Fields().Int(int(aim.Ofs)))
	enemy, _ := fx.dir.FindField("enemy")
	assert.Equal(t, int32(3), e.Fields().Int(int(enemy.Ofs)))
	msg, _ := fx.dir.FindField("message")
	assert.Equal(t, "line1\nline2", fx.img.Strings.Lookup(e.Fields().Int(int(msg.Ofs))))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"eof before key", `"health" "1"`, ErrUnexpectedEOF},
		{"eof before value", `"health"`, ErrUnexpectedEOF},
		{"brace instead of value", `"health" }`, ErrNoValue},
		{"unknown function", `"th_stand" "nobody" }`, ErrBadValue},
		{"unknown field", `"aimfield" "nothing" }`, ErrBadValue},
		{"entity out of range", `"enemy" "999" }`, ErrBadValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			_, err := fx.parse(t, tt.text)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var pe *ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestOpenGroup(t *testing.T) {
	lex := NewLexer([]byte("  "))
	ok, err := lex.OpenGroup()
	assert.NoError(t, err)
	assert.False(t, ok)

	lex = NewLexer([]byte(`"classname"`))
	_, err = lex.OpenGroup()
	assert.ErrorIs(t, err, ErrExpectedBrace)
}

func TestGlobalsRoundTrip(t *testing.T) {
	fx := newFixture(t)
	name, _ := fx.dir.FindGlobal("level_name")
	ent, _ := fx.dir.FindGlobal("saved_ent")
	flags, _ := fx.dir.FindGlobal("serverflags")
	vec, _ := fx.dir.FindGlobal("saved_vec")

	g := fx.img.Globals
	g.SetInt(int(name.Ofs), fx.img.Strings.Intern("e1m1"))
	g.SetInt(int(ent.Ofs), 2)
	g.SetFloat(int(flags.Ofs), 3)
	g.SetVector(int(vec.Ofs), types.Vec3{1, 1, 1})

	var buf bytes.Buffer
	require.NoError(t, fx.codec.WriteGlobals(&buf))
	out := buf.String()
	assert.Contains(t, out, "\"serverflags\" \"3.000000\"\n")
	assert.Contains(t, out, "\"level_name\" \"e1m1\"\n")
	assert.Contains(t, out, "\"saved_ent\" \"2\"\n")
	assert.NotContains(t, out, "saved_vec")

	g.SetInt(int(name.Ofs), 0)
	g.SetInt(int(ent.Ofs), 0)
	g.SetFloat(int(flags.Ofs), 0)

	require.NoError(t, fx.codec.ParseGlobals(NewLexer([]byte(out+"\n\"unknown\" \"1\""))))
	assert.Equal(t, "e1m1", fx.img.Strings.Lookup(g.Int(int(name.Ofs))))
	assert.Equal(t, int32(2), g.Int(int(ent.Ofs)))
	assert.Equal(t, float32(3), g.Float(int(flags.Ofs)))
}

func TestParseGlobalsUnknownKey(t *testing.T) {
	fx := newFixture(t)
	err := fx.codec.ParseGlobals(NewLexer([]byte(`{ "nope" "1" "serverflags" "4" }`)))
	require.NoError(t, err)
	flags, _ := fx.dir.FindGlobal("serverflags")
	assert.Equal(t, float32(4), fx.img.Globals.Float(int(flags.Ofs)))

	err = fx.codec.ParseGlobals(NewLexer([]byte(`{ "serverflags" }`)))
	assert.ErrorIs(t, err, ErrNoValue)
}

func TestPrintEdict(t *testing.T) {
	fx := newFixture(t)
	f := fx.pool.Fields()
	e, _ := fx.pool.Alloc()
	e.SetFloat(f.Health, 25)
	e.SetVector(f.Origin, types.Vec3{0, 16, -8})

	var buf bytes.Buffer
	fx.codec.PrintEdict(&buf, e)
	assert.Equal(t, "\nEDICT 1:\norigin         '  0.0  16.0  -8.0'\nhealth          25.0\n", buf.String())

	fx.pool.Free(e)
	buf.Reset()
	fx.codec.PrintEdicts(&buf)
	assert.True(t, strings.HasPrefix(buf.String(), "2 entities\n"))
	assert.True(t, strings.HasSuffix(buf.String(), "FREE\n"))

	buf.Reset()
	fx.codec.PrintCount(&buf)
	assert.Contains(t, buf.String(), "num_edicts:   2\n")
	assert.Contains(t, buf.String(), "active:       1\n")
}

func TestUnescape(t *testing.T) {
	assert.Equal(t, "a\nb", unescape(`a\nb`))
	assert.Equal(t, `a\`, unescape(`a\t`))
	assert.Equal(t, `tail\`, unescape(`tail\`))
	assert.Equal(t, "plain", unescape("plain"))
}

func TestAtof(t *testing.T) {
	assert.Equal(t, float32(1.5), Atof("1.5"))
	assert.Equal(t, float32(-2), Atof(" -2junk"))
	assert.Equal(t, float32(0), Atof("junk"))
	assert.Equal(t, float32(300), Atof("3e2"))
	assert.Equal(t, 12, atoi("12.7"))
}
