// Package entfile reads and writes the brace-delimited key/value text used
// for map entities and save games.
//
//	{
//	"classname" "worldspawn"
//	"message" "The Slipgate Complex"
//	}
//
// The same format carries the persisted globals of a save game.
package entfile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fortiblox/progsvm/pkg/directory"
	"github.com/fortiblox/progsvm/pkg/edict"
	"github.com/fortiblox/progsvm/pkg/progs"
	"github.com/fortiblox/progsvm/pkg/valuefmt"
)

// Codec converts between entity text and entity/global memory.
type Codec struct {
	dir  *directory.Directory
	pool *edict.Pool
	fmt  *valuefmt.Formatter
	log  zerolog.Logger
}

// New returns a codec. Skipped keys are reported through log.
func New(dir *directory.Directory, pool *edict.Pool, f *valuefmt.Formatter, log zerolog.Logger) *Codec {
	return &Codec{dir: dir, pool: pool, fmt: f, log: log}
}

type parseState int

const (
	expectKey parseState = iota
	expectValue
	done
)

// ParseEntity reads key/value pairs into e until the closing brace. The
// opening brace must already have been consumed. Every entity except the
// world is cleared first. A group without pairs leaves e free.
func (c *Codec) ParseEntity(lex *Lexer, e *edict.Edict) error {
	if e.Index() != 0 {
		c.pool.Clear(e)
	}

	var (
		key       string
		angleHack bool
		sawPair   bool
	)
	for state := expectKey; state != done; {
		tok, ok := lex.Next()
		switch state {
		case expectKey:
			if ok && tok.Is("}") {
				state = done
				continue
			}
			if !ok {
				return &ParseError{Err: ErrUnexpectedEOF, Line: lex.Line()}
			}
			key, angleHack = normalizeKey(tok.Text)
			state = expectValue

		case expectValue:
			if !ok {
				return &ParseError{Err: ErrUnexpectedEOF, Line: lex.Line(), Key: key}
			}
			if tok.Is("}") {
				return &ParseError{Err: ErrNoValue, Line: tok.Line, Key: key}
			}
			state = expectKey
			sawPair = true

			if strings.HasPrefix(key, "_") {
				continue
			}
			def, found := c.dir.CachedField(key)
			if !found {
				c.log.Info().Str("key", key).Int("edict", e.Index()).Msg("not a field")
				continue
			}
			value := tok.Text
			if angleHack {
				value = "0 " + value + " 0"
			}
			if err := c.ParseEpair(e.Fields(), def, value); err != nil {
				return &ParseError{Err: ErrBadValue, Line: tok.Line, Key: key, Detail: err.Error()}
			}
		}
	}

	if !sawPair {
		e.SetFree(true)
	}
	return nil
}

// normalizeKey applies the legacy key rewrites. It reports whether the value
// is a single yaw angle to be widened to a vector.
func normalizeKey(key string) (string, bool) {
	angle := false
	switch key {
	case "angle":
		key, angle = "angles", true
	case "light":
		key = "light_lev"
	}
	return strings.TrimRight(key, " "), angle
}

// ParseGlobals reads one brace group of global values. Unknown globals are
// logged and skipped.
func (c *Codec) ParseGlobals(lex *Lexer) error {
	ok, err := lex.OpenGroup()
	if err != nil {
		return err
	}
	if !ok {
		return &ParseError{Err: ErrUnexpectedEOF, Line: lex.Line()}
	}
	img := c.dir.Image()
	for {
		tok, ok := lex.Next()
		if ok && tok.Is("}") {
			return nil
		}
		if !ok {
			return &ParseError{Err: ErrUnexpectedEOF, Line: lex.Line()}
		}
		key := tok.Text

		tok, ok = lex.Next()
		if !ok {
			return &ParseError{Err: ErrUnexpectedEOF, Line: lex.Line(), Key: key}
		}
		if tok.Is("}") {
			return &ParseError{Err: ErrNoValue, Line: tok.Line, Key: key}
		}

		def, found := c.dir.FindGlobal(key)
		if !found {
			c.log.Info().Str("key", key).Msg("not a global")
			continue
		}
		if err := c.ParseEpair(img.Globals, def, tok.Text); err != nil {
			return &ParseError{Err: ErrBadValue, Line: tok.Line, Key: key, Detail: err.Error()}
		}
	}
}

// ParseEpair stores value into dest at def's offset, converted by def's
// type. Field and function names that do not resolve are errors.
func (c *Codec) ParseEpair(dest progs.Cells, def *progs.Def, value string) error {
	ofs := int(def.Ofs)
	switch def.Kind() {
	case progs.EvString:
		dest.SetInt(ofs, c.dir.Image().Strings.Intern(unescape(value)))

	case progs.EvFloat:
		dest.SetFloat(ofs, Atof(value))

	case progs.EvVector:
		var v [3]float32
		parts := strings.SplitN(value, " ", 4)
		for i := 0; i < 3 && i < len(parts); i++ {
			v[i] = Atof(parts[i])
		}
		dest.SetVector(ofs, v)

	case progs.EvEntity:
		n := atoi(value)
		if _, err := c.pool.Num(n); err != nil {
			return err
		}
		dest.SetInt(ofs, int32(n))

	case progs.EvField:
		f, ok := c.dir.CachedField(value)
		if !ok {
			return fmt.Errorf("can't find field %s", value)
		}
		dest.SetInt(ofs, int32(f.Ofs))

	case progs.EvFunction:
		fn, ok := c.dir.FindFunction(value)
		if !ok {
			return fmt.Errorf("can't find function %s", value)
		}
		dest.SetInt(ofs, int32(fn))
	}
	return nil
}

// unescape turns the two-character sequence \n into a newline. A backslash
// followed by anything else becomes a single backslash.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i < len(s)-1 {
			i++
			if s[i] == 'n' {
				b.WriteByte('\n')
			} else {
				b.WriteByte('\\')
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// numericPrefix returns the longest leading part of s that looks like a
// decimal number.
func numericPrefix(s string, allowFrac bool) string {
	s = strings.TrimLeft(s, " \t\n\r")
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := func() {
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
	}
	digits()
	if allowFrac {
		if i < len(s) && s[i] == '.' {
			i++
			digits()
		}
		if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
			j := i
			i++
			if i < len(s) && (s[i] == '+' || s[i] == '-') {
				i++
			}
			k := i
			digits()
			if i == k {
				i = j
			}
		}
	}
	return s[:i]
}

// Atof parses a leading float the way the map tools expect: trailing junk
// is ignored and no number at all is zero.
func Atof(s string) float32 {
	f, err := strconv.ParseFloat(numericPrefix(s, true), 32)
	if err != nil {
		return 0
	}
	return float32(f)
}

func atoi(s string) int {
	n, err := strconv.Atoi(numericPrefix(s, false))
	if err != nil {
		return 0
	}
	return n
}
