package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/hokaccha/go-prettyjson"
	"github.com/mattn/go-isatty"
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

var outputFormatsCompletion = []string{"json", "text"}

// checkOutput validates an --output value.
func checkOutput(format string) (asJSON bool, err error) {
	switch strings.ToLower(format) {
	case "", "text":
		return false, nil
	case "json":
		return true, nil
	default:
		return false, fmt.Errorf("unknown output format: %s", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	var out []byte
	var err error
	if color.NoColor {
		out, err = json.MarshalIndent(v, "", "  ")
	} else {
		out, err = prettyjson.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", out)
	return err
}
