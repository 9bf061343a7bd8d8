// progsvm loads and runs compiled game-logic programs.
//
// Programs are given either as a file path or as a reference into the image
// database (a name or a base58 fingerprint). Save games live in a separate
// bbolt database under the same data directory.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

var (
	red     = color.New(color.FgRed).SprintFunc()
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	dim     = color.New(color.Faint).SprintFunc()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fatal(err)
	}
}

func fatal(msg any) {
	var s string
	switch msg := msg.(type) {
	case string:
		s = msg
	case error:
		s = msg.Error()
	default:
		s = fmt.Sprintf("%v", msg)
	}
	fmt.Fprintf(os.Stderr, "%s\n", red(s))
	os.Exit(1)
}

// app carries the settings shared by every command.
type app struct {
	v   *viper.Viper
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "progsvm",
		Short:         "Load and run compiled game-logic programs",
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default: progsvm.yaml in the data directory)")
	pf.String("data-dir", defaultDataDir(), "directory holding the image and save databases")
	pf.String("log-level", "warn", "log level: trace, debug, info, warn, error")
	pf.Bool("no-color", false, "disable colored output")
	_ = a.v.BindPFlags(pf)

	root.AddCommand(
		a.infoCmd(),
		a.runCmd(),
		a.demoCmd(),
		a.imagesCmd(),
		a.savesCmd(),
		a.tailCmd(),
	)
	return root
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "progsvm")
	}
	return ".progsvm"
}

// init reads the environment and config file and sets up logging.
func (a *app) init(cmd *cobra.Command) error {
	v := a.v
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix("PROGSVM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("progsvm")
		v.AddConfigPath(v.GetString("data-dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
	}

	if v.GetBool("no-color") || !isTerminal(cmd.OutOrStdout()) {
		color.NoColor = true
	}

	level, err := zerolog.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("bad log level: %w", err)
	}
	a.log = newLogger(cmd.ErrOrStderr(), level, color.NoColor)
	return nil
}

func newLogger(w io.Writer, level zerolog.Level, noColor bool) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, NoColor: noColor, TimeFormat: "15:04:05.000"}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func (a *app) dataPath(name string) string {
	return filepath.Join(a.v.GetString("data-dir"), name)
}
