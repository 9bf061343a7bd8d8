package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/fortiblox/progsvm/internal/demo"
	"github.com/fortiblox/progsvm/pkg/console"
	"github.com/fortiblox/progsvm/pkg/dashboard"
	"github.com/fortiblox/progsvm/pkg/imagestore"
	"github.com/fortiblox/progsvm/pkg/progs"
	"github.com/fortiblox/progsvm/pkg/savestore"
	"github.com/fortiblox/progsvm/pkg/server"
)

// loadProgs reads a program from a file, or from the image database when
// no such file exists.
func (a *app) loadProgs(ref string) ([]byte, error) {
	if _, err := os.Stat(ref); err == nil {
		return os.ReadFile(ref)
	}
	store, err := a.openImages()
	if err != nil {
		return nil, err
	}
	defer store.Close()
	fp, err := store.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return store.Get(fp)
}

func (a *app) openImages() (*imagestore.Store, error) {
	cfg := imagestore.DefaultConfig(a.dataPath("images"))
	cfg.Logger = a.log.With().Str("component", "imagestore").Logger()
	return imagestore.Open(cfg)
}

func (a *app) openSaves() (*savestore.Store, error) {
	cfg := savestore.DefaultConfig(a.dataPath("saves.db"))
	cfg.Logger = a.log.With().Str("component", "savestore").Logger()
	return savestore.Open(cfg)
}

func (a *app) infoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <progs>",
		Short: "Describe a program image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.loadProgs(args[0])
			if err != nil {
				return err
			}
			asJSON, err := checkOutput(a.v.GetString("output"))
			if err != nil {
				return err
			}
			img, err := progs.NewLoader(nil, a.log).Load(raw)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), describe(args[0], img, a.v.GetBool("functions")))
			}
			printInfo(cmd.OutOrStdout(), args[0], img, a.v.GetBool("functions"))
			return nil
		},
	}
	cmd.Flags().Bool("functions", false, "list every function")
	cmd.Flags().StringP("output", "o", "", "output format: text or json")
	_ = cmd.RegisterFlagCompletionFunc("output", cobra.FixedCompletions(outputFormatsCompletion, cobra.ShellCompDirectiveNoFileComp))
	return cmd
}

type imageInfo struct {
	Name         string         `json:"name"`
	Version      int32          `json:"version"`
	CRC          uint16         `json:"crc"`
	Fingerprint  string         `json:"fingerprint"`
	Size         int            `json:"size"`
	Statements   int32          `json:"statements"`
	GlobalDefs   int32          `json:"globaldefs"`
	FieldDefs    int32          `json:"fielddefs"`
	Globals      int32          `json:"globals"`
	EntityFields int32          `json:"entityfields"`
	Strings      int32          `json:"strings"`
	Functions    []functionInfo `json:"functions,omitempty"`
}

type functionInfo struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Builtin int32  `json:"builtin,omitempty"`
	File    string `json:"file,omitempty"`
	First   int32  `json:"first_statement,omitempty"`
	Parms   int32  `json:"parms"`
	Locals  int32  `json:"locals"`
}

func describe(name string, img *progs.Image, functions bool) imageInfo {
	h := &img.Header
	info := imageInfo{
		Name:         name,
		Version:      h.Version,
		CRC:          img.CRC,
		Fingerprint:  img.Fingerprint.String(),
		Size:         img.Size,
		Statements:   h.NumStatements,
		GlobalDefs:   h.NumGlobalDefs,
		FieldDefs:    h.NumFieldDefs,
		Globals:      h.NumGlobals,
		EntityFields: h.EntityFields,
		Strings:      h.NumStrings,
	}
	if !functions {
		return info
	}
	for i := 1; i < len(img.Functions); i++ {
		f := &img.Functions[i]
		fi := functionInfo{
			Index:  i,
			Name:   img.Strings.Lookup(f.Name),
			Parms:  f.NumParms,
			Locals: f.Locals,
		}
		if f.IsBuiltin() {
			fi.Builtin = int32(f.BuiltinNumber())
		} else {
			fi.File = img.Strings.Lookup(f.File)
			fi.First = f.FirstStatement
		}
		info.Functions = append(info.Functions, fi)
	}
	return info
}

func printInfo(w io.Writer, name string, img *progs.Image, functions bool) {
	h := &img.Header
	fmt.Fprintf(w, "%s\n", heading(name))
	fmt.Fprintf(w, "  version       %d\n", h.Version)
	fmt.Fprintf(w, "  crc           %d\n", img.CRC)
	fmt.Fprintf(w, "  fingerprint   %s\n", img.Fingerprint)
	fmt.Fprintf(w, "  size          %d bytes\n", img.Size)
	fmt.Fprintf(w, "  statements    %d\n", h.NumStatements)
	fmt.Fprintf(w, "  functions     %d\n", h.NumFunctions)
	fmt.Fprintf(w, "  globaldefs    %d\n", h.NumGlobalDefs)
	fmt.Fprintf(w, "  fielddefs     %d\n", h.NumFieldDefs)
	fmt.Fprintf(w, "  globals       %d\n", h.NumGlobals)
	fmt.Fprintf(w, "  entityfields  %d\n", h.EntityFields)
	fmt.Fprintf(w, "  strings       %d bytes\n", h.NumStrings)
	if !functions {
		return
	}
	fmt.Fprintf(w, "\n%s\n", heading("functions"))
	for i := 1; i < len(img.Functions); i++ {
		f := &img.Functions[i]
		name := img.Strings.Lookup(f.Name)
		if f.IsBuiltin() {
			fmt.Fprintf(w, "  %4d %-24s %s\n", i, name, dim(fmt.Sprintf("builtin #%d", f.BuiltinNumber())))
			continue
		}
		fmt.Fprintf(w, "  %4d %-24s %s\n", i, name,
			dim(fmt.Sprintf("%s stmt %d parms %d locals %d",
				img.Strings.Lookup(f.File), f.FirstStatement, f.NumParms, f.Locals)))
	}
}

// simFlags adds the flags shared by run and demo.
func simFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("frames", 20, "frames to run (0 with --realtime runs until interrupted)")
	f.Float64("dt", 0.1, "frame time in seconds")
	f.Bool("realtime", false, "pace frames against the wall clock")
	f.Int("skill", 1, "skill level: 0 easy, 1 medium, 2 hard")
	f.Bool("deathmatch", false, "deathmatch spawn rules")
	f.Bool("developer", false, "enable developer console output")
	f.Int("max-edicts", 600, "entity pool capacity")
	f.Int("max-clients", 1, "client slots reserved after the world")
	f.Bool("trace", false, "trace every statement")
	f.Bool("no-bounds-check", false, "skip entity and pointer checks on indirect access")
	f.Bool("profile", false, "print the function profile when done")
	f.Bool("edicts", false, "print every entity when done")
	f.String("save", "", "save the game under this name when done")
	f.String("load", "", "start from this save instead of spawning the map")
	f.String("call", "", "function to call after the level starts")
	f.String("console-addr", "", "serve the console for remote tail on this address")
	f.String("status-addr", "", "serve the JSON status API on this host:port")
}

// simulation is one level to run.
type simulation struct {
	progs   []byte
	mapName string
	mapText []byte
}

func (a *app) simulate(cmd *cobra.Command, sim simulation) error {
	v := a.v
	out := cmd.OutOrStdout()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := console.Sink(console.WriterSink{W: out})
	if addr := v.GetString("console-addr"); addr != "" {
		b := console.NewBroadcaster()
		sink = console.Multi(sink, b)
		cs := console.NewServer(b, console.ServerConfig{
			Addr:   addr,
			Logger: a.log.With().Str("component", "console").Logger(),
		})
		go func() {
			err := cs.ListenAndServe()
			if err != nil && !errors.Is(err, console.ErrServerClosed) && !errors.Is(err, grpc.ErrServerStopped) {
				a.log.Error().Err(err).Msg("console server failed")
			}
		}()
		defer cs.Stop()
	}

	cfg := server.DefaultConfig()
	cfg.Skill = v.GetInt("skill")
	cfg.Deathmatch = v.GetBool("deathmatch")
	cfg.Developer = v.GetBool("developer")
	cfg.MaxEdicts = v.GetInt("max-edicts")
	cfg.MaxClients = v.GetInt("max-clients")
	cfg.VM.Trace = v.GetBool("trace")
	cfg.VM.BoundsCheck = !v.GetBool("no-bounds-check")
	cfg.Sink = sink
	cfg.Logger = a.log
	cfg.OnFatal = func(err error) {
		a.log.Error().Err(err).Msg("program aborted")
	}

	srv, err := server.New(&cfg)
	if err != nil {
		return err
	}
	if err := srv.LoadProgs(sim.progs); err != nil {
		return err
	}

	var saves *savestore.Store
	if v.GetString("load") != "" || v.GetString("save") != "" {
		if saves, err = a.openSaves(); err != nil {
			return err
		}
		defer saves.Close()
	}

	if name := v.GetString("load"); name != "" {
		if err := srv.LoadGame(saves, name); err != nil {
			return err
		}
	} else if sim.mapText != nil {
		stats, err := srv.SpawnMap(sim.mapName, sim.mapText)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %d spawned, %d inhibited, %d rejected\n",
			heading(sim.mapName+":"), stats.Spawned, stats.Inhibited, stats.Rejected)
	}

	if fn := v.GetString("call"); fn != "" {
		if err := srv.Call(fn); err != nil {
			return err
		}
	}

	var status *dashboard.Dashboard
	if addr := v.GetString("status-addr"); addr != "" {
		if status, err = a.startStatus(ctx, addr); err != nil {
			return err
		}
		defer status.Stop()
		status.Publish(dashboard.Capture(srv))
		fmt.Fprintf(out, "%s http://%s/api/status\n", heading("status:"), status.Address())
	}

	if err := a.runFrames(ctx, srv, status); err != nil {
		return err
	}

	if name := v.GetString("save"); name != "" {
		if err := srv.SaveGame(saves, name); err != nil {
			return err
		}
	}
	if v.GetBool("edicts") {
		srv.PrintEdicts()
	}
	if srv.MapName() != "" {
		srv.EdictCount()
	}
	if v.GetBool("profile") {
		srv.Profile()
	}
	return nil
}

func (a *app) startStatus(ctx context.Context, addr string) (*dashboard.Dashboard, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("status address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("status port %q: %w", portStr, err)
	}
	cfg := dashboard.DefaultConfig()
	cfg.BindAddress = host
	cfg.Port = port
	cfg.Logger = a.log.With().Str("component", "dashboard").Logger()
	d := dashboard.New(cfg)
	if err := d.Start(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// runFrames advances the level. When status is set a snapshot is published
// after every frame.
func (a *app) runFrames(ctx context.Context, srv *server.Server, status *dashboard.Dashboard) error {
	frames := a.v.GetInt("frames")
	dt := a.v.GetFloat64("dt")
	if dt <= 0 {
		return fmt.Errorf("bad frame time %v", dt)
	}
	if srv.MapName() == "" {
		return nil
	}

	step := func() error {
		if err := srv.RunFrame(dt); err != nil {
			return err
		}
		if status != nil {
			status.Publish(dashboard.Capture(srv))
		}
		return nil
	}

	if !a.v.GetBool("realtime") {
		for i := 0; i < frames; i++ {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	}

	ticker := time.NewTicker(time.Duration(dt * float64(time.Second)))
	defer ticker.Stop()
	for i := 0; frames == 0 || i < frames; i++ {
		select {
		case <-ctx.Done():
			a.log.Info().Uint64("frames", srv.Frames()).Msg("interrupted")
			return nil
		case <-ticker.C:
			if err := step(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <progs>",
		Short: "Load a program, spawn a map and run frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.loadProgs(args[0])
			if err != nil {
				return err
			}
			sim := simulation{progs: raw, mapName: a.v.GetString("map-name")}
			if path := a.v.GetString("map"); path != "" {
				if sim.mapText, err = os.ReadFile(path); err != nil {
					return err
				}
				if sim.mapName == "" {
					sim.mapName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				}
			}
			return a.simulate(cmd, sim)
		},
	}
	simFlags(cmd)
	cmd.Flags().String("map", "", "map entity text file")
	cmd.Flags().String("map-name", "", "map name (default: the map file's base name)")
	return cmd
}

func (a *app) demoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the built-in demo program and map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := demo.Image()
			if err != nil {
				return err
			}
			if path := a.v.GetString("write"); path != "" {
				if err := os.WriteFile(path, raw, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(raw))
				return nil
			}
			return a.simulate(cmd, simulation{progs: raw, mapName: demo.MapName, mapText: []byte(demo.Map)})
		},
	}
	simFlags(cmd)
	cmd.Flags().String("write", "", "write the demo image to this file instead of running it")
	return cmd
}
