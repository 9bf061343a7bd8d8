package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/progsvm/internal/demo"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--no-color"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestDemoCommand(t *testing.T) {
	t.Setenv("PROGSVM_DATA_DIR", t.TempDir())
	out, err := execute(t, "demo", "--frames", "40", "--skill", "0", "--profile")
	require.NoError(t, err)
	assert.Contains(t, out, "demo: 4 spawned, 1 inhibited, 1 rejected")
	assert.Contains(t, out, "No spawn function for:")
	assert.Contains(t, out, "num_edicts:")
	assert.Contains(t, out, "counter_think")
}

func TestInfoCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROGSVM_DATA_DIR", dir)
	path := filepath.Join(dir, "demo.dat")
	_, err := execute(t, "demo", "--write", path)
	require.NoError(t, err)

	out, err := execute(t, "info", path, "--functions")
	require.NoError(t, err)
	assert.Contains(t, out, "version       6")
	assert.Contains(t, out, "misc_spawner")
	assert.Contains(t, out, "builtin #14")
}

func TestImagesAndSaves(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROGSVM_DATA_DIR", dir)
	path := filepath.Join(dir, "demo.dat")
	_, err := execute(t, "demo", "--write", path)
	require.NoError(t, err)

	out, err := execute(t, "images", "add", path, "--name", "demoprogs")
	require.NoError(t, err)
	assert.Contains(t, out, "demoprogs")

	out, err = execute(t, "images", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "demoprogs")

	mapPath := filepath.Join(dir, "start.map")
	require.NoError(t, os.WriteFile(mapPath, []byte(demo.Map), 0o644))

	out, err = execute(t, "run", "demoprogs", "--map", mapPath, "--frames", "5", "--save", "quick")
	require.NoError(t, err)
	assert.Contains(t, out, "start: 4 spawned")
	assert.Contains(t, out, "Saving game to quick...")

	out, err = execute(t, "saves", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "quick")
	assert.Contains(t, out, "start")

	out, err = execute(t, "run", "demoprogs", "--load", "quick", "--frames", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Loading game from quick...")

	exported := filepath.Join(dir, "exported.dat")
	_, err = execute(t, "images", "export", "demoprogs", exported)
	require.NoError(t, err)
	raw, err := os.ReadFile(exported)
	require.NoError(t, err)
	want, err := demo.Image()
	require.NoError(t, err)
	assert.Equal(t, want, raw)

	_, err = execute(t, "saves", "delete", "quick")
	require.NoError(t, err)
	_, err = execute(t, "run", "demoprogs", "--load", "quick")
	assert.Error(t, err)
}

func TestUnknownProgs(t *testing.T) {
	t.Setenv("PROGSVM_DATA_DIR", t.TempDir())
	_, err := execute(t, "info", "nosuchprogs")
	assert.Error(t, err)
}

func TestBadLogLevel(t *testing.T) {
	t.Setenv("PROGSVM_DATA_DIR", t.TempDir())
	_, err := execute(t, "--log-level", "loud", "demo", "--frames", "1")
	assert.Error(t, err)
}

func TestDemoStatusAddr(t *testing.T) {
	t.Setenv("PROGSVM_DATA_DIR", t.TempDir())
	out, err := execute(t, "demo", "--frames", "3", "--status-addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "status: http://127.0.0.1:")

	_, err = execute(t, "demo", "--frames", "1", "--status-addr", "nope")
	assert.Error(t, err)
}

func TestInfoJSON(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROGSVM_DATA_DIR", dir)
	path := filepath.Join(dir, "demo.dat")
	_, err := execute(t, "demo", "--write", path)
	require.NoError(t, err)

	out, err := execute(t, "info", path, "--functions", "-o", "json")
	require.NoError(t, err)
	var info imageInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, int32(6), info.Version)
	assert.Equal(t, path, info.Name)

	var spawn int32
	for _, f := range info.Functions {
		if f.Name == "spawn" {
			spawn = f.Builtin
		}
	}
	assert.Equal(t, int32(14), spawn)

	_, err = execute(t, "info", path, "-o", "yaml")
	assert.Error(t, err)
}
