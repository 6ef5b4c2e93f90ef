package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/floppykit/internal/testutil"
	"github.com/joshuapare/floppykit/pkg/floppy"
	"github.com/joshuapare/floppykit/pkg/types"
)

var geom = testutil.SmallGeometry

var geomArgs = []string{"--cylinders", "4", "--heads", "2", "--sectors", "4", "--sector-size", "128"}

// runCmd executes a fresh command tree and returns everything it printed.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func withGeom(args ...string) []string {
	return append(args, geomArgs...)
}

// setupImages writes the current image and a new image that rewrites two
// tracks, and returns their paths.
func setupImages(t *testing.T) (string, string) {
	t.Helper()
	path := testutil.SetupImageFile(t, geom, 0)

	img := testutil.Pattern(geom, 0)
	ts := geom.TrackSize()
	for i := range ts {
		img[2*ts+i] = 0xAA
		img[5*ts+i] ^= 0x0F
	}
	newPath := filepath.Join(t.TempDir(), "new.img")
	require.NoError(t, os.WriteFile(newPath, img, 0o644))
	return path, newPath
}

func decodeJSON(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m), "output: %s", out)
	return m
}

func TestInfoCommand(t *testing.T) {
	path := testutil.SetupImageFile(t, geom, 0)

	t.Run("text", func(t *testing.T) {
		out, err := runCmd(t, withGeom("info", path)...)
		require.NoError(t, err)
		assert.Contains(t, out, "4 cylinders, 2 heads, 4 sectors of 128 bytes")
		assert.Contains(t, out, "Tracks:    8 of 512 bytes")
		assert.NotContains(t, out, "Preset:")
	})

	t.Run("json", func(t *testing.T) {
		out, err := runCmd(t, withGeom("info", path, "--json")...)
		require.NoError(t, err)
		var info imageInfo
		require.NoError(t, json.Unmarshal([]byte(out), &info))
		assert.Equal(t, geom, info.Geometry)
		assert.Equal(t, 8, info.Tracks)
		assert.Equal(t, geom.TotalBytes(), info.Size)
	})

	t.Run("preset by size", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "dd.img")
		require.NoError(t, os.WriteFile(p, make([]byte, 737280), 0o644))
		out, err := runCmd(t, "info", p)
		require.NoError(t, err)
		assert.Contains(t, out, "Preset:    img-720k")
	})

	t.Run("presets", func(t *testing.T) {
		out, err := runCmd(t, "info", "--presets")
		require.NoError(t, err)
		assert.Contains(t, out, "img-1440k")
		assert.Contains(t, out, "adf-dd")
	})

	t.Run("unknown size", func(t *testing.T) {
		_, err := runCmd(t, "info", path)
		require.ErrorIs(t, err, types.ErrInvalidArgument)
	})
}

func TestPreviewCommand(t *testing.T) {
	path, newPath := setupImages(t)

	out, err := runCmd(t, withGeom("preview", path, newPath, "--json")...)
	require.NoError(t, err)
	m := decodeJSON(t, out)
	assert.EqualValues(t, 2, m["tracks_modified"])
	assert.EqualValues(t, 8, m["tracks_total"])

	got, err := floppy.ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, testutil.Pattern(geom, 0), got, "preview never writes")

	out, err = runCmd(t, withGeom("preview", path, newPath, "--no-color")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Tracks modified:  2 of 8")
}

func TestWriteCommand(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		path, newPath := setupImages(t)
		out, err := runCmd(t, withGeom("write", path, newPath, "--no-color")...)
		require.NoError(t, err)
		assert.Contains(t, out, "[Committed]")
		assert.Contains(t, out, "Operations: 2 total, 2 executed, 2 succeeded, 0 failed, 0 rolled back")

		want, err := floppy.ReadImage(newPath)
		require.NoError(t, err)
		got, err := floppy.ReadImage(path)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("json", func(t *testing.T) {
		path, newPath := setupImages(t)
		out, err := runCmd(t, withGeom("write", path, newPath, "--json")...)
		require.NoError(t, err)
		m := decodeJSON(t, out)
		txRes, ok := m["transaction"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Committed", txRes["final_state"])
		assert.EqualValues(t, 2, txRes["operations_total"])
	})

	t.Run("dry run", func(t *testing.T) {
		path, newPath := setupImages(t)
		out, err := runCmd(t, withGeom("write", path, newPath, "--dry-run", "--no-color")...)
		require.NoError(t, err)
		assert.Contains(t, out, "Dry run: nothing written")

		got, err := floppy.ReadImage(path)
		require.NoError(t, err)
		assert.Equal(t, testutil.Pattern(geom, 0), got)
	})

	t.Run("nothing to write", func(t *testing.T) {
		path := testutil.SetupImageFile(t, geom, 0)
		out, err := runCmd(t, withGeom("write", path, path, "--no-color")...)
		require.NoError(t, err)
		assert.Contains(t, out, "Nothing to write")
	})

	t.Run("verbose progress", func(t *testing.T) {
		path, newPath := setupImages(t)
		out, err := runCmd(t, withGeom("write", path, newPath, "-v", "--no-color")...)
		require.NoError(t, err)
		assert.Contains(t, out, "commit   1/2 c1/h0")
		assert.Contains(t, out, "commit   2/2 c2/h1")
	})

	t.Run("bad flush", func(t *testing.T) {
		path, newPath := setupImages(t)
		_, err := runCmd(t, withGeom("write", path, newPath, "--flush", "sometimes")...)
		require.ErrorIs(t, err, types.ErrInvalidArgument)
	})

	t.Run("bad mode", func(t *testing.T) {
		path, newPath := setupImages(t)
		_, err := runCmd(t, withGeom("write", path, newPath, "--mode", "magnetic")...)
		require.ErrorIs(t, err, types.ErrInvalidArgument)
	})
}

func TestWriteAndRestoreCommands(t *testing.T) {
	path, newPath := setupImages(t)
	backup := filepath.Join(t.TempDir(), "before.uftb")

	out, err := runCmd(t, withGeom("write", path, newPath, "--backup-file", backup, "--no-color")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Backup saved to "+backup)

	out, err = runCmd(t, withGeom("restore", path, backup)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 2 track(s)")

	got, err := floppy.ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, testutil.Pattern(geom, 0), got)

	_, err = runCmd(t, withGeom("restore", path, filepath.Join(t.TempDir(), "missing.uftb"))...)
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestVerifyCommand(t *testing.T) {
	path, newPath := setupImages(t)
	same := filepath.Join(t.TempDir(), "same.img")
	require.NoError(t, os.WriteFile(same, testutil.Pattern(geom, 0), 0o644))

	t.Run("match", func(t *testing.T) {
		out, err := runCmd(t, withGeom("verify", path, same, "--no-color")...)
		require.NoError(t, err)
		assert.Contains(t, out, "[OK]")
	})

	t.Run("mismatch exits 2", func(t *testing.T) {
		out, err := runCmd(t, withGeom("verify", path, newPath, "--no-color")...)
		var ee *exitError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, exitMismatch, ee.code)
		assert.Contains(t, out, "[MISMATCH]")
		assert.Contains(t, out, "8 verified, 2 failed, 8 total")
	})

	t.Run("json", func(t *testing.T) {
		out, err := runCmd(t, withGeom("verify", path, newPath, "--json", "--stop-on-first")...)
		require.Error(t, err)
		m := decodeJSON(t, out)
		assert.Equal(t, "MISMATCH", m["status"])
		assert.EqualValues(t, 1, m["tracks_failed"])
	})

	t.Run("track", func(t *testing.T) {
		_, err := runCmd(t, withGeom("verify", path, newPath, "--track", "0/1")...)
		require.NoError(t, err)

		_, err = runCmd(t, withGeom("verify", path, newPath, "--track", "1/0")...)
		var ee *exitError
		require.True(t, errors.As(err, &ee))
	})

	t.Run("passes", func(t *testing.T) {
		out, err := runCmd(t, withGeom("verify", path, "--track", "2/1", "--passes", "3", "--no-color")...)
		require.NoError(t, err)
		assert.Contains(t, out, "[CONSISTENT]")
	})

	t.Run("errors", func(t *testing.T) {
		_, err := runCmd(t, withGeom("verify", path, "--passes", "3")...)
		require.ErrorIs(t, err, types.ErrInvalidArgument)

		_, err = runCmd(t, withGeom("verify", path, newPath, "--track", "12")...)
		require.ErrorIs(t, err, types.ErrInvalidArgument)

		_, err = runCmd(t, withGeom("verify", path)...)
		require.Error(t, err)
	})
}

func TestParseTrack(t *testing.T) {
	tests := []struct {
		in        string
		cyl, head int
		wantErr   bool
	}{
		{in: "0/0"},
		{in: "12/1", cyl: 12, head: 1},
		{in: "12", wantErr: true},
		{in: "12/1x", wantErr: true},
		{in: "a/b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cyl, head, err := parseTrack(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, types.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cyl, cyl)
			assert.Equal(t, tt.head, head)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "diskctl dev")
}

func TestWriteModel(t *testing.T) {
	events := make(chan types.Progress, 4)
	job := &writeJob{done: make(chan struct{})}
	cancelled := false
	m := newWriteModel("disk.img", events, job, func() { cancelled = true })

	var tm tea.Model = m
	tm, _ = tm.Update(tea.WindowSizeMsg{Width: 200, Height: 40})
	assert.Equal(t, maxBarWidth, tm.(writeModel).bar.Width)

	tm, cmd := tm.Update(progressMsg{Stage: "commit", Current: 1, Total: 4, Loc: types.TrackLoc(1, 0)})
	assert.NotNil(t, cmd, "keeps listening for progress")
	wm := tm.(writeModel)
	assert.InDelta(t, 0.25, wm.percent(), 1e-9)
	assert.Contains(t, wm.View(), "commit 1/4 c1/h0")

	tm, _ = tm.Update(progressMsg{Stage: "commit", Current: 2, Total: 4, Err: "boom"})
	assert.Contains(t, tm.View(), "1 failed operation(s); last: boom")

	tm, cmd = tm.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd, "waits for the rollback before quitting")
	assert.True(t, cancelled)
	assert.Contains(t, tm.View(), "cancelling")

	res := &floppy.WriteResult{Skipped: true}
	tm, cmd = tm.Update(writeDoneMsg{res: res, err: context.Canceled})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	wm = tm.(writeModel)
	assert.True(t, wm.finished)
	assert.Same(t, res, wm.res)
	assert.ErrorIs(t, wm.err, context.Canceled)
	assert.Equal(t, 1.0, wm.percent())
}

func TestWriteJob(t *testing.T) {
	path, newPath := setupImages(t)
	data, err := floppy.ReadImage(newPath)
	require.NoError(t, err)

	opts := floppy.DefaultOptions()
	opts.Geometry = geom
	events := make(chan types.Progress, 16)
	opts.Progress = events
	job := startWrite(context.Background(), path, data, opts, events)

	msg, ok := waitDone(job)().(writeDoneMsg)
	require.True(t, ok)
	require.NoError(t, msg.err)
	assert.False(t, msg.res.Skipped)

	n := 0
	for range events {
		n++
	}
	assert.Equal(t, 2, n)

	again := job.wait()
	assert.Same(t, msg.res, again.res)
}

func TestWriteCommand_TUIFallsBackWithoutTerminal(t *testing.T) {
	path, newPath := setupImages(t)
	out, err := runCmd(t, withGeom("write", path, newPath, "--tui", "--no-color")...)
	require.NoError(t, err)
	assert.Contains(t, out, "[Committed]")
	assert.False(t, interactive(&bytes.Buffer{}))
}
