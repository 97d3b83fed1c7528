package transcode

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d3f4ultt/d3f4ult.tv/hlsfs"
)

// fakeWorker stands in for ffmpeg: it ignores its arguments and consumes
// stdin until the feed closes, like a well-behaved transcoder.
func fakeWorker(t *testing.T, body string) string {
	script := filepath.Join(t.TempDir(), "fake_ffmpeg.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return script
}

func newTestSupervisor(t *testing.T, binary string) *Supervisor {
	fc := hlsfs.NewConfig()
	fc.Basedir = t.TempDir()
	storage, err := hlsfs.NewFilesystem(fc)
	require.NoError(t, err)

	c := NewConfig()
	c.FfmpegBinary = binary
	return NewSupervisor(c, storage)
}

func TestStartStop(t *testing.T) {
	s := newTestSupervisor(t, fakeWorker(t, "cat >/dev/null"))

	p, err := s.Start("abc123")
	require.NoError(t, err)
	assert.True(t, s.Running("abc123"))
	assert.Equal(t, 1, s.Count())

	s.Stop("abc123")
	assert.False(t, s.Running("abc123"))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after stop")
	}
}

func TestStartConflict(t *testing.T) {
	s := newTestSupervisor(t, fakeWorker(t, "cat >/dev/null"))

	_, err := s.Start("abc123")
	require.NoError(t, err)
	defer s.Stop("abc123")

	_, err = s.Start("abc123")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyTranscoding)
	assert.Equal(t, 1, s.Count())
}

func TestSpawnFailure(t *testing.T) {
	s := newTestSupervisor(t, "/nonexistent/ffmpeg")

	_, err := s.Start("abc123")
	require.Error(t, err)
	assert.False(t, s.Running("abc123"))
	assert.Equal(t, 0, s.Count())
}

func TestUnexpectedExitClearsHandle(t *testing.T) {
	s := newTestSupervisor(t, fakeWorker(t, "exit 3"))

	p, err := s.Start("abc123")
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}

	assert.Eventually(t, func() bool {
		return !s.Running("abc123")
	}, 5*time.Second, 10*time.Millisecond)

	// stopping the already-dead stream is a no-op
	s.Stop("abc123")
	assert.Equal(t, 0, s.Count())
}

func TestRestartAfterExit(t *testing.T) {
	s := newTestSupervisor(t, fakeWorker(t, "cat >/dev/null"))

	first, err := s.Start("abc123")
	require.NoError(t, err)
	s.Stop("abc123")
	<-first.Done()

	second, err := s.Start("abc123")
	require.NoError(t, err)
	assert.True(t, s.Running("abc123"))
	s.Stop("abc123")
	<-second.Done()
}

func TestShutdownTerminatesAll(t *testing.T) {
	s := newTestSupervisor(t, fakeWorker(t, "cat >/dev/null"))

	p1, err := s.Start("one")
	require.NoError(t, err)
	p2, err := s.Start("two")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count())

	s.Shutdown()
	assert.Equal(t, 0, s.Count())

	for _, p := range []*Process{p1, p2} {
		select {
		case <-p.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("worker survived shutdown")
		}
	}
}

func TestOutputDirCreated(t *testing.T) {
	fc := hlsfs.NewConfig()
	fc.Basedir = t.TempDir()
	storage, err := hlsfs.NewFilesystem(fc)
	require.NoError(t, err)

	c := NewConfig()
	c.FfmpegBinary = fakeWorker(t, "cat >/dev/null")
	s := NewSupervisor(c, storage)

	_, err = s.Start("abc123")
	require.NoError(t, err)
	defer s.Stop("abc123")

	dir, err := storage.StreamDir("abc123")
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
