package hlsfs

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const playlistName = "index.m3u8"

var streamKeyRe = regexp.MustCompile(`^[0-9a-zA-Z_-]+$`)

// Filesystem owns the media root layout: one directory per stream key under
// <Basedir>/<Application>/, with the playlist and segments written there by
// the transcoding worker.
type Filesystem struct {
	config Config
}

func NewFilesystem(config Config) (*Filesystem, error) {
	fs := &Filesystem{config: config}
	if err := os.MkdirAll(fs.applicationDir(), 0755); err != nil {
		return nil, errors.Wrapf(err, "cannot create media root %s", config.Basedir)
	}
	return fs, nil
}

func ValidStreamKey(streamKey string) bool {
	return streamKeyRe.MatchString(streamKey)
}

func (fs *Filesystem) applicationDir() string {
	return filepath.Join(fs.config.Basedir, fs.config.Application)
}

func (fs *Filesystem) StreamDir(streamKey string) (string, error) {
	if !ValidStreamKey(streamKey) {
		return "", errors.Errorf("bad stream key %q", streamKey)
	}
	return filepath.Join(fs.applicationDir(), streamKey), nil
}

// EnsureStreamDir creates the per-stream output directory if absent and
// returns the playlist path inside it.
func (fs *Filesystem) EnsureStreamDir(streamKey string) (string, error) {
	dir, err := fs.StreamDir(streamKey)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "cannot create stream dir %s", dir)
	}
	return filepath.Join(dir, playlistName), nil
}

func (fs *Filesystem) PlaylistPath(streamKey string) (string, error) {
	dir, err := fs.StreamDir(streamKey)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, playlistName), nil
}

func (fs *Filesystem) SegmentPath(streamKey, chunkName string) (string, error) {
	dir, err := fs.StreamDir(streamKey)
	if err != nil {
		return "", err
	}
	if chunkName != filepath.Base(chunkName) || filepath.Ext(chunkName) != ".ts" {
		return "", errors.Errorf("bad chunk name %q", chunkName)
	}
	return filepath.Join(dir, chunkName), nil
}

// CleanupStale removes stream directories whose playlist has not been touched
// for RemovalTime. Live streams rewrite the playlist every segment, so only
// abandoned output goes away.
func (fs *Filesystem) CleanupStale() {
	entries, err := os.ReadDir(fs.applicationDir())
	if err != nil {
		logrus.Errorf("cannot read media root %+v", err)
		return
	}

	deadline := time.Now().Add(-fs.config.RemovalTime.Duration)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(fs.applicationDir(), entry.Name())
		info, err := os.Stat(filepath.Join(dir, playlistName))
		if err != nil || info.ModTime().After(deadline) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logrus.Errorf("cannot remove stale dir %s %+v", dir, err)
			continue
		}
		logrus.WithField("stream_key", entry.Name()).Info("removed stale stream output")
	}
}

func (fs *Filesystem) Finalize() {
	fs.CleanupStale()
}
