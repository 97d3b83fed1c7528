package integration_tests

import (
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/require"
	"github.com/xfrr/goffmpeg/transcoder"

	"github.com/d3f4ultt/d3f4ult.tv/worker"
)

type Wrapper struct {
	W *worker.Worker
	C worker.Config
}

// NewWrapper builds a worker on free ports with a throwaway media root. The
// real ffmpeg is required; callers skip when it is missing.
func NewWrapper(t *testing.T) *Wrapper {
	RequireFfmpeg(t)

	dir, err := os.MkdirTemp("", "d3f4ult_it_")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	c := worker.NewConfig(worker.DEFAULT_CONFIG)
	c.HlsFsConfig.Basedir = dir

	c.RtmpServerConfig.RtmpPort, err = freeport.GetFreePort()
	require.NoError(t, err)
	t.Log(c.RtmpServerConfig.RtmpPort)

	c.LiveHlsConfig.HttpPort, err = freeport.GetFreePort()
	require.NoError(t, err)
	t.Log(c.LiveHlsConfig.HttpPort)

	w, err := worker.NewWorker(c)
	require.NoError(t, err)
	return &Wrapper{
		W: w,
		C: c,
	}
}

func RequireFfmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
}

func BuildPublishUrl(w *Wrapper, streamKey string) string {
	return fmt.Sprintf("rtmp://localhost:%d/live/%s", w.C.RtmpServerConfig.RtmpPort, streamKey)
}

func BuildPlaybackUrl(w *Wrapper, streamKey string) string {
	return fmt.Sprintf("http://localhost:%d/live/%s/index.m3u8", w.C.LiveHlsConfig.HttpPort, streamKey)
}

func BuildApiUrl(w *Wrapper, suffix string) string {
	return fmt.Sprintf("http://localhost:%d/api%s", w.C.LiveHlsConfig.HttpPort, suffix)
}

// NewStreamer publishes the input file to the RTMP endpoint in real time.
func NewStreamer(t *testing.T, in string, out string) *transcoder.Transcoder {
	trans := new(transcoder.Transcoder)
	err := trans.Initialize(in, out)
	require.NoError(t, err)

	trans.MediaFile().SetAudioCodec("copy")
	trans.MediaFile().SetVideoCodec("copy")
	trans.MediaFile().SetOutputFormat("flv")
	trans.MediaFile().SetNativeFramerateInput(true)

	return trans
}
