package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/VKCOM/joy4/av"
	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d3f4ultt/d3f4ult.tv/hls_server"
	"github.com/d3f4ultt/d3f4ult.tv/rtmp_server"
)

func fakeWorkerBinary(t *testing.T, body string) string {
	script := filepath.Join(t.TempDir(), "fake_ffmpeg.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return script
}

func newTestConfig(t *testing.T) Config {
	c := NewConfig(TESTING_CONFIG)
	c.HlsFsConfig.Basedir = t.TempDir()
	c.TranscodeConfig.FfmpegBinary = fakeWorkerBinary(t, "cat >/dev/null")
	return c
}

func newTestWorker(t *testing.T, c Config) *Worker {
	w, err := NewWorker(c)
	require.NoError(t, err)
	return w
}

type eofDemuxer struct{}

func (eofDemuxer) Streams() ([]av.CodecData, error) { return nil, io.EOF }
func (eofDemuxer) ReadPacket() (av.Packet, error)   { return av.Packet{}, io.EOF }
func (eofDemuxer) Close() error                     { return nil }

func decodeBody(t *testing.T, res hls_server.HttpResponse, out interface{}) {
	require.NotNil(t, res.Reader)
	defer res.Reader.Close()
	require.NoError(t, json.NewDecoder(res.Reader).Decode(out))
}

func TestAuthorizeLifecycle(t *testing.T) {
	w := newTestWorker(t, newTestConfig(t))

	key := w.keys.Generate()
	require.NoError(t, w.authorizePublish(key))
	assert.True(t, w.live.IsLive(key))

	w.handlePublishDone(key)
	assert.False(t, w.live.IsLive(key))

	assert.Error(t, w.authorizePublish("unknown"))
	assert.False(t, w.live.IsLive("unknown"))
}

func TestAuthorizeDeactivatedKey(t *testing.T) {
	w := newTestWorker(t, newTestConfig(t))

	key := w.keys.Generate()
	require.NoError(t, w.authorizePublish(key))
	w.handlePublishDone(key)

	w.keys.Deactivate(key)
	assert.Error(t, w.authorizePublish(key))
	assert.False(t, w.live.IsLive(key))
}

func TestAuthorizeMalformedKey(t *testing.T) {
	w := newTestWorker(t, newTestConfig(t))

	for _, key := range []string{"", "a/b", "../x", "a b"} {
		assert.Error(t, w.authorizePublish(key), key)
	}
}

func TestPublishSpawnFailureKeepsSession(t *testing.T) {
	c := newTestConfig(t)
	c.TranscodeConfig.FfmpegBinary = "/nonexistent/ffmpeg"
	w := newTestWorker(t, c)

	key := w.keys.Generate()
	require.NoError(t, w.authorizePublish(key))

	req := &rtmp_server.PublishRequest{
		Application: "live",
		StreamKey:   key,
		Data:        eofDemuxer{},
	}
	// the session is drained, not torn down with an error
	assert.NoError(t, w.handlePublish(req))
	assert.Equal(t, 0, w.supervisor.Count())
}

func TestWorkerExitLeavesStreamLive(t *testing.T) {
	// known gap: a worker dying mid-stream clears the transcoding handle
	// while the protocol layer still counts the stream as live
	c := newTestConfig(t)
	c.TranscodeConfig.FfmpegBinary = fakeWorkerBinary(t, "exit 3")
	w := newTestWorker(t, c)

	key := w.keys.Generate()
	require.NoError(t, w.authorizePublish(key))

	proc, err := w.supervisor.Start(key)
	require.NoError(t, err)
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}

	assert.Eventually(t, func() bool {
		return !w.supervisor.Running(key)
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, w.live.IsLive(key))
}

func TestStatusEndpoints(t *testing.T) {
	w := newTestWorker(t, newTestConfig(t))

	key := w.keys.Generate()
	require.NoError(t, w.authorizePublish(key))

	res, err := w.handleStreamStatus(&hls_server.StreamStatusRequest{StreamKey: key})
	require.NoError(t, err)
	var status streamStatus
	decodeBody(t, res, &status)
	assert.Equal(t, key, status.StreamKey)
	assert.True(t, status.Live)

	res, err = w.handleListStreams()
	require.NoError(t, err)
	var streams struct {
		Streams []string `json:"streams"`
	}
	decodeBody(t, res, &streams)
	assert.Equal(t, []string{key}, streams.Streams)

	w.handlePublishDone(key)
	res, err = w.handleStreamStatus(&hls_server.StreamStatusRequest{StreamKey: key})
	require.NoError(t, err)
	decodeBody(t, res, &status)
	assert.False(t, status.Live)
}

func TestKeyEndpoints(t *testing.T) {
	w := newTestWorker(t, newTestConfig(t))

	res, err := w.handleGenerateKey()
	require.NoError(t, err)
	assert.Equal(t, 201, res.HttpStatus)
	var minted struct {
		Key string `json:"key"`
	}
	decodeBody(t, res, &minted)
	assert.True(t, w.keys.Validate(minted.Key))

	res, err = w.handleDeactivateKey(&hls_server.DeactivateKeyRequest{Key: minted.Key})
	require.NoError(t, err)
	assert.Equal(t, 200, res.HttpStatus)
	assert.False(t, w.keys.Validate(minted.Key))

	res, err = w.handleDeactivateKey(&hls_server.DeactivateKeyRequest{Key: "unknown"})
	require.NoError(t, err)
	assert.Equal(t, 404, res.HttpStatus)
}

func TestServerConfigEndpoint(t *testing.T) {
	c := newTestConfig(t)
	w := newTestWorker(t, c)

	res, err := w.handleServerConfig()
	require.NoError(t, err)
	var sc serverConfig
	decodeBody(t, res, &sc)
	assert.Equal(t, c.RtmpServerConfig.RtmpPort, sc.RtmpPort)
	assert.Equal(t, c.LiveHlsConfig.HttpPort, sc.HlsPort)
	assert.Equal(t, w.keys.GetOrCreateDefault(), sc.DefaultStreamKey)
	assert.True(t, sc.Enabled)
}

func TestDisabledSkipsRtmpBind(t *testing.T) {
	c := newTestConfig(t)
	c.Disabled = true

	var err error
	c.RtmpServerConfig.RtmpPort, err = freeport.GetFreePort()
	require.NoError(t, err)
	c.LiveHlsConfig.HttpPort, err = freeport.GetFreePort()
	require.NoError(t, err)

	w := newTestWorker(t, c)
	require.NoError(t, w.Listen())
	defer w.Stop()

	// nothing holds the rtmp port
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", c.RtmpServerConfig.RtmpPort))
	require.NoError(t, err)
	l.Close()

	res, err := w.handleServerConfig()
	require.NoError(t, err)
	var sc serverConfig
	decodeBody(t, res, &sc)
	assert.False(t, sc.Enabled)

	key := w.keys.Generate()
	assert.Error(t, w.authorizePublish(key))
}

func TestPlaylistServing(t *testing.T) {
	w := newTestWorker(t, newTestConfig(t))

	res, err := w.handleLivePlaylist(&hls_server.LivePlaylistRequest{Application: "live", StreamKey: "abc123"})
	assert.Error(t, err)
	assert.Equal(t, 404, res.HttpStatus)

	playlist, err := w.storage.EnsureStreamDir("abc123")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(playlist, []byte("#EXTM3U\n"), 0644))

	res, err = w.handleLivePlaylist(&hls_server.LivePlaylistRequest{Application: "live", StreamKey: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, 200, res.HttpStatus)
	body, err := io.ReadAll(res.Reader)
	require.NoError(t, err)
	res.Reader.Close()
	assert.Equal(t, "#EXTM3U\n", string(body))
}

func TestChunkServing(t *testing.T) {
	w := newTestWorker(t, newTestConfig(t))

	playlist, err := w.storage.EnsureStreamDir("abc123")
	require.NoError(t, err)
	chunk := filepath.Join(filepath.Dir(playlist), "index0.ts")
	require.NoError(t, os.WriteFile(chunk, []byte("ts-data"), 0644))

	res, err := w.handleLiveChunk(&hls_server.LiveChunkRequest{Application: "live", StreamKey: "abc123", ChunkName: "index0.ts"})
	require.NoError(t, err)
	assert.Equal(t, 200, res.HttpStatus)
	res.Reader.Close()

	res, _ = w.handleLiveChunk(&hls_server.LiveChunkRequest{Application: "live", StreamKey: "abc123", ChunkName: "../index0.ts"})
	assert.Equal(t, 400, res.HttpStatus)
}
