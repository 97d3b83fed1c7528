package worker

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/VKCOM/joy4/av/avutil"
	"github.com/VKCOM/joy4/format/flv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/d3f4ultt/d3f4ult.tv/hls_server"
	"github.com/d3f4ultt/d3f4ult.tv/hlsfs"
	"github.com/d3f4ultt/d3f4ult.tv/keyreg"
	"github.com/d3f4ultt/d3f4ult.tv/rtmp_server"
	"github.com/d3f4ultt/d3f4ult.tv/tracker"
	"github.com/d3f4ultt/d3f4ult.tv/transcode"
)

// Worker wires the components together: the RTMP listener feeds the
// supervisor, the supervisor writes into the media root, the HTTP side serves
// the output and the status API.
type Worker struct {
	Config Config

	storage    *hlsfs.Filesystem
	keys       *keyreg.Registry
	live       *tracker.Tracker
	supervisor *transcode.Supervisor
	hlsServer  *hls_server.LiveHls
	rtmpServer *rtmp_server.RtmpServer
}

func NewWorker(config Config) (*Worker, error) {
	worker := Worker{
		Config: config,
		keys:   keyreg.NewRegistry(),
		live:   tracker.NewTracker(),
	}

	storage, err := hlsfs.NewFilesystem(config.HlsFsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create media storage")
	}
	worker.storage = storage
	worker.supervisor = transcode.NewSupervisor(config.TranscodeConfig, storage)

	hlsServer, err := hls_server.NewLiveHls(config.LiveHlsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create hls server")
	}
	hlsServer.HandleLivePlaylist = worker.handleLivePlaylist
	hlsServer.HandleLiveChunk = worker.handleLiveChunk
	hlsServer.HandleStreamStatus = worker.handleStreamStatus
	hlsServer.HandleListStreams = worker.handleListStreams
	hlsServer.HandleServerConfig = worker.handleServerConfig
	hlsServer.HandleGenerateKey = worker.handleGenerateKey
	hlsServer.HandleListKeys = worker.handleListKeys
	hlsServer.HandleDeactivateKey = worker.handleDeactivateKey
	worker.hlsServer = hlsServer

	rtmpServer, err := rtmp_server.NewRtmpServer(config.RtmpServerConfig)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create rtmp server")
	}
	rtmpServer.Authorize = worker.authorizePublish
	rtmpServer.HandlePublish = worker.handlePublish
	rtmpServer.HandlePublishDone = worker.handlePublishDone
	worker.rtmpServer = rtmpServer
	hlsServer.HandleRtmpHealth = rtmpServer.HealthCheck

	defaultKey := worker.keys.GetOrCreateDefault()
	logrus.Infof("Publish to rtmp://<host>:%d/live/%s", config.RtmpServerConfig.RtmpPort, defaultKey)

	return &worker, nil
}

func (w *Worker) Listen() error {
	if w.Config.Disabled {
		logrus.Warn("RTMP listener not started, subsystem disabled")
	} else {
		if err := w.rtmpServer.Listen(); err != nil {
			return errors.Wrap(err, "cannot listen rtmp")
		}
	}

	if err := w.hlsServer.Listen(); err != nil {
		return errors.Wrap(err, "cannot listen hls")
	}

	return nil
}

func (w *Worker) Serve() error {
	if !w.Config.Disabled {
		go func() {
			err := w.rtmpServer.Serve()
			if err != nil {
				logrus.Errorf("rtmp serve finished %+v", err)
			}
		}()
	}

	go func() {
		err := w.hlsServer.Serve()
		if err != nil {
			logrus.Panicf("cannot serve %+v", err)
		}
	}()

	return nil
}

func (w *Worker) Stop() error {
	err := w.rtmpServer.Stop()
	if err != nil {
		logrus.Errorf("cannot stop %+v", err)
	}
	w.supervisor.Shutdown()
	w.storage.Finalize()
	err = w.hlsServer.Stop()
	if err != nil {
		logrus.Errorf("cannot stop %+v", err)
	}
	return nil
}

// authorizePublish gates every inbound publish. On success the key is marked
// live before the session proceeds to media data.
func (w *Worker) authorizePublish(streamKey string) error {
	if w.Config.Disabled {
		return errors.New("rtmp subsystem disabled")
	}
	if !hlsfs.ValidStreamKey(streamKey) {
		return errors.Errorf("malformed stream key %q", streamKey)
	}
	if !w.keys.Validate(streamKey) {
		return errors.Errorf("invalid or inactive stream key")
	}
	w.live.MarkLive(streamKey)
	return nil
}

func (w *Worker) handlePublishDone(streamKey string) {
	w.live.MarkEnded(streamKey)
	w.supervisor.Stop(streamKey)
}

// handlePublish owns the session for its whole lifetime: it starts the
// stream's transcoding worker and remuxes the RTMP feed into the worker's
// stdin as FLV until the feed ends.
func (w *Worker) handlePublish(request *rtmp_server.PublishRequest) error {
	proc, err := w.supervisor.Start(request.StreamKey)
	if err != nil {
		// ingest survives at the protocol level with no HLS output; the
		// publisher has to reconnect to retry transcoding
		logrus.WithField("stream_key", request.StreamKey).Errorf("cannot start transcoding worker %+v", err)
		return w.drainPublish(request)
	}

	muxer := flv.NewMuxer(proc.Input())
	err = avutil.CopyFile(muxer, request.Data)
	proc.Input().Close()
	if err != nil && err != io.EOF {
		return errors.Wrap(err, "publish feed failed")
	}
	return nil
}

func (w *Worker) drainPublish(request *rtmp_server.PublishRequest) error {
	for {
		_, err := request.Data.ReadPacket()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "publish feed failed")
		}
	}
}

func jsonResponse(status int, payload interface{}) (hls_server.HttpResponse, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return hls_server.HttpResponse{HttpStatus: http.StatusInternalServerError}, errors.Wrapf(err, "cannot encode %+v", payload)
	}
	return hls_server.HttpResponse{
		HttpStatus: status,
		Reader:     io.NopCloser(bytes.NewReader(b)),
	}, nil
}

func (w *Worker) handleLivePlaylist(r *hls_server.LivePlaylistRequest) (hls_server.HttpResponse, error) {
	path, err := w.storage.PlaylistPath(r.StreamKey)
	if err != nil {
		return hls_server.HttpResponse{HttpStatus: http.StatusBadRequest}, errors.Wrap(err, "bad params")
	}
	f, err := os.Open(path)
	if err != nil {
		return hls_server.HttpResponse{HttpStatus: http.StatusNotFound}, errors.Wrap(err, "no such stream")
	}
	return hls_server.HttpResponse{
		HttpStatus: http.StatusOK,
		Reader:     f,
	}, nil
}

func (w *Worker) handleLiveChunk(r *hls_server.LiveChunkRequest) (hls_server.HttpResponse, error) {
	path, err := w.storage.SegmentPath(r.StreamKey, r.ChunkName)
	if err != nil {
		return hls_server.HttpResponse{HttpStatus: http.StatusBadRequest}, errors.Wrap(err, "bad params")
	}
	f, err := os.Open(path)
	if err != nil {
		return hls_server.HttpResponse{HttpStatus: http.StatusNotFound}, errors.Wrap(err, "no such chunk")
	}
	return hls_server.HttpResponse{
		HttpStatus: http.StatusOK,
		Reader:     f,
	}, nil
}

type streamStatus struct {
	StreamKey string `json:"streamKey"`
	Live      bool   `json:"live"`
}

func (w *Worker) handleStreamStatus(r *hls_server.StreamStatusRequest) (hls_server.HttpResponse, error) {
	return jsonResponse(http.StatusOK, streamStatus{
		StreamKey: r.StreamKey,
		Live:      w.live.IsLive(r.StreamKey),
	})
}

func (w *Worker) handleListStreams() (hls_server.HttpResponse, error) {
	return jsonResponse(http.StatusOK, struct {
		Streams []string `json:"streams"`
	}{Streams: w.live.ListLive()})
}

type serverConfig struct {
	RtmpPort         int    `json:"rtmpPort"`
	HlsPort          int    `json:"hlsPort"`
	DefaultStreamKey string `json:"defaultStreamKey"`
	Enabled          bool   `json:"enabled"`
}

func (w *Worker) handleServerConfig() (hls_server.HttpResponse, error) {
	return jsonResponse(http.StatusOK, serverConfig{
		RtmpPort:         w.Config.RtmpServerConfig.RtmpPort,
		HlsPort:          w.Config.LiveHlsConfig.HttpPort,
		DefaultStreamKey: w.keys.GetOrCreateDefault(),
		Enabled:          !w.Config.Disabled,
	})
}

func (w *Worker) handleGenerateKey() (hls_server.HttpResponse, error) {
	key := w.keys.Generate()
	logrus.WithField("stream_key", key).Info("stream key generated")
	return jsonResponse(http.StatusCreated, struct {
		Key string `json:"key"`
	}{Key: key})
}

func (w *Worker) handleListKeys() (hls_server.HttpResponse, error) {
	return jsonResponse(http.StatusOK, struct {
		Keys []keyreg.KeyRecord `json:"keys"`
	}{Keys: w.keys.ListAll()})
}

func (w *Worker) handleDeactivateKey(r *hls_server.DeactivateKeyRequest) (hls_server.HttpResponse, error) {
	if !w.keys.Deactivate(r.Key) {
		return jsonResponse(http.StatusNotFound, struct {
			Error string `json:"error"`
		}{Error: "unknown key"})
	}
	logrus.WithField("stream_key", r.Key).Info("stream key deactivated")
	return jsonResponse(http.StatusOK, struct {
		Deactivated bool `json:"deactivated"`
	}{Deactivated: true})
}

// CleanupLoop periodically drops stale stream output directories.
func (w *Worker) CleanupLoop(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			w.storage.CleanupStale()
		case <-stop:
			return
		}
	}
}
