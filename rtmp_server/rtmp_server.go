package rtmp_server

import (
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/VKCOM/joy4/format/flv"
	"github.com/VKCOM/joy4/format/rtmp"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/d3f4ultt/d3f4ult.tv/vsync"
)

func init() {
	flv.MaxProbePacketCount = 500 //long wait for audio and video
	rtmp.MaxChunkSize = 10 * 1024 * 1024
}

// RtmpServer accepts publish connections and gates them through the injected
// callbacks. Authorize runs before any media data is consumed; every failure
// on the publish path closes the connection without a protocol-level reason.
type RtmpServer struct {
	config       RtmpServerConfig
	server       *rtmp.Server
	rtmpListener *net.TCPListener

	// Authorize decides whether the key may publish. An error rejects the
	// session before the tracker or the supervisor see it.
	Authorize func(streamKey string) error
	// HandlePublish owns the session until the feed ends.
	HandlePublish func(*PublishRequest) error
	// HandlePublishDone runs after every authorized session, success or not.
	HandlePublishDone func(streamKey string)

	rtmpMutex   *vsync.Semaphore
	streamLocks *vsync.NamedLock
}

type DeadLineConn struct {
	net.Conn
	extend time.Duration
}

func (dlc *DeadLineConn) Read(b []byte) (n int, err error) {
	dlc.SetDeadline(time.Now().Add(dlc.extend))
	return dlc.Conn.Read(b)
}

func (dlc *DeadLineConn) Write(b []byte) (n int, err error) {
	dlc.SetDeadline(time.Now().Add(dlc.extend))
	return dlc.Conn.Write(b)
}

func NewRtmpServer(config RtmpServerConfig) (*RtmpServer, error) {
	rts := &RtmpServer{
		config:      config,
		rtmpMutex:   vsync.NewSemaphore(500, 200),
		streamLocks: vsync.NewNamedLock(),
	}

	rtmpConnCreate := func(netconn net.Conn) *rtmp.Conn {
		logrus.Debugf("Connection created %+v", netconn.RemoteAddr())

		netconn.SetDeadline(time.Now().Add(1 * time.Minute))
		conn := rtmp.NewConn(&DeadLineConn{Conn: netconn, extend: 40 * time.Second})
		conn.Prober.HasVideo = true
		conn.Prober.HasAudio = true
		return conn
	}

	rtmpServer := &rtmp.Server{
		Addr:       fmt.Sprintf("%s:%d", rts.config.RtmpHost, rts.config.RtmpPort),
		CreateConn: rtmpConnCreate,
	}

	rtmpServer.HandlePublish = func(conn *rtmp.Conn) {
		// fail closed: a panic anywhere below drops the session
		defer func() {
			if r := recover(); r != nil {
				logrus.Errorf("%s: %s", r, debug.Stack())
			}
		}()
		logrus.Debugf("Connection publish %+v", conn.NetConn().RemoteAddr())

		defer conn.Close()
		logrus.Infof(conn.URL.RequestURI())

		publishRequest, err := rts.parsePublishRequest(conn.URL.RequestURI())
		if err != nil {
			logrus.Errorf(" %+v", err)
			return
		}
		if publishRequest.StreamKey == "" {
			logrus.Errorf("publish without stream key %+v", publishRequest)
			return
		}
		publishRequest.Data = conn

		if !rts.streamLocks.Acquire(publishRequest.StreamKey) {
			logrus.WithField("stream_key", publishRequest.StreamKey).Error("stream already live, rejecting duplicate publish")
			return
		}
		defer rts.streamLocks.Release(publishRequest.StreamKey)

		if err := rts.Authorize(publishRequest.StreamKey); err != nil {
			logrus.WithField("stream_key", publishRequest.StreamKey).Errorf("Cannot publish %+v", err)
			return
		}
		defer rts.HandlePublishDone(publishRequest.StreamKey)

		if !rts.rtmpMutex.TryLock(8 * time.Second) {
			logrus.WithField("stream_key", publishRequest.StreamKey).Error("publish slots exhausted")
			return
		}
		defer rts.rtmpMutex.Unlock()

		logrus.WithField("stream_key", publishRequest.StreamKey).Infof("Streaming started %+v", publishRequest)
		err = rts.HandlePublish(publishRequest)
		logrus.WithField("stream_key", publishRequest.StreamKey).Infof("Streaming stopped %+v, %+v", publishRequest, err)
		if err != nil {
			logrus.WithField("stream_key", publishRequest.StreamKey).Errorf(" %+v", err)
			return
		}
	}
	rts.server = rtmpServer

	return rts, nil
}

func (rts *RtmpServer) HealthCheck(duration time.Duration) bool {
	if !rts.rtmpMutex.TryLock(duration) {
		return false
	}
	rts.rtmpMutex.Unlock()
	return true
}

// IsPublishing reports whether a session currently holds the key.
func (rts *RtmpServer) IsPublishing(streamKey string) bool {
	return rts.streamLocks.Held(streamKey)
}

func (rts *RtmpServer) parsePublishUrl(publishUrl string) (map[string]string, error) {
	result := make(map[string]string)
	match := rts.config.publishRegexp.FindStringSubmatch(publishUrl)
	indexes := rts.config.publishRegexp.SubexpNames()
	if len(indexes) != len(match) {
		return nil, errors.Errorf("bad publish request %+v", publishUrl)
	}
	for i, name := range indexes {
		if i != 0 && name != "" {
			result[name] = match[i]
		}
	}
	logrus.Debugf("rtmp paths: %+v", result)
	return result, nil
}

func (rts *RtmpServer) parsePublishRequest(url string) (*PublishRequest, error) {
	result := &PublishRequest{}
	vars, err := rts.parsePublishUrl(url)
	if err != nil {
		return result, errors.Wrap(err, "cannot parse publish url")
	}

	if err := mapstructure.Decode(vars, &result); err != nil {
		return result, errors.Wrap(err, "cannot decode publish url")
	}
	result.Params = vars
	logrus.Debugf("Publish parse %+v", result)
	return result, nil
}

func (rts *RtmpServer) Listen() error {
	listener, err := rts.server.Listen()
	if err != nil {
		return errors.Wrap(err, "cannot listen rtmp")
	}
	rts.rtmpListener = listener
	return nil
}

func (rts *RtmpServer) Serve() error {
	err := rts.server.Serve(rts.rtmpListener)
	if err != nil {
		return errors.Wrap(err, "cannot serve rtmp")
	}
	return nil
}

func (rts *RtmpServer) Stop() error {
	if rts.rtmpListener == nil {
		return nil
	}
	return rts.rtmpListener.Close()
}
