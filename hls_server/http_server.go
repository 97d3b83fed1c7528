package hls_server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/d3f4ultt/d3f4ult.tv/vsync"
)

func LogHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logrus.Debugf("req: %+v,  map: %+v", r.RequestURI, mux.Vars(r))
		next.ServeHTTP(w, r)
	})
}

type HttpResponse struct {
	HttpStatus int
	Reader     io.ReadCloser
}

// LiveHls serves HLS playback from the media root plus the status and key
// management API consumed by the dashboard. All handlers are injected by the
// worker.
type LiveHls struct {
	httpServer *http.Server
	httpRouter *mux.Router

	config LiveHlsConfig

	HandleLivePlaylist func(*LivePlaylistRequest) (HttpResponse, error)
	HandleLiveChunk    func(*LiveChunkRequest) (HttpResponse, error)

	HandleStreamStatus  func(*StreamStatusRequest) (HttpResponse, error)
	HandleListStreams   func() (HttpResponse, error)
	HandleServerConfig  func() (HttpResponse, error)
	HandleGenerateKey   func() (HttpResponse, error)
	HandleListKeys      func() (HttpResponse, error)
	HandleDeactivateKey func(*DeactivateKeyRequest) (HttpResponse, error)

	HandleRtmpHealth func(duration time.Duration) bool

	livePlaylistMutex *vsync.Semaphore
	liveChunkMutex    *vsync.Semaphore
	apiMutex          *vsync.Semaphore
}

func parseRequest(req interface{}, r *http.Request) error {
	vars := mux.Vars(r)
	if err := mapstructure.WeakDecode(vars, req); err != nil {
		return errors.Wrapf(err, "error parsing %+v, on %+v", req, vars)
	}
	logrus.Debugf("Request parse %+v", req)
	return nil
}

func (lhls *LiveHls) handleReqTyped(req interface{}) (HttpResponse, error) {
	switch v := req.(type) {
	case *LivePlaylistRequest:
		return func() (HttpResponse, error) {
			if !lhls.livePlaylistMutex.TryLock(time.Second * 15) {
				return HttpResponse{HttpStatus: http.StatusRequestTimeout}, errors.New("timeout")
			}
			defer lhls.livePlaylistMutex.Unlock()

			return lhls.HandleLivePlaylist(req.(*LivePlaylistRequest))
		}()
	case *LiveChunkRequest:
		return func() (HttpResponse, error) {
			if !lhls.liveChunkMutex.TryLock(time.Second * 10) {
				return HttpResponse{HttpStatus: http.StatusRequestTimeout}, errors.New("timeout")
			}
			defer lhls.liveChunkMutex.Unlock()

			return lhls.HandleLiveChunk(req.(*LiveChunkRequest))
		}()
	case *StreamStatusRequest:
		return func() (HttpResponse, error) {
			if !lhls.apiMutex.TryLock(time.Second * 5) {
				return HttpResponse{HttpStatus: http.StatusRequestTimeout}, errors.New("timeout")
			}
			defer lhls.apiMutex.Unlock()

			return lhls.HandleStreamStatus(req.(*StreamStatusRequest))
		}()
	case *DeactivateKeyRequest:
		return func() (HttpResponse, error) {
			if !lhls.apiMutex.TryLock(time.Second * 5) {
				return HttpResponse{HttpStatus: http.StatusRequestTimeout}, errors.New("timeout")
			}
			defer lhls.apiMutex.Unlock()

			return lhls.HandleDeactivateKey(req.(*DeactivateKeyRequest))
		}()
	default:
		return HttpResponse{
			HttpStatus: http.StatusInternalServerError,
			Reader:     nil,
		}, errors.Errorf("unknown type %+v", v)
	}
}

func (lhls *LiveHls) handleReq(req interface{}, w http.ResponseWriter, r *http.Request) error {
	err := parseRequest(req, r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return err
	}

	res, err := lhls.handleReqTyped(req)
	return lhls.writeResponse(w, res, err)
}

func (lhls *LiveHls) writeResponse(w http.ResponseWriter, res HttpResponse, err error) error {
	if err != nil && res.HttpStatus == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return err
	} else if err != nil && res.HttpStatus != 0 {
		w.WriteHeader(res.HttpStatus)
		return err
	}

	w.WriteHeader(res.HttpStatus)
	if res.Reader != nil {
		defer res.Reader.Close()
		_, err = io.Copy(w, res.Reader)
	}
	if err != nil {
		logrus.Errorf("Bad response %+v", res)
		return err
	}

	return nil
}

// handleApi serves the endpoints with no route vars.
func (lhls *LiveHls) handleApi(w http.ResponseWriter, f func() (HttpResponse, error)) {
	if !lhls.apiMutex.TryLock(time.Second * 5) {
		w.WriteHeader(http.StatusRequestTimeout)
		return
	}
	defer lhls.apiMutex.Unlock()

	res, err := f()
	if err != nil {
		logrus.Errorf("api error %+v", err)
	}
	lhls.writeResponse(w, res, err)
}

func NewLiveHls(config LiveHlsConfig) (*LiveHls, error) {
	httpRouter := mux.NewRouter()
	httpRouter.Use(LogHandler)

	lhls := &LiveHls{
		config:            config,
		httpRouter:        httpRouter,
		livePlaylistMutex: vsync.NewSemaphore(50, 300),
		liveChunkMutex:    vsync.NewSemaphore(20, 300),
		apiMutex:          vsync.NewSemaphore(10, 50),
	}

	livePlaylistHandler := func(w http.ResponseWriter, r *http.Request) {
		req := &LivePlaylistRequest{}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		lhls.handleReq(req, w, r)
	}

	liveChunkHandler := func(w http.ResponseWriter, r *http.Request) {
		req := &LiveChunkRequest{}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "video/mp2t")
		lhls.handleReq(req, w, r)
	}

	httpRouter.HandleFunc(lhls.config.HandleLivePlaylistUrl(), livePlaylistHandler).Name("LivePlaylist")
	httpRouter.HandleFunc(lhls.config.HandleLiveChunkUrl(), liveChunkHandler).Name("LiveChunk")

	jsonHandler := func(f func() (HttpResponse, error)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Content-Type", "application/json")
			lhls.handleApi(w, f)
		}
	}

	httpRouter.HandleFunc(lhls.config.HandleListStreamsUrl(), jsonHandler(func() (HttpResponse, error) {
		return lhls.HandleListStreams()
	})).Methods("GET").Name("ListStreams")

	httpRouter.HandleFunc(lhls.config.HandleStreamStatusUrl(), func(w http.ResponseWriter, r *http.Request) {
		req := &StreamStatusRequest{}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		lhls.handleReq(req, w, r)
	}).Methods("GET").Name("StreamStatus")

	httpRouter.HandleFunc(lhls.config.HandleServerConfigUrl(), jsonHandler(func() (HttpResponse, error) {
		return lhls.HandleServerConfig()
	})).Methods("GET").Name("ServerConfig")

	httpRouter.HandleFunc(lhls.config.HandleKeysUrl(), jsonHandler(func() (HttpResponse, error) {
		return lhls.HandleGenerateKey()
	})).Methods("POST").Name("GenerateKey")

	httpRouter.HandleFunc(lhls.config.HandleKeysUrl(), jsonHandler(func() (HttpResponse, error) {
		return lhls.HandleListKeys()
	})).Methods("GET").Name("ListKeys")

	httpRouter.HandleFunc(lhls.config.HandleKeyUrl(), func(w http.ResponseWriter, r *http.Request) {
		req := &DeactivateKeyRequest{}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		lhls.handleReq(req, w, r)
	}).Methods("DELETE").Name("DeactivateKey")

	pprofr := httpRouter.PathPrefix("/debug/pprof").Subrouter()
	pprofr.HandleFunc("/", pprof.Index)
	pprofr.HandleFunc("/cmdline", pprof.Cmdline)
	pprofr.HandleFunc("/symbol", pprof.Symbol)
	pprofr.HandleFunc("/trace", pprof.Trace)

	profile := pprofr.PathPrefix("/profile").Subrouter()
	profile.HandleFunc("", pprof.Profile)
	profile.Handle("/goroutine", pprof.Handler("goroutine"))
	profile.Handle("/heap", pprof.Handler("heap"))
	profile.Handle("/block", pprof.Handler("block"))
	profile.Handle("/mutex", pprof.Handler("mutex"))

	httpRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !lhls.livePlaylistMutex.TryLock(4 * time.Second) {
			w.WriteHeader(http.StatusRequestTimeout)
			w.Write([]byte("livePlaylistMutex"))
			return
		}
		lhls.livePlaylistMutex.Unlock()

		if !lhls.liveChunkMutex.TryLock(4 * time.Second) {
			w.WriteHeader(http.StatusRequestTimeout)
			w.Write([]byte("liveChunkMutex"))
			return
		}
		lhls.liveChunkMutex.Unlock()

		if lhls.HandleRtmpHealth != nil && !lhls.HandleRtmpHealth(10*time.Second) {
			w.WriteHeader(http.StatusRequestTimeout)
			w.Write([]byte("HandleRtmpHealth"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ok"))
	})

	httpRouter.HandleFunc(lhls.config.HandleLivePlayerUrl(), func(w http.ResponseWriter, r *http.Request) {
		req := &LivePlaylistRequest{}
		err := parseRequest(req, r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		player := NewPlayerPage()
		player.Port = config.HttpPort
		player.Application = req.Application
		player.StreamKey = req.StreamKey
		w.WriteHeader(http.StatusOK)
		player.ComposePlayerPage(w)
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", lhls.config.HttpHost, lhls.config.HttpPort),
		Handler:      httpRouter,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 30,
		IdleTimeout:  time.Second * 30,
	}

	lhls.httpServer = httpServer
	return lhls, nil
}

func (lhls *LiveHls) Listen() error {
	go func() {
		err := lhls.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logrus.Panicf("cannot listen and serve http %+v", err)
		}
	}()
	return nil
}

func (lhls *LiveHls) Serve() error {
	return nil
}

func (lhls *LiveHls) Stop() error {
	return lhls.httpServer.Close()
}
