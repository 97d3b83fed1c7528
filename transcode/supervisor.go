package transcode

import (
	"bufio"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/d3f4ultt/d3f4ult.tv/hlsfs"
)

var ErrAlreadyTranscoding = errors.New("stream already has a transcoding worker")

// Process is one owned ffmpeg worker. The RTMP feed is written into Input()
// as FLV; ffmpeg copies the video track, transcodes audio to AAC and writes a
// sliding-window HLS playlist into the stream's output directory.
type Process struct {
	StreamKey string

	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
}

func (p *Process) Input() io.WriteCloser {
	return p.stdin
}

// Done is closed once the worker process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Supervisor owns at most one worker process per stream key.
type Supervisor struct {
	config  Config
	storage *hlsfs.Filesystem

	l     sync.Mutex
	procs map[string]*Process
}

func NewSupervisor(config Config, storage *hlsfs.Filesystem) *Supervisor {
	return &Supervisor{
		config:  config,
		storage: storage,
		procs:   make(map[string]*Process),
	}
}

func (s *Supervisor) buildArgs(playlistPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "flv",
		"-i", "pipe:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", strconv.Itoa(s.config.SegmentDuration),
		"-hls_list_size", strconv.Itoa(s.config.SegmentWindow),
		"-hls_flags", "delete_segments",
		playlistPath,
	}
}

// Start spawns a worker for streamKey. It does not wait for the worker to
// become ready; a spawn failure is returned to the caller and nothing is
// retried.
func (s *Supervisor) Start(streamKey string) (*Process, error) {
	s.l.Lock()
	defer s.l.Unlock()

	if _, running := s.procs[streamKey]; running {
		return nil, errors.Wrapf(ErrAlreadyTranscoding, "stream key %s", streamKey)
	}

	playlistPath, err := s.storage.EnsureStreamDir(streamKey)
	if err != nil {
		return nil, errors.Wrap(err, "cannot prepare output dir")
	}

	cmd := exec.Command(s.config.FfmpegBinary, s.buildArgs(playlistPath)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cannot open worker stdin")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cannot open worker stderr")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "cannot spawn %s", s.config.FfmpegBinary)
	}

	p := &Process{
		StreamKey: streamKey,
		cmd:       cmd,
		stdin:     stdin,
		done:      make(chan struct{}),
	}
	s.procs[streamKey] = p

	logrus.WithField("stream_key", streamKey).Infof("transcoding worker started pid=%d", cmd.Process.Pid)

	go s.relayDiagnostics(p, stderr)
	go s.watch(p)

	return p, nil
}

func (s *Supervisor) relayDiagnostics(p *Process, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logrus.WithField("stream_key", p.StreamKey).Debugf("ffmpeg: %s", scanner.Text())
	}
}

// watch reaps the worker. The map entry is removed only if it still points at
// this exact process, so an exit racing a Stop (or a later restart under the
// same key) is not double-counted.
func (s *Supervisor) watch(p *Process) {
	err := p.cmd.Wait()
	close(p.done)

	if err != nil {
		logrus.WithField("stream_key", p.StreamKey).Errorf("transcoding worker exited %+v", err)
	} else {
		logrus.WithField("stream_key", p.StreamKey).Info("transcoding worker exited cleanly")
	}

	s.l.Lock()
	if s.procs[p.StreamKey] == p {
		delete(s.procs, p.StreamKey)
	}
	s.l.Unlock()
}

// Stop releases the stream's worker: the handle is dropped from the map, the
// feed is closed and SIGTERM is sent. Exit is not awaited.
func (s *Supervisor) Stop(streamKey string) {
	s.l.Lock()
	p, ok := s.procs[streamKey]
	if ok {
		delete(s.procs, streamKey)
	}
	s.l.Unlock()
	if !ok {
		return
	}
	s.terminate(p)
}

func (s *Supervisor) terminate(p *Process) {
	p.stdin.Close()
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logrus.WithField("stream_key", p.StreamKey).Debugf("cannot signal worker %+v", err)
	}
}

func (s *Supervisor) Running(streamKey string) bool {
	s.l.Lock()
	defer s.l.Unlock()
	_, ok := s.procs[streamKey]
	return ok
}

func (s *Supervisor) Count() int {
	s.l.Lock()
	defer s.l.Unlock()
	return len(s.procs)
}

// Shutdown terminates every owned worker so none outlives the supervisor.
func (s *Supervisor) Shutdown() {
	s.l.Lock()
	running := make([]*Process, 0, len(s.procs))
	for _, p := range s.procs {
		running = append(running, p)
	}
	s.procs = make(map[string]*Process)
	s.l.Unlock()

	for _, p := range running {
		logrus.WithField("stream_key", p.StreamKey).Info("terminating transcoding worker")
		s.terminate(p)
	}
}
