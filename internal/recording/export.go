package recording

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wirow-io/wirow-server-sub001/internal/mediagraph"
	"github.com/wirow-io/wirow-server-sub001/internal/rtpcaps"
)

const exportStopTimeout = 30 * time.Second

// keyframeRequestDelay is how long a resumed video export waits before
// asking the producer for a keyframe, giving the subprocess time to finish
// starting up and the consumer time to unpause on the worker side.
const keyframeRequestDelay = 1 * time.Second

// Export wraps one producer's auxiliary plain transport + paused consumer
// (mediagraph.Export) with the media-processing subprocess that turns its
// RTP stream into a file on disk, fed the synthesized SDP on stdin.
type Export struct {
	g       *mediagraph.Graph
	mg      *mediagraph.Export
	path    string
	roomCID string
	userID  string
	kind    rtpcaps.Kind
	port    int
	log     *zap.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// ExportPath is the on-disk output path this export writes to.
func (e *Export) ExportPath() string { return e.path }

// CloseOnPause reports whether pausing the underlying consumer should close
// this export outright rather than just suspend the subprocess.
func (e *Export) CloseOnPause() bool { return e.mg.CloseOnPause() }

// Base exposes the underlying mediagraph resource for cascade/close calls.
func (e *Export) Base() uint64 { return e.mg.Base.ID }

// newProducerExport allocates a loopback UDP port, creates the auxiliary
// plain transport + paused consumer pair through the graph, and wires a
// media-processing subprocess fed the resulting SDP once the pair is
// connected. Output is written to
// baseDir/<uuidDir>/<relativeMs>-<userID>-<a|v>.webm, where uuidDir fans out
// the producer's uuid two hex characters at a time.
func newProducerExport(ctx context.Context, g *mediagraph.Graph, producer *mediagraph.Producer, roomCID, userID, baseDir string, relativeMs int64, closeOnPause bool, log *zap.Logger) (*Export, error) {
	if log == nil {
		log = zap.NewNop()
	}

	port, err := allocateLoopbackPort()
	if err != nil {
		return nil, fmt.Errorf("allocate export port: %w", err)
	}

	dir := filepath.Join(baseDir, fanoutDir(producer.Base.UUID.String()))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("mkdir export dir: %w", err)
	}

	suffix := "a"
	if producer.Kind == rtpcaps.KindVideo {
		suffix = "v"
	}
	path := filepath.Join(dir, fmt.Sprintf("%d-%s-%s.webm", relativeMs, userID, suffix))

	rex := &Export{
		g:       g,
		path:    path,
		roomCID: roomCID,
		userID:  userID,
		kind:    producer.Kind,
		port:    port,
		log:     log,
	}

	hooks := mediagraph.ExportHooks{
		OnStart:  rex.onStart,
		OnPause:  rex.onPause,
		OnResume: rex.onResume,
		OnClose:  func(*mediagraph.Export) { rex.stopSubprocess() },
	}

	mgExport, err := g.CreateExport(ctx, producer, port, closeOnPause, hooks)
	if err != nil {
		return nil, err
	}
	rex.mg = mgExport
	return rex, nil
}

// onStart runs once the export's transport/consumer pair exists; it
// synthesizes the SDP from the consumer's negotiated codec and starts the
// subprocess that reads it on stdin.
func (e *Export) onStart(mgExport *mediagraph.Export) {
	codecs := mgExport.Consumer.RTPParameters.Codecs
	if len(codecs) == 0 {
		e.log.Error("export consumer negotiated no codec, skipping subprocess", zap.String("path", e.path))
		return
	}
	sdpBody, err := buildExportSDP(e.kind, e.port, codecs[0])
	if err != nil {
		e.log.Error("build export sdp", zap.Error(err), zap.String("path", e.path))
		return
	}

	cmd := exec.Command("ffmpeg",
		"-protocol_whitelist", "file,udp,rtp,pipe",
		"-f", "sdp", "-i", "pipe:0",
		"-c", "copy",
		"-f", "webm",
		"-y", e.path,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		e.log.Error("export subprocess stdin pipe", zap.Error(err))
		return
	}
	if err := cmd.Start(); err != nil {
		e.log.Error("start export subprocess", zap.Error(err), zap.String("path", e.path))
		return
	}
	go func() {
		_, _ = stdin.Write(sdpBody)
		_ = stdin.Close()
	}()

	e.mu.Lock()
	e.cmd = cmd
	e.mu.Unlock()
	e.log.Info("recording export started", zap.String("path", e.path), zap.Int("port", e.port))
}

// onPause runs when the underlying producer pauses. An export configured
// with close_on_pause tears itself down outright rather than keep writing a
// file that would just sit frozen on the paused stream; otherwise the
// subprocess is left running and picks back up on its own once RTP resumes.
func (e *Export) onPause(mgExport *mediagraph.Export) {
	if !mgExport.CloseOnPause() {
		return
	}
	go e.g.Close(mgExport.Base.ID)
}

// onResume runs when the underlying producer resumes. It respawns the
// subprocess if onStart never got one running (e.g. a prior start
// failure), then for video
// asks the producer for a keyframe once the decoder has had time to come up.
func (e *Export) onResume(mgExport *mediagraph.Export) {
	e.mu.Lock()
	running := e.cmd != nil
	e.mu.Unlock()
	if !running {
		e.onStart(mgExport)
	}

	if e.kind == rtpcaps.KindVideo {
		consumer := mgExport.Consumer
		time.AfterFunc(keyframeRequestDelay, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := consumer.RequestKeyFrame(ctx); err != nil {
				e.log.Error("request keyframe on export resume", zap.Error(err), zap.String("path", e.path))
			}
		})
	}
}

// stopSubprocess interrupts the subprocess and waits up to exportStopTimeout
// for a clean shutdown (so the muxer flushes its trailer) before killing it.
func (e *Export) stopSubprocess() {
	e.mu.Lock()
	cmd := e.cmd
	e.cmd = nil
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(exportStopTimeout):
		_ = cmd.Process.Kill()
	}
	e.log.Info("recording export stopped", zap.String("path", e.path))
}

// allocateLoopbackPort binds an ephemeral UDP port on loopback, closes the
// listener, and returns the chosen port number for the subprocess and the
// transport's self-connect to race into.
func allocateLoopbackPort() (int, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port, nil
}

// fanoutDir splits a uuid into a two-level hex fan-out directory so no
// single directory accumulates one entry per producer a room has ever had.
func fanoutDir(uuidStr string) string {
	clean := uuidStr
	if len(clean) < 4 {
		return clean
	}
	return filepath.Join(clean[0:2], clean[2:4], clean)
}
