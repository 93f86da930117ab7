package ipc

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// Spec describes how to launch one worker subprocess.
type Spec struct {
	BinaryPath       string
	LogTags          []string // repeatable --logTags=...
	LogLevel         string
	RTCMinPort       int
	RTCMaxPort       int
	DTLSCertFile     string
	DTLSKeyFile      string
	EmbeddedReExec   bool // re-exec the current binary with a mode flag instead of BinaryPath
	EmbeddedModeFlag string
}

func (s Spec) args() []string {
	var args []string
	for _, tag := range s.LogTags {
		args = append(args, "--logTags="+tag)
	}
	if s.LogLevel != "" {
		args = append(args, "--logLevel="+s.LogLevel)
	}
	if s.RTCMinPort != 0 {
		args = append(args, fmt.Sprintf("--rtcMinPort=%d", s.RTCMinPort))
	}
	if s.RTCMaxPort != 0 {
		args = append(args, fmt.Sprintf("--rtcMaxPort=%d", s.RTCMaxPort))
	}
	if s.DTLSCertFile != "" {
		args = append(args, "--dtlsCertificateFile="+s.DTLSCertFile)
	}
	if s.DTLSKeyFile != "" {
		args = append(args, "--dtlsPrivateKeyFile="+s.DTLSKeyFile)
	}
	return args
}

// MsgHandler is invoked with each complete message-channel frame.
type MsgHandler func(frame []byte)

// PayloadHandler is invoked with each complete payload-channel frame.
type PayloadHandler func(frame []byte)

// ClosedHandler fires once the worker subprocess has exited, before any
// pending RPC waiters are woken.
type ClosedHandler func(err error)

// Adapter owns one worker subprocess and its four pipes.
type Adapter struct {
	WorkerID uint64

	cmd *exec.Cmd

	msgWriter     *writeBuffer
	payloadWriter *writeBuffer

	onMsg     MsgHandler
	onPayload PayloadHandler
	onClosed  ClosedHandler

	log *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// Spawn starts the worker subprocess wired to four pipes: the child's fds
// 3 (msg-in), 4 (msg-out), 5 (payload-in), 6 (payload-out). The parent's
// ends are the inverse: we write to msg-in/payload-in and read from
// msg-out/payload-out.
func Spawn(workerID uint64, spec Spec, onMsg MsgHandler, onPayload PayloadHandler, onClosed ClosedHandler, log *zap.Logger) (*Adapter, error) {
	if log == nil {
		log = zap.NewNop()
	}

	msgInR, msgInW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("msg-in pipe: %w", err)
	}
	msgOutR, msgOutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("msg-out pipe: %w", err)
	}
	payloadInR, payloadInW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("payload-in pipe: %w", err)
	}
	payloadOutR, payloadOutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("payload-out pipe: %w", err)
	}

	binary := spec.BinaryPath
	args := spec.args()
	if spec.EmbeddedReExec {
		binary, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve embedded executable: %w", err)
		}
		args = append([]string{spec.EmbeddedModeFlag}, args...)
	}

	cmd := exec.Command(binary, args...)
	// Child fd 3,4,5,6 map to ExtraFiles[0..3]; the child's 3=msg-in (read
	// end of msgInR/msgInW pair from the child's perspective is msgInR),
	// 4=msg-out (write end msgOutW), 5=payload-in (payloadInR),
	// 6=payload-out (payloadOutW).
	cmd.ExtraFiles = []*os.File{msgInR, msgOutW, payloadInR, payloadOutW}
	cmd.Stderr = nil
	cmd.Stdout = nil

	if err := cmd.Start(); err != nil {
		msgInR.Close()
		msgInW.Close()
		msgOutR.Close()
		msgOutW.Close()
		payloadInR.Close()
		payloadInW.Close()
		payloadOutR.Close()
		payloadOutW.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}
	// Parent doesn't need the child-owned ends once the child has inherited them.
	msgInR.Close()
	msgOutW.Close()
	payloadInR.Close()
	payloadOutW.Close()

	a := &Adapter{
		WorkerID:      workerID,
		cmd:           cmd,
		msgWriter:     newWriteBuffer(),
		payloadWriter: newWriteBuffer(),
		onMsg:         onMsg,
		onPayload:     onPayload,
		onClosed:      onClosed,
		log:           log,
		closed:        make(chan struct{}),
	}

	go a.msgWriter.drain(msgInW, func(err error) { a.fail(fmt.Errorf("msg write: %w", err)) })
	go a.payloadWriter.drain(payloadInW, func(err error) { a.fail(fmt.Errorf("payload write: %w", err)) })
	go a.readLoop(msgOutR, onMsg, "msg")
	go a.readLoop(payloadOutR, onPayload, "payload")
	go a.waitLoop()

	return a, nil
}

func (a *Adapter) readLoop(r io.ReadCloser, handle func(frame []byte), direction string) {
	defer r.Close()
	fr := &frameReader{}
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			frames := fr.Feed(buf[:n], func(badLen uint32) {
				a.log.Warn("dropping oversize frame",
					zap.Uint64("worker_id", a.WorkerID), zap.String("direction", direction), zap.Uint32("len", badLen))
			})
			for _, frame := range frames {
				if handle != nil {
					handle(frame)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (a *Adapter) waitLoop() {
	err := a.cmd.Wait()
	a.fail(err)
}

// fail runs the close sequence exactly once: fires onClosed, unblocks
// writers.
func (a *Adapter) fail(err error) {
	a.closeOnce.Do(func() {
		close(a.closed)
		a.msgWriter.closeBuffer()
		a.payloadWriter.closeBuffer()
		if a.onClosed != nil {
			a.onClosed(err)
		}
	})
}

// SendMsg enqueues a framed message for the msg channel.
func (a *Adapter) SendMsg(payload []byte) {
	a.msgWriter.enqueue(EncodeFrame(payload))
}

// SendPayload enqueues a framed chunk for the payload channel.
func (a *Adapter) SendPayload(payload []byte) {
	a.payloadWriter.enqueue(EncodeFrame(payload))
}

// Closed reports whether the worker subprocess has exited.
func (a *Adapter) Closed() <-chan struct{} { return a.closed }

// Kill terminates the subprocess (used on process-wide teardown).
func (a *Adapter) Kill() error {
	if a.cmd.Process == nil {
		return nil
	}
	return a.cmd.Process.Kill()
}
