package ipc

import (
	"io"
	"sync"
)

// writeBuffer is a per-direction write queue protected by its own mutex,
// independent of the registry mutex. The queue has no size limit: pending
// grows by one frame per enqueue until the drain goroutine has written it
// out, and enqueue never blocks on a full queue. Producer goroutines append
// frames; a single drain goroutine blocks on a condition variable whenever
// the queue is empty and wakes only once more data is enqueued.
type writeBuffer struct {
	mu      sync.Mutex
	pending [][]byte
	cond    *sync.Cond
	closed  bool
}

func newWriteBuffer() *writeBuffer {
	wb := &writeBuffer{}
	wb.cond = sync.NewCond(&wb.mu)
	return wb
}

// enqueue appends a frame and wakes the drain goroutine.
func (wb *writeBuffer) enqueue(frame []byte) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	if wb.closed {
		return
	}
	wb.pending = append(wb.pending, frame)
	wb.cond.Signal()
}

// closeBuffer wakes any blocked drain goroutine so it can exit.
func (wb *writeBuffer) closeBuffer() {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	wb.closed = true
	wb.cond.Broadcast()
}

// drain runs in its own goroutine per direction, writing queued frames to w
// until the buffer is closed and drained.
func (wb *writeBuffer) drain(w io.Writer, onErr func(error)) {
	for {
		wb.mu.Lock()
		for len(wb.pending) == 0 && !wb.closed {
			wb.cond.Wait()
		}
		if len(wb.pending) == 0 && wb.closed {
			wb.mu.Unlock()
			return
		}
		batch := wb.pending
		wb.pending = nil
		wb.mu.Unlock()

		for _, frame := range batch {
			if _, err := w.Write(frame); err != nil {
				if onErr != nil {
					onErr(err)
				}
				return
			}
		}
	}
}
