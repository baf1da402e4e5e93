package usagelog

import (
	"context"
	"sync"

	"github.com/corelink-ai/provider-gateway/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Worker drains usage records onto a sink from a bounded buffer. Recording
// is fire-and-forget: a full buffer drops the record with a warning rather
// than stalling the request path.
type Worker struct {
	sink     Sink
	tasks    chan *models.UsageRecord
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

func NewWorker(sink Sink, poolSize, bufferSize int) *Worker {
	if poolSize <= 0 {
		poolSize = 4
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	w := &Worker{
		sink:    sink,
		tasks:   make(chan *models.UsageRecord, bufferSize),
		stopped: make(chan struct{}),
	}
	for i := 0; i < poolSize; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

// Submit queues one record. Never blocks and never returns an error.
func (w *Worker) Submit(record *models.UsageRecord) {
	select {
	case <-w.stopped:
		fiberlog.Warnf("[%s] usage worker stopped, dropping record", record.RequestID)
	case w.tasks <- record:
	default:
		fiberlog.Warnf("[%s] usage buffer full, dropping record", record.RequestID)
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopped:
			// Drain what is already buffered before exiting.
			for {
				select {
				case record := <-w.tasks:
					w.write(record)
				default:
					return
				}
			}
		case record := <-w.tasks:
			w.write(record)
		}
	}
}

func (w *Worker) write(record *models.UsageRecord) {
	if err := w.sink.Write(context.Background(), record); err != nil {
		fiberlog.Errorf("[%s] failed to write usage record: %v", record.RequestID, err)
	}
}

// Stop shuts the pool down after the buffer drains.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		w.wg.Wait()
	})
}
