package searchindex

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"callsync/internal/metrics"
)

var ErrOutboxClosed = errors.New("search index outbox closed")

// Failure is one document the indexer rejected.
type Failure struct {
	RecordingID uint64
	SessionID   string
	Err         error
	At          time.Time
}

type OutboxOptions struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	// OnFailure is called from the failure observer goroutine.
	OnFailure func(Failure)
}

type OutboxStats struct {
	Enqueued   uint64 `json:"enqueued"`
	Dispatched uint64 `json:"dispatched"`
	Failed     uint64 `json:"failed"`
	Dropped    uint64 `json:"dropped"`
	Pending    int    `json:"pending"`
}

// Outbox decouples the sync loop from the search index. Enqueue never
// blocks; a full queue drops the document and counts it. Indexer failures go
// to a separate failure channel and never reach the caller.
type Outbox struct {
	indexer   Indexer
	logger    *zap.Logger
	timeout   time.Duration
	workers   int
	onFailure func(Failure)

	queue    chan Document
	failures chan Failure

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
	obsDone chan struct{}

	enqueued   atomic.Uint64
	dispatched atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
}

func NewOutbox(indexer Indexer, opts OutboxOptions, logger *zap.Logger) *Outbox {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Outbox{
		indexer:   indexer,
		logger:    logger,
		timeout:   opts.Timeout,
		workers:   opts.Workers,
		onFailure: opts.OnFailure,
		queue:     make(chan Document, opts.QueueSize),
		failures:  make(chan Failure, 64),
		obsDone:   make(chan struct{}),
	}
}

// Start launches the workers and the failure observer. Index calls derive
// their deadline from ctx.
func (o *Outbox) Start(ctx context.Context) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started || o.closed {
		return
	}
	o.started = true
	go o.observe()
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.work(ctx)
	}
}

// Enqueue reports whether doc was accepted.
func (o *Outbox) Enqueue(doc Document) bool {
	if o == nil {
		return false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return false
	}
	select {
	case o.queue <- doc:
		o.enqueued.Add(1)
		metrics.IndexQueueDepth.Set(float64(len(o.queue)))
		return true
	default:
		o.dropped.Add(1)
		metrics.IndexDispatch.WithLabelValues("dropped").Inc()
		return false
	}
}

// EnqueueWait blocks until doc is queued, ctx ends or the outbox closes.
// Rebuilds use it so nothing is dropped.
func (o *Outbox) EnqueueWait(ctx context.Context, doc Document) error {
	if o == nil {
		return ErrOutboxClosed
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrOutboxClosed
	}
	select {
	case o.queue <- doc:
		o.enqueued.Add(1)
		metrics.IndexQueueDepth.Set(float64(len(o.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting documents, drains the queue and waits for the
// workers and the failure observer.
func (o *Outbox) Close() {
	if o == nil {
		return
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	started := o.started
	close(o.queue)
	o.mu.Unlock()

	if !started {
		return
	}
	o.wg.Wait()
	close(o.failures)
	<-o.obsDone
}

func (o *Outbox) Stats() OutboxStats {
	if o == nil {
		return OutboxStats{}
	}
	return OutboxStats{
		Enqueued:   o.enqueued.Load(),
		Dispatched: o.dispatched.Load(),
		Failed:     o.failed.Load(),
		Dropped:    o.dropped.Load(),
		Pending:    len(o.queue),
	}
}

func (o *Outbox) work(ctx context.Context) {
	defer o.wg.Done()
	for doc := range o.queue {
		metrics.IndexQueueDepth.Set(float64(len(o.queue)))
		err := o.dispatch(ctx, doc)
		if err == nil {
			o.dispatched.Add(1)
			metrics.IndexDispatch.WithLabelValues("ok").Inc()
			continue
		}
		o.failed.Add(1)
		metrics.IndexDispatch.WithLabelValues("error").Inc()
		f := Failure{RecordingID: doc.RecordingID, SessionID: doc.SessionID, Err: err, At: time.Now().UTC()}
		select {
		case o.failures <- f:
		default:
			if o.logger != nil {
				o.logger.Warn("search index failure channel full", zap.Uint64("recording_id", f.RecordingID), zap.Error(err))
			}
		}
	}
}

func (o *Outbox) dispatch(ctx context.Context, doc Document) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New("search indexer panicked")
		}
	}()
	if o.indexer == nil {
		return errors.New("search indexer not configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.indexer.IndexRecording(callCtx, doc)
}

func (o *Outbox) observe() {
	defer close(o.obsDone)
	for f := range o.failures {
		if o.logger != nil {
			o.logger.Warn("search index dispatch failed",
				zap.Uint64("recording_id", f.RecordingID),
				zap.String("session_id", f.SessionID),
				zap.Error(f.Err),
			)
		}
		if o.onFailure != nil {
			o.onFailure(f)
		}
	}
}
