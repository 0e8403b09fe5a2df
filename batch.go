package sheetsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Batch is a contiguous run of queue items
type Batch struct {
	Index int
	Items []*QueueItem
}

// ItemError records one failed item of a batch
type ItemError struct {
	ItemID string
	RowKey int
	Class  ErrorClass
	Err    string
}

// BatchResult is the outcome of one batch
type BatchResult struct {
	Index       int
	Created     int
	Updated     int
	Deleted     int
	Succeeded   []*QueueItem
	Errors      []ItemError
	Fatal       error // stops the remaining batches
	Interrupted bool  // ctx ended; unfinished items stay for resume
	Reconciled  int
	Reconcile   error
	Elapsed     time.Duration
}

// Success reports whether every item of the batch succeeded
func (r *BatchResult) Success() bool {
	return len(r.Errors) == 0 && r.Fatal == nil && !r.Interrupted
}

// Summary aggregates the results of ProcessAll
type Summary struct {
	Created           int           `json:"created"`
	Updated           int           `json:"updated"`
	Deleted           int           `json:"deleted"`
	Failed            int           `json:"failed"`
	Processed         int           `json:"processed"`
	Batches           int           `json:"batches"`
	BatchesRun        int           `json:"batches_run"`
	BatchesFailed     int           `json:"batches_failed"`
	ReconcileFailures int           `json:"reconcile_failures"`
	Aborted           bool          `json:"aborted"`
	Interrupted       bool          `json:"interrupted"`
	FatalError        string        `json:"fatal_error,omitempty"`
	Elapsed           time.Duration `json:"elapsed"`

	Err error `json:"-"` // first fatal error
}

// ProgressUpdate is passed to the progress callback after each batch
type ProgressUpdate struct {
	Batch     int
	Batches   int
	Processed int
	Failed    int
	Elapsed   time.Duration
}

// ProcessorOptions wires a BatchProcessor into a session
type ProcessorOptions struct {
	SessionID   string
	DefaultKind ResourceKind
	Checkpoint  func(ctx context.Context) error // called after every status transition
	Sink        EventSink
	Progress    func(ProgressUpdate)
}

// BatchProcessor dispatches queue items one at a time, spaced by the
// inter-call delay, and reconciles each batch's successes together.
type BatchProcessor struct {
	queue      *ExportQueue
	dispatcher Dispatcher
	retry      *RetryManager
	reconciler *StateReconciler
	limiter    *rate.Limiter
	opts       ProcessorOptions

	batchSize    int
	maxBatchSize int
	logger       *slog.Logger
	now          func() time.Time
}

// NewBatchProcessor creates a processor over queue
func NewBatchProcessor(queue *ExportQueue, dispatcher Dispatcher, reconciler *StateReconciler, cfg *Config, opts ProcessorOptions) *BatchProcessor {
	c := cfg.withDefaults()

	limit := rate.Inf
	if c.InterCallDelay > 0 {
		limit = rate.Every(c.InterCallDelay)
	}
	if opts.Sink == nil {
		opts.Sink = EventFunc(func(Event) {})
	}

	return &BatchProcessor{
		queue:        queue,
		dispatcher:   dispatcher,
		retry:        NewRetryManager(&c),
		reconciler:   reconciler,
		limiter:      rate.NewLimiter(limit, 1),
		opts:         opts,
		batchSize:    c.BatchSize,
		maxBatchSize: c.MaxBatchSize,
		logger:       c.Logger,
		now:          c.Now,
	}
}

// BatchSizeFor picks a batch size for total items: small runs get small
// batches so progress shows early, bulk runs get larger ones.
func (p *BatchProcessor) BatchSizeFor(total int) int {
	size := p.batchSize
	if size <= 0 {
		switch {
		case total <= 20:
			size = 5
		case total <= 100:
			size = 10
		default:
			size = 25
		}
	}
	if size > p.maxBatchSize {
		size = p.maxBatchSize
	}
	return size
}

// CreateBatches splits items into contiguous batches in queue order. A
// size of zero or less uses BatchSizeFor.
func (p *BatchProcessor) CreateBatches(items []*QueueItem, size int) []Batch {
	if size <= 0 {
		size = p.BatchSizeFor(len(items))
	}
	if size > p.maxBatchSize {
		size = p.maxBatchSize
	}
	var batches []Batch
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, Batch{Index: len(batches), Items: items[start:end]})
	}
	return batches
}

// ProcessAll runs batches in order. A fatal batch error (authentication,
// exhausted rate limit) stops the remaining batches; other errors do not.
func (p *BatchProcessor) ProcessAll(ctx context.Context, batches []Batch, op Operation) *Summary {
	start := p.now()
	summary := &Summary{Batches: len(batches)}
	total := 0
	for _, b := range batches {
		total += len(b.Items)
	}

	for _, b := range batches {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		p.opts.Sink.Emit(Event{
			Type: EventBatchStart, SessionID: p.opts.SessionID, Batch: b.Index, Batches: len(batches),
			Processed: summary.Processed, Failed: summary.Failed, Total: total, Elapsed: p.now().Sub(start),
		})

		res := p.ProcessBatch(ctx, b, op)
		summary.BatchesRun++
		summary.Created += res.Created
		summary.Updated += res.Updated
		summary.Deleted += res.Deleted
		summary.Failed += len(res.Errors)
		summary.Processed += len(res.Succeeded) + len(res.Errors)
		if !res.Success() {
			summary.BatchesFailed++
		}
		if res.Reconcile != nil {
			summary.ReconcileFailures++
		}
		elapsed := p.now().Sub(start)

		p.opts.Sink.Emit(Event{
			Type: EventBatchComplete, SessionID: p.opts.SessionID, Batch: b.Index, Batches: len(batches),
			Processed: summary.Processed, Failed: summary.Failed, Total: total, Elapsed: elapsed,
		})
		if p.opts.Progress != nil {
			p.opts.Progress(ProgressUpdate{
				Batch: b.Index, Batches: len(batches),
				Processed: summary.Processed, Failed: summary.Failed, Elapsed: elapsed,
			})
		}

		if res.Fatal != nil {
			summary.Aborted = true
			summary.Err = res.Fatal
			summary.FatalError = res.Fatal.Error()
			p.logger.Error("aborting run", "batch", b.Index+1, "error", res.Fatal)
			break
		}
		if res.Interrupted {
			summary.Interrupted = true
			break
		}
	}

	summary.Elapsed = p.now().Sub(start)
	return summary
}

// ProcessBatch dispatches each item of b sequentially. op overrides the
// items' own operations unless it is empty or OpMixed.
func (p *BatchProcessor) ProcessBatch(ctx context.Context, b Batch, op Operation) *BatchResult {
	start := p.now()
	res := &BatchResult{Index: b.Index}
	var dispatched []Dispatched

	for _, item := range b.Items {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}

		itemOp := item.Operation
		if op != "" && op != OpMixed {
			itemOp = op
		}
		itemOp = ResolveOperation(itemOp, item.Row)

		if err := p.queue.Transition(item.ID, StatusProcessing, nil); err != nil {
			// already handled by an earlier slice
			p.logger.Debug("skipping item", "item", item.ID, "error", err)
			continue
		}
		p.checkpoint(ctx)

		var result DispatchResult
		call, err := BuildCall(item.Row, itemOp, p.opts.DefaultKind)
		if err != nil {
			result = DispatchResult{Attempts: 0, ErrorKind: ErrorKindFatal, Class: Classify(err), Error: err.Error()}
		} else {
			result = p.retry.Execute(ctx, func(ctx context.Context) (*Response, error) {
				if err := p.limiter.Wait(ctx); err != nil {
					return nil, err
				}
				return p.dispatcher.Dispatch(ctx, call)
			})
		}

		if result.ErrorKind == ErrorKindCanceled {
			// left in processing; RecoverInterrupted picks it up on resume
			res.Interrupted = true
			break
		}

		if result.Success {
			if err := p.queue.Transition(item.ID, StatusCompleted, &result); err != nil {
				p.logger.Error("failed to complete item", "item", item.ID, "error", err)
			}
			res.Succeeded = append(res.Succeeded, item)
			dispatched = append(dispatched, Dispatched{Row: item.Row, Operation: itemOp, RemoteID: result.RemoteID})
			switch itemOp {
			case OpCreate:
				res.Created++
			case OpUpdate:
				res.Updated++
			case OpDelete:
				res.Deleted++
			}
			p.checkpoint(ctx)
			continue
		}

		if err := p.queue.Transition(item.ID, StatusFailed, &result); err != nil {
			p.logger.Error("failed to fail item", "item", item.ID, "error", err)
		}
		res.Errors = append(res.Errors, ItemError{ItemID: item.ID, RowKey: item.Row.Key, Class: result.Class, Err: result.Error})
		p.opts.Sink.Emit(Event{
			Type: EventItemFailed, SessionID: p.opts.SessionID, Batch: b.Index,
			ItemID: item.ID, RowKey: item.Row.Key, Err: result.Error, Elapsed: p.now().Sub(start),
		})
		p.checkpoint(ctx)

		if fatal := fatalError(result); fatal != nil {
			res.Fatal = fatal
			break
		}
	}

	if len(dispatched) > 0 && p.reconciler != nil {
		if err := p.reconciler.ReconcileAfterSuccess(context.WithoutCancel(ctx), dispatched); err != nil {
			res.Reconcile = err
			p.opts.Sink.Emit(Event{
				Type: EventReconcileFailed, SessionID: p.opts.SessionID, Batch: b.Index,
				Processed: len(dispatched), Err: err.Error(), Elapsed: p.now().Sub(start),
			})
		} else {
			res.Reconciled = len(dispatched)
		}
	}

	res.Elapsed = p.now().Sub(start)
	return res
}

// fatalError returns the run-stopping error for result, if any
func fatalError(result DispatchResult) error {
	switch {
	case result.Class == ClassAuth:
		return fmt.Errorf("%w: %s", ErrUnauthorized, result.Error)
	case result.Class == ClassRateLimit && result.ErrorKind == ErrorKindRetryExhausted:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, result.Error)
	}
	return nil
}

func (p *BatchProcessor) checkpoint(ctx context.Context) {
	if p.opts.Checkpoint == nil {
		return
	}
	// persist even when ctx ended mid-item so resume sees the last transition
	if err := p.opts.Checkpoint(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("checkpoint failed", "session", p.opts.SessionID, "error", err)
	}
}
