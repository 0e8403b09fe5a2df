package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RunStatus is the terminal state of one Run or Resume call
type RunStatus string

const (
	RunNoChanges   RunStatus = "no_changes"
	RunPrepared    RunStatus = "prepared"
	RunCompleted   RunStatus = "completed"
	RunPartial     RunStatus = "partial"     // failed items remain; resume with RetryFailed
	RunAborted     RunStatus = "aborted"     // fatal error; pending items remain
	RunInterrupted RunStatus = "interrupted" // ctx ended; resume continues
	RunFailed      RunStatus = "failed"      // nothing was dispatched
)

// Options controls a Run
type Options struct {
	Where         []Condition          // restricts candidate rows
	Tier          PriorityTier         // default tier (Normal when unset)
	Tiers         map[int]PriorityTier // explicit tier per row key
	DefaultKind   ResourceKind         // used for rows without a _kind column
	Delete        []int                // row keys whose remote resource should be deleted
	SourceContext string
	PrepareOnly   bool // persist the session without dispatching
	Progress      func(ProgressUpdate)
}

// ResumeOptions controls a Resume
type ResumeOptions struct {
	RetryFailed bool // move failed items back to pending first
	Progress    func(ProgressUpdate)
}

// RunResult is always returned, even alongside an error. Counts are
// cumulative over every slice of the session.
type RunResult struct {
	SessionID  string
	Status     RunStatus
	ChangeSet  *ChangeSet // nil for Resume
	Created    int
	Updated    int
	Deleted    int
	Failed     int
	Unchanged  int
	Skipped    int
	Pending    int
	FatalError string
	Summary    *Summary
	Elapsed    time.Duration
}

// SessionSummary describes a persisted session
type SessionSummary struct {
	SessionID string
	DatasetID string
	Progress  Progress
	Stats     SessionStats
	Queue     QueueStats
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Orchestrator runs the detect → queue → dispatch → reconcile pipeline for
// one dataset. Only one Run or Resume executes at a time per Orchestrator,
// and the active-session marker refuses a second session per dataset.
type Orchestrator struct {
	config     Config
	datasetID  string
	store      Adapter
	dispatcher Dispatcher
	sessions   *SessionStore
	detector   *ChangeDetector
	reconciler *StateReconciler
	sink       EventSink
	logger     *slog.Logger
	mu         sync.Mutex
}

// New creates an orchestrator with the given adapter, dispatcher and
// session storage. A nil config uses DefaultConfig().
func New(datasetID string, store Adapter, dispatcher Dispatcher, kv KV, config *Config) *Orchestrator {
	c := config.withDefaults()
	return &Orchestrator{
		config:     c,
		datasetID:  datasetID,
		store:      store,
		dispatcher: dispatcher,
		sessions:   NewSessionStore(kv, c.Priority, c.Now),
		detector:   NewChangeDetector(c.Logger),
		reconciler: NewStateReconciler(store, &c),
		sink:       LogSink{Logger: c.Logger},
		logger:     c.Logger.With("dataset", datasetID),
	}
}

// SetEventSink replaces the default slog sink
func (o *Orchestrator) SetEventSink(sink EventSink) {
	o.sink = sink
}

// DatasetID returns the dataset this orchestrator syncs
func (o *Orchestrator) DatasetID() string {
	return o.datasetID
}

// ActiveSession returns the id of the dataset's unfinished session, or ""
func (o *Orchestrator) ActiveSession(ctx context.Context) (string, error) {
	return o.sessions.Active(ctx, o.datasetID)
}

// Detect loads the rows and classifies them without side effects
func (o *Orchestrator) Detect(ctx context.Context, where []Condition) (*ChangeSet, error) {
	records, err := o.loadFromAdapter(ctx)
	if err != nil {
		return nil, err
	}
	if err := ValidateConditions(where); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return o.detector.Classify(FilterRecords(records, where)), nil
}

// Run detects changes and, when there are any, queues and dispatches
// them in a new session. Nothing is allocated or checked remotely when
// the dataset has no changes.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*RunResult, error) {
	start := o.config.Now()
	result := &RunResult{Status: RunFailed}

	if !o.mu.TryLock() {
		return o.fail(result, start, ErrSessionActive)
	}
	defer o.mu.Unlock()

	records, err := o.loadFromAdapter(ctx)
	if err != nil {
		return o.fail(result, start, err)
	}
	if err := ValidateConditions(opts.Where); err != nil {
		return o.fail(result, start, fmt.Errorf("invalid filter: %w", err))
	}
	cs := o.detector.Classify(FilterRecords(records, opts.Where))
	deletes := o.selectDeletes(records, opts.Delete, cs)

	result.ChangeSet = cs
	result.Unchanged = len(cs.Unchanged)
	result.Skipped = len(cs.Skipped)

	if cs.Empty() && len(deletes) == 0 {
		result.Status = RunNoChanges
		result.Elapsed = o.config.Now().Sub(start)
		o.logger.Info("no changes", "unchanged", result.Unchanged, "skipped", result.Skipped)
		return result, nil
	}

	active, err := o.sessions.Active(ctx, o.datasetID)
	if err != nil {
		return o.fail(result, start, err)
	}
	if active != "" {
		result.SessionID = active
		return o.fail(result, start, fmt.Errorf("%w: %s", ErrSessionActive, active))
	}
	if err := o.checkReadiness(ctx); err != nil {
		return o.fail(result, start, err)
	}

	queue := NewExportQueue(o.config.Priority, o.config.Now)
	queue.Enqueue(o.buildItems(cs, deletes, opts), opts.Tier)

	sess := NewSession(o.datasetID, queue, o.config.Now())
	sess.DefaultKind = opts.DefaultKind
	sess.Stats.Unchanged = len(cs.Unchanged)
	sess.Stats.Skipped = len(cs.Skipped)
	result.SessionID = sess.ID

	if err := o.sessions.Save(ctx, sess); err != nil {
		return o.fail(result, start, err)
	}
	if err := o.sessions.SetActive(ctx, o.datasetID, sess.ID); err != nil {
		return o.fail(result, start, err)
	}
	o.logger.Info("session created", "session", sess.ID,
		"create", len(cs.ToCreate), "update", len(cs.ToUpdate), "delete", len(deletes))

	if opts.PrepareOnly {
		o.fillResult(result, sess)
		result.Status = RunPrepared
		result.Elapsed = o.config.Now().Sub(start)
		return result, nil
	}
	return o.process(ctx, sess, result, start, opts.Progress)
}

// Resume continues a persisted session from its first pending item. A
// session whose queue fails validation is discarded.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string, opts ResumeOptions) (*RunResult, error) {
	start := o.config.Now()
	result := &RunResult{SessionID: sessionID, Status: RunFailed}

	if !o.mu.TryLock() {
		return o.fail(result, start, ErrSessionActive)
	}
	defer o.mu.Unlock()

	sess, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		if IsCorrupted(err) {
			o.logger.Error("discarding corrupted session", "session", sessionID, "error", err)
			if derr := o.sessions.Delete(ctx, sessionID, o.datasetID); derr != nil {
				err = errors.Join(err, derr)
			}
		}
		return o.fail(result, start, err)
	}
	if sess.DatasetID != o.datasetID {
		return o.fail(result, start, fmt.Errorf("session %s belongs to dataset %q", sessionID, sess.DatasetID))
	}

	if n := sess.Queue.RecoverInterrupted(); n > 0 {
		o.logger.Warn("recovered interrupted items", "session", sessionID, "count", n)
	}
	if opts.RetryFailed {
		if n := sess.Queue.ResetFailed(); n > 0 {
			o.logger.Info("retrying failed items", "session", sessionID, "count", n)
		}
	}

	if sess.Queue.Stats().Pending > 0 {
		// a closed session (only failed items left) takes the marker back
		active, err := o.sessions.Active(ctx, o.datasetID)
		if err != nil {
			return o.fail(result, start, err)
		}
		switch active {
		case sessionID:
		case "":
			if err := o.sessions.SetActive(ctx, o.datasetID, sessionID); err != nil {
				return o.fail(result, start, err)
			}
		default:
			o.fillResult(result, sess)
			return o.fail(result, start, fmt.Errorf("%w: %s", ErrSessionActive, active))
		}
		if err := o.checkReadiness(ctx); err != nil {
			o.fillResult(result, sess)
			return o.fail(result, start, err)
		}
	}
	return o.process(ctx, sess, result, start, opts.Progress)
}

// Cleanup deletes a session's persisted state
func (o *Orchestrator) Cleanup(ctx context.Context, sessionID string) error {
	return o.sessions.Delete(ctx, sessionID, o.datasetID)
}

// Summary reports on a persisted session
func (o *Orchestrator) Summary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	sess, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionSummary{
		SessionID: sess.ID,
		DatasetID: sess.DatasetID,
		Progress:  sess.Progress,
		Stats:     sess.Stats,
		Queue:     sess.Queue.Stats(),
		LastError: sess.LastError,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}, nil
}

func (o *Orchestrator) process(ctx context.Context, sess *Session, result *RunResult, start time.Time, progress func(ProgressUpdate)) (*RunResult, error) {
	if n := sess.Queue.PromoteAged(o.config.Priority.Aging); n > 0 {
		o.logger.Info("promoted aged items", "session", sess.ID, "count", n)
	}

	proc := NewBatchProcessor(sess.Queue, o.dispatcher, o.reconciler, &o.config, ProcessorOptions{
		SessionID:   sess.ID,
		DefaultKind: sess.DefaultKind,
		Checkpoint:  func(ctx context.Context) error { return o.sessions.Save(ctx, sess) },
		Sink:        o.sink,
		Progress:    progress,
	})
	summary := proc.ProcessAll(ctx, proc.CreateBatches(sess.Queue.Pending(), 0), sess.Operation)

	sess.Stats.Created += summary.Created
	sess.Stats.Updated += summary.Updated
	sess.Stats.Deleted += summary.Deleted
	sess.Stats.ReconcileFailures += summary.ReconcileFailures
	if summary.FatalError != "" {
		sess.LastError = summary.FatalError
	}
	qs := sess.Queue.Stats()
	sess.Stats.Failed = qs.Failed

	result.Summary = summary
	result.FatalError = summary.FatalError
	switch {
	case summary.Aborted:
		result.Status = RunAborted
	case summary.Interrupted:
		result.Status = RunInterrupted
	case qs.Pending > 0 || qs.Processing > 0 || qs.Failed > 0:
		result.Status = RunPartial
	default:
		result.Status = RunCompleted
	}

	// persist without ctx so an interrupted slice still leaves a resumable session
	persistCtx := context.WithoutCancel(ctx)
	if result.Status == RunCompleted {
		if err := o.sessions.Delete(persistCtx, sess.ID, o.datasetID); err != nil {
			o.logger.Warn("failed to clean up session", "session", sess.ID, "error", err)
		}
	} else if err := o.sessions.Save(persistCtx, sess); err != nil {
		o.logger.Error("failed to persist session", "session", sess.ID, "error", err)
	} else if qs.Pending == 0 && qs.Processing == 0 {
		// Only failed items remain. Release the dataset so later runs pick up
		// new edits; the session stays for Summary and Resume with RetryFailed.
		if err := o.sessions.ClearActive(persistCtx, o.datasetID, sess.ID); err != nil {
			o.logger.Warn("failed to release session", "session", sess.ID, "error", err)
		} else {
			o.logger.Info("session closed with failed items", "session", sess.ID, "failed", qs.Failed)
		}
	}

	o.fillResult(result, sess)
	result.Elapsed = o.config.Now().Sub(start)
	o.sink.Emit(Event{
		Type: EventSummary, SessionID: sess.ID, Batch: -1, Batches: summary.Batches,
		Processed: summary.Processed, Failed: qs.Failed, Total: qs.Total(),
		Elapsed: result.Elapsed, Err: summary.FatalError,
	})

	if summary.Aborted {
		return result, summary.Err
	}
	return result, nil
}

func (o *Orchestrator) fillResult(result *RunResult, sess *Session) {
	qs := sess.Queue.Stats()
	result.SessionID = sess.ID
	result.Created = sess.Stats.Created
	result.Updated = sess.Stats.Updated
	result.Deleted = sess.Stats.Deleted
	result.Failed = qs.Failed
	result.Unchanged = sess.Stats.Unchanged
	result.Skipped = sess.Stats.Skipped
	result.Pending = qs.Pending + qs.Processing
}

func (o *Orchestrator) fail(result *RunResult, start time.Time, err error) (*RunResult, error) {
	result.Status = RunFailed
	if result.FatalError == "" {
		result.FatalError = err.Error()
	}
	result.Elapsed = o.config.Now().Sub(start)
	o.logger.Error("sync failed", "session", result.SessionID, "error", err)
	return result, err
}

func (o *Orchestrator) buildItems(cs *ChangeSet, deletes []*Record, opts Options) []*QueueItem {
	items := make([]*QueueItem, 0, cs.Changed()+len(deletes))
	add := func(op Operation, r *Record) {
		// snapshot: later edits to the store must not leak into what is sent
		item := &QueueItem{Operation: op, Row: r.Clone(), SourceContext: opts.SourceContext}
		if tier, ok := opts.Tiers[r.Key]; ok && tier != 0 {
			item = NewQueueItem(op, r.Clone(), opts.SourceContext, tier)
		}
		items = append(items, item)
	}
	for _, r := range cs.ToCreate {
		add(OpCreate, r)
	}
	for _, r := range cs.ToUpdate {
		add(OpUpdate, r)
	}
	for _, r := range deletes {
		add(OpDelete, r)
	}
	return items
}

// checkReadiness verifies connectivity, credentials and quota headroom
func (o *Orchestrator) checkReadiness(ctx context.Context) error {
	r, err := o.dispatcher.Readiness(ctx)
	if err != nil {
		return fmt.Errorf("readiness check failed: %w", err)
	}
	switch {
	case !r.Connected:
		return fmt.Errorf("%w: remote unreachable", ErrNotReady)
	case !r.Authorized:
		return fmt.Errorf("%w: credentials rejected", ErrUnauthorized)
	}
	if remaining := r.QuotaRemaining(); remaining >= 0 && remaining < o.config.MinQuotaHeadroom {
		return fmt.Errorf("%w: %d of %d calls left", ErrQuotaExceeded, remaining, r.QuotaLimit)
	}
	return nil
}

// loadFromAdapter loads data from the adaptor with retry logic
func (o *Orchestrator) loadFromAdapter(ctx context.Context) ([]*Record, error) {
	var records []*Record
	var err error

	for i := 0; i <= o.config.MaxRetries; i++ {
		records, _, err = o.store.Load(ctx)
		if err == nil {
			return records, nil
		}

		if i < o.config.MaxRetries {
			// Exponential backoff with reasonable limits
			backoff := time.Duration(1<<uint(i)) * 100 * time.Millisecond
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
			if serr := o.config.Sleep(ctx, backoff); serr != nil {
				return nil, fmt.Errorf("failed to load rows: %w", serr)
			}
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", o.config.MaxRetries, err)
}

// selectDeletes picks the rows to delete and drops them from the create
// and update sets. Rows without a remote id cannot be deleted.
func (o *Orchestrator) selectDeletes(records []*Record, keys []int, cs *ChangeSet) []*Record {
	if len(keys) == 0 {
		return nil
	}
	want := make(map[int]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	skipped := make(map[int]bool, len(cs.Skipped))
	for _, s := range cs.Skipped {
		skipped[s.Record.Key] = true
	}
	var out []*Record
	for _, r := range records {
		if !want[r.Key] {
			continue
		}
		if r.ID() == "" {
			if skipped[r.Key] {
				continue
			}
			reason := fmt.Sprintf("row %d cannot be deleted without %q", r.Key, ColumnID)
			o.logger.Warn("skipping row", "row", r.Key, "reason", reason)
			cs.Skipped = append(cs.Skipped, SkippedRow{Record: r, Reason: reason})
			continue
		}
		out = append(out, r)
	}
	cs.ToCreate = withoutKeys(cs.ToCreate, want)
	cs.ToUpdate = withoutKeys(cs.ToUpdate, want)
	cs.Unchanged = withoutKeys(cs.Unchanged, want)
	return out
}

func withoutKeys(records []*Record, keys map[int]bool) []*Record {
	out := records[:0]
	for _, r := range records {
		if !keys[r.Key] {
			out = append(out, r)
		}
	}
	return out
}
