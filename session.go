package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	sessionKeyPrefix = "sheetsync/session/"
	activeKeyPrefix  = "sheetsync/active/"
)

// Progress is how far a session has advanced
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// SessionStats accumulates outcomes over every slice of a session
type SessionStats struct {
	Created           int `json:"created"`
	Updated           int `json:"updated"`
	Deleted           int `json:"deleted"`
	Failed            int `json:"failed"`
	Unchanged         int `json:"unchanged"`
	Skipped           int `json:"skipped"`
	ReconcileFailures int `json:"reconcile_failures"`
}

// Session is a persisted, resumable run
type Session struct {
	ID          string       `json:"id"`
	DatasetID   string       `json:"dataset_id"`
	Operation   Operation    `json:"operation"`
	DefaultKind ResourceKind `json:"default_kind,omitempty"`
	Queue       *ExportQueue `json:"queue"`
	Progress    Progress     `json:"progress"`
	Stats       SessionStats `json:"stats"`
	LastError   string       `json:"last_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewSession creates a session with a fresh id
func NewSession(datasetID string, queue *ExportQueue, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		DatasetID: datasetID,
		Operation: OpMixed,
		Queue:     queue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SessionStore persists sessions through a KV
type SessionStore struct {
	kv     KV
	policy PriorityPolicy
	now    func() time.Time
}

// NewSessionStore creates a store. Loaded queues use policy and now.
func NewSessionStore(kv KV, policy PriorityPolicy, now func() time.Time) *SessionStore {
	if now == nil {
		now = time.Now
	}
	return &SessionStore{kv: kv, policy: policy, now: now}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func activeKey(datasetID string) string { return activeKeyPrefix + datasetID }

// Save writes the whole session
func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = s.now()
	stats := sess.Queue.Stats()
	sess.Progress = Progress{Current: stats.Completed + stats.Failed, Total: stats.Total()}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	if err := s.kv.Set(ctx, sessionKey(sess.ID), string(data)); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", sess.ID, err)
	}
	return nil
}

// Load reads a session. A queue that fails integrity validation yields a
// *CorruptionError wrapping ErrQueueCorrupted.
func (s *SessionStore) Load(ctx context.Context, id string) (*Session, error) {
	raw, ok, err := s.kv.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	sess := &Session{Queue: NewExportQueue(s.policy, s.now)}
	if err := json.Unmarshal([]byte(raw), sess); err != nil {
		return nil, &CorruptionError{SessionID: id, Violations: []Violation{{Index: -1, Reason: err.Error()}}}
	}
	if sess.Queue == nil {
		return nil, &CorruptionError{SessionID: id, Violations: []Violation{{Index: -1, Reason: "missing queue"}}}
	}
	if violations := sess.Queue.ValidateIntegrity(); len(violations) > 0 {
		return nil, &CorruptionError{SessionID: id, Violations: violations}
	}
	return sess, nil
}

// Delete removes a session and, if it is the dataset's active one, the
// active marker.
func (s *SessionStore) Delete(ctx context.Context, id, datasetID string) error {
	if datasetID != "" {
		active, err := s.Active(ctx, datasetID)
		if err != nil {
			return err
		}
		if active == id {
			if err := s.kv.Delete(ctx, activeKey(datasetID)); err != nil {
				return fmt.Errorf("failed to clear active session: %w", err)
			}
		}
	}
	if err := s.kv.Delete(ctx, sessionKey(id)); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// Active returns the dataset's active session id, or ""
func (s *SessionStore) Active(ctx context.Context, datasetID string) (string, error) {
	id, ok, err := s.kv.Get(ctx, activeKey(datasetID))
	if err != nil {
		return "", fmt.Errorf("failed to read active session: %w", err)
	}
	if !ok {
		return "", nil
	}
	return id, nil
}

// SetActive marks id as the dataset's active session
func (s *SessionStore) SetActive(ctx context.Context, datasetID, id string) error {
	if err := s.kv.Set(ctx, activeKey(datasetID), id); err != nil {
		return fmt.Errorf("failed to mark active session: %w", err)
	}
	return nil
}

// ClearActive removes the dataset's active marker if it points at id. The
// session itself stays readable.
func (s *SessionStore) ClearActive(ctx context.Context, datasetID, id string) error {
	active, err := s.Active(ctx, datasetID)
	if err != nil {
		return err
	}
	if active != id {
		return nil
	}
	if err := s.kv.Delete(ctx, activeKey(datasetID)); err != nil {
		return fmt.Errorf("failed to clear active session: %w", err)
	}
	return nil
}

// IsCorrupted reports whether err came from integrity validation
func IsCorrupted(err error) bool {
	return errors.Is(err, ErrQueueCorrupted)
}
