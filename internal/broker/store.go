// Package broker implements the broker-local store (C2): an in-memory,
// keyed store that accepts primary writes, fans them out to replicas, serves
// replica writes from a primary, and answers fetch/health/promote requests.
//
// A single broker process knows nothing about the ring or about other
// brokers' health — it only knows how to store a key locally and, when
// asked, push a copy to a list of replica URLs. All placement and failover
// decisions live in the Coordinator; the broker is a dumb, fast write/read
// target.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Role tags a message entry as having arrived via the primary write path or
// via replication from a primary.
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
)

// Audit actions recorded for every store/replicate/promote side effect.
const (
	ActionStoredAsPrimary = "stored_as_primary"
	ActionStoredAsReplica = "stored_as_replica"
	ActionPromotedPrimary = "promoted_to_primary"
)

// Entry is one broker-local message record.
type Entry struct {
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Role      Role            `json:"role"`
	ReplicaOf string          `json:"replicaOf,omitempty"`
}

// AuditEntry is one append-only audit log record.
type AuditEntry struct {
	Action    string    `json:"action"`
	Key       string    `json:"key,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReplicationResult reports the outcome of replicating one key to one
// replica URL.
type ReplicationResult struct {
	Node   string `json:"node"`
	Status string `json:"status"` // "success" or "failed"
	Error  string `json:"error,omitempty"`
}

// Store is the broker-local in-memory key store. Safe for concurrent use.
// There is no durable write-ahead log or on-disk persistence by design
// (spec Non-goals): all state lives in the data map and is lost on exit.
type Store struct {
	mu    sync.RWMutex
	name  string
	data  map[string]Entry
	audit []AuditEntry

	client     *http.Client
	promoted   bool
	promotedAt time.Time
}

// New creates an empty broker store for the named node.
func New(name string) *Store {
	return &Store{
		name:   name,
		data:   make(map[string]Entry),
		client: &http.Client{Timeout: 2 * time.Second},
	}
}

// Store writes key/payload locally with role=primary (the PRIMARY path),
// then sequentially replicates to each URL in replicateTo, in list order
// (§5 ordering guarantee). A replication failure does not roll back the
// local write and does not fail the overall call — it is recorded as a
// degraded ReplicationResult.
func (s *Store) Store(ctx context.Context, key string, payload json.RawMessage, replicateTo []string) ([]ReplicationResult, error) {
	if key == "" {
		return nil, fmt.Errorf("broker: store: key is required")
	}

	s.mu.Lock()
	s.data[key] = Entry{Payload: payload, Timestamp: time.Now().UTC(), Role: RolePrimary}
	s.audit = append(s.audit, AuditEntry{Action: ActionStoredAsPrimary, Key: key, Timestamp: time.Now().UTC()})
	s.mu.Unlock()

	results := make([]ReplicationResult, 0, len(replicateTo))
	for _, url := range replicateTo {
		if err := s.replicateOne(ctx, url, key, payload); err != nil {
			log.WithFields(log.Fields{"node": s.name, "replica": url, "key": key, "err": err}).
				Warn("replication to replica failed; produce is not rolled back")
			results = append(results, ReplicationResult{Node: url, Status: "failed", Error: err.Error()})
			continue
		}
		results = append(results, ReplicationResult{Node: url, Status: "success"})
	}

	return results, nil
}

// replicateOne POSTs /replicate to a single replica URL.
func (s *Store) replicateOne(ctx context.Context, url, key string, payload json.RawMessage) error {
	body, err := json.Marshal(map[string]any{
		"key":         key,
		"payload":     payload,
		"primaryNode": s.name,
	})
	if err != nil {
		return fmt.Errorf("marshal replicate body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/replicate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build replicate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("replicate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("replica returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Replicate writes key/payload locally with role=replica (the REPLICA
// path), recording which node it was replicated from.
func (s *Store) Replicate(key string, payload json.RawMessage, primaryNode string) error {
	if key == "" {
		return fmt.Errorf("broker: replicate: key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = Entry{Payload: payload, Timestamp: time.Now().UTC(), Role: RoleReplica, ReplicaOf: primaryNode}
	s.audit = append(s.audit, AuditEntry{Action: ActionStoredAsReplica, Key: key, Timestamp: time.Now().UTC()})
	return nil
}

// Fetch returns the stored entry for key, or ok=false if absent.
func (s *Store) Fetch(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	return e, ok
}

// Promote marks this broker as a writable primary and appends an audit
// record. Existing replica entries are untouched; the node simply starts
// accepting primary writes that the Coordinator routes to it.
func (s *Store) Promote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoted = true
	s.promotedAt = time.Now().UTC()
	s.audit = append(s.audit, AuditEntry{Action: ActionPromotedPrimary, Timestamp: s.promotedAt})
}

// IsPromoted reports whether Promote has ever been called on this store.
func (s *Store) IsPromoted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.promoted
}

// Health returns the key count held locally, for the liveness probe
// endpoint.
func (s *Store) Health() (keyCount int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Messages returns a snapshot of every entry currently held.
func (s *Store) Messages() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Log returns the keys stored as primary and as replica, in the order the
// audit log recorded them (a key may appear more than once if it was
// overwritten).
func (s *Store) Log() (storedAsPrimary, storedAsReplica []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.audit {
		switch a.Action {
		case ActionStoredAsPrimary:
			storedAsPrimary = append(storedAsPrimary, a.Key)
		case ActionStoredAsReplica:
			storedAsReplica = append(storedAsReplica, a.Key)
		}
	}
	return storedAsPrimary, storedAsReplica
}

// Name returns the broker's configured node identifier.
func (s *Store) Name() string {
	return s.name
}
