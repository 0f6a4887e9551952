// Package coordinator implements the request router (C5): it consults the
// ring and the failover override map on every produce/consume, orchestrates
// synchronous replication fan-out, and serves the Coordinator's HTTP
// surface (spec.md §6).
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"ringmq/internal/failover"
	"ringmq/internal/health"
	"ringmq/internal/ring"
)

// BrokerConfig is one entry of the BROKER_NODES configuration.
type BrokerConfig struct {
	Name string
	URL  string
}

// Coordinator owns the Ring, the override map (via the failover
// Controller), and the health Detector, and routes produce/consume
// requests across them. The Ring is immutable after construction;
// overrides and health state are owned by their respective components,
// each internally synchronized, so no lock here spans an outbound I/O call.
type Coordinator struct {
	ring              *ring.Ring
	health            *health.Detector
	failover          *failover.Controller
	replicationFactor int
	timeout           time.Duration
	client            *http.Client
	metrics           *Metrics
}

// Config bundles the construction-time parameters, mirroring spec.md §6's
// configuration variables (BROKER_NODES, REPLICATION_FACTOR) — the
// Coordinator itself never parses environment variables; that parsing is
// an external collaborator's job (cmd/coordinator).
type Config struct {
	Brokers           []BrokerConfig
	ReplicationFactor int
	VirtualNodes      int
	ProbeInterval     time.Duration
	ProbeTimeout      time.Duration
	FailureThreshold  int
}

// New builds a Coordinator: it populates the ring from Brokers, wires the
// health detector's failure callback to the failover controller, and
// starts nothing — callers invoke Run to start the probe loop.
func New(cfg Config) *Coordinator {
	r := ring.New(cfg.VirtualNodes)
	for _, b := range cfg.Brokers {
		r.AddNode(b.Name, b.URL)
	}

	h := health.New(
		health.WithInterval(cfg.ProbeInterval),
		health.WithTimeout(cfg.ProbeTimeout),
		health.WithThreshold(cfg.FailureThreshold),
	)

	fc := failover.New(r, h, cfg.ProbeTimeout)
	metrics := NewMetrics()
	h.OnFailure(func(node string) {
		before := len(fc.Events())
		fc.OnFailure(node)
		if len(fc.Events()) > before {
			metrics.RecordFailoverEvent()
		}
	})

	c := &Coordinator{
		ring:              r,
		health:            h,
		failover:          fc,
		replicationFactor: cfg.ReplicationFactor,
		timeout:           cfg.ProbeTimeout,
		client:            &http.Client{Timeout: cfg.ProbeTimeout},
		metrics:           metrics,
	}
	return c
}

// Run starts the health detector's periodic probe loop. It blocks until
// ctx is canceled; callers run it in a goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	c.health.Start(ctx, func() map[string]string {
		out := make(map[string]string)
		for _, name := range c.ring.GetAllNodeNames() {
			if url, ok := c.ring.GetNodeURL(name); ok {
				out[name] = url
			}
		}
		return out
	})
}

// Shutdown stops the health detector. No new failover events are emitted
// once it returns.
func (c *Coordinator) Shutdown() {
	c.health.Stop()
}

// effectivePlacement resolves the raw ring placement for key through the
// override map, per I2: the effective primary is override[rawPrimary] if
// present, else rawPrimary; replicas are the raw replicas mapped through
// override, with the effective primary removed and duplicates collapsed.
func (c *Coordinator) effectivePlacement(key string) (rawPrimary, effPrimary string, effReplicas []string, keyHash uint32, err error) {
	rawPrimary, rawReplicas, keyHash, err := c.ring.GetNodesForKey(key, c.replicationFactor)
	if err != nil {
		return "", "", nil, 0, err
	}

	effPrimary = c.failover.Resolve(rawPrimary)

	seen := map[string]bool{effPrimary: true}
	for _, r := range rawReplicas {
		resolved := c.failover.Resolve(r)
		if seen[resolved] {
			continue
		}
		seen[resolved] = true
		effReplicas = append(effReplicas, resolved)
	}

	return rawPrimary, effPrimary, effReplicas, keyHash, nil
}

// ProduceResult is returned by Produce on success.
type ProduceResult struct {
	Key                string       `json:"key"`
	KeyHash            uint32       `json:"keyHash"`
	Primary            string       `json:"primary"`
	Replicas           []string     `json:"replicas"`
	ReplicationResults []ReplResult `json:"replicationResults"`
}

// ReplResult mirrors broker.ReplicationResult, decoded from the primary's
// /store response.
type ReplResult struct {
	Node   string `json:"node"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RoutingError signals an empty ring (a fatal programmer error surfaced to
// the caller as a 500, per spec.md §7b) rather than a client or network
// fault.
type RoutingError struct{ err error }

func (e *RoutingError) Error() string { return e.err.Error() }
func (e *RoutingError) Unwrap() error { return e.err }

// PrimaryUnreachableError signals produce's primary-side network failure
// (503, per spec.md §7c).
type PrimaryUnreachableError struct{ err error }

func (e *PrimaryUnreachableError) Error() string { return e.err.Error() }
func (e *PrimaryUnreachableError) Unwrap() error { return e.err }

// Produce implements spec.md §4.5's produce steps 1-6.
func (c *Coordinator) Produce(ctx context.Context, key string, payload json.RawMessage) (*ProduceResult, error) {
	_, primary, replicas, keyHash, err := c.effectivePlacement(key)
	if err != nil {
		c.metrics.produceTotal.WithLabelValues("error").Inc()
		return nil, &RoutingError{err}
	}

	replicaURLs := make([]string, 0, len(replicas))
	for _, name := range replicas {
		if url, ok := c.ring.GetNodeURL(name); ok {
			replicaURLs = append(replicaURLs, url)
		}
	}

	primaryURL, ok := c.ring.GetNodeURL(primary)
	if !ok {
		c.metrics.produceTotal.WithLabelValues("error").Inc()
		return nil, &RoutingError{fmt.Errorf("coordinator: no URL registered for broker %q", primary)}
	}

	results, err := c.postStore(ctx, primaryURL, key, payload, replicaURLs)
	if err != nil {
		c.metrics.produceTotal.WithLabelValues("unreachable").Inc()
		log.WithFields(log.Fields{"key": key, "primary": primary, "err": err}).
			Error("produce: primary unreachable")
		return nil, &PrimaryUnreachableError{err}
	}

	for _, r := range results {
		status := "success"
		if r.Status != "success" {
			status = "failed"
		}
		c.metrics.replicationResultTotal.WithLabelValues(status).Inc()
	}

	c.metrics.produceTotal.WithLabelValues("success").Inc()
	return &ProduceResult{
		Key:                key,
		KeyHash:            keyHash,
		Primary:            primary,
		Replicas:           replicas,
		ReplicationResults: results,
	}, nil
}

func (c *Coordinator) postStore(ctx context.Context, primaryURL, key string, payload json.RawMessage, replicateTo []string) ([]ReplResult, error) {
	body, err := json.Marshal(map[string]any{
		"key":         key,
		"payload":     payload,
		"replicateTo": replicateTo,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal store body: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, primaryURL+"/store", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("primary unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("primary returned HTTP %d", resp.StatusCode)
	}

	var decoded struct {
		ReplicationResults []ReplResult `json:"replicationResults"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode store response: %w", err)
	}
	return decoded.ReplicationResults, nil
}

// ConsumeResult is returned by Consume on success.
type ConsumeResult struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Role      string          `json:"role"`
	ServedBy  string          `json:"servedBy"`
	Source    string          `json:"source"`
	Failover  bool            `json:"failover"`
}

// ErrNotFound signals spec.md §7e: every candidate failed or returned
// not-found.
var ErrNotFound = fmt.Errorf("coordinator: key not found on any candidate")

// Consume implements spec.md §4.5's consume steps 1-3.
func (c *Coordinator) Consume(ctx context.Context, key string) (*ConsumeResult, error) {
	rawPrimary, primary, replicas, _, err := c.effectivePlacement(key)
	if err != nil {
		return nil, &RoutingError{err}
	}

	candidates := append([]string{primary}, replicas...)
	failoverActive := c.failover.Active()

	for _, name := range candidates {
		url, ok := c.ring.GetNodeURL(name)
		if !ok {
			continue
		}

		entry, ok := c.fetchFrom(ctx, url, key)
		if !ok {
			continue
		}

		source := "replica"
		if name == rawPrimary {
			source = "primary"
		}

		c.metrics.consumeTotal.WithLabelValues("success").Inc()
		return &ConsumeResult{
			Key:       key,
			Payload:   entry.Payload,
			Timestamp: entry.Timestamp,
			Role:      entry.Role,
			ServedBy:  name,
			Source:    source,
			Failover:  failoverActive,
		}, nil
	}

	c.metrics.consumeTotal.WithLabelValues("not_found").Inc()
	return nil, ErrNotFound
}

type fetchedEntry struct {
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Role      string          `json:"role"`
}

func (c *Coordinator) fetchFrom(ctx context.Context, url, key string) (fetchedEntry, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url+"/fetch/"+key, nil)
	if err != nil {
		return fetchedEntry{}, false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fetchedEntry{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fetchedEntry{}, false
	}

	var entry fetchedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return fetchedEntry{}, false
	}
	return entry, true
}

// RingSnapshot backs GET /ring.
func (c *Coordinator) RingSnapshot() map[string]any {
	names := c.ring.GetAllNodeNames()
	nodes := make(map[string]any, len(names))
	totalVnodes := 0
	for _, name := range names {
		url, _ := c.ring.GetNodeURL(name)
		coverage := c.ring.RingCoverage(name)
		totalVnodes += coverage
		nodes[name] = map[string]any{
			"url":              url,
			"virtualNodeCount": c.ring.VirtualNodeCount(),
			"ringCoverage":     coverage,
		}
	}
	return map[string]any{
		"totalNodes":        len(names),
		"virtualNodeCount":  c.ring.VirtualNodeCount(),
		"totalVirtualNodes": totalVnodes,
		"hashSpace":         "2^32",
		"nodes":             nodes,
	}
}

// RouteSnapshot backs GET /route/:key.
func (c *Coordinator) RouteSnapshot(key string) (map[string]any, error) {
	_, primary, replicas, keyHash, err := c.effectivePlacement(key)
	if err != nil {
		return nil, &RoutingError{err}
	}

	primaryURL, _ := c.ring.GetNodeURL(primary)
	replicaURLs := make([]string, 0, len(replicas))
	for _, r := range replicas {
		if url, ok := c.ring.GetNodeURL(r); ok {
			replicaURLs = append(replicaURLs, url)
		}
	}

	return map[string]any{
		"key":            key,
		"keyHash":        keyHash,
		"primary":        primary,
		"primaryUrl":     primaryURL,
		"replicas":       replicas,
		"replicaUrls":    replicaURLs,
		"failoverActive": c.failover.Active(),
	}, nil
}

// HealthNodesSnapshot backs GET /health/nodes.
func (c *Coordinator) HealthNodesSnapshot() map[string]health.Record {
	return c.health.Snapshot()
}

// FailoverStatus backs GET /failover/status.
func (c *Coordinator) FailoverStatus() ([]byte, error) {
	return c.failover.MarshalStatus()
}

// Metrics exposes the coordinator's Prometheus registry for the /metrics
// handler.
func (c *Coordinator) Metrics() *Metrics {
	return c.metrics
}
