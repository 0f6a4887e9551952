// Package failover implements the failover controller (C4): it reacts to
// FAILED events from the health detector, selects a promotion target,
// instructs it to become primary, and maintains the override map that the
// request router consults on every produce/consume.
package failover

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event is one append-only failover event log record.
type Event struct {
	FailedNode   string    `json:"failedNode"`
	PromotedNode string    `json:"promotedNode"`
	Timestamp    time.Time `json:"timestamp"`
}

// NodeLister returns the configured broker names in registration order and
// a lookup from name to base URL. The controller walks this list clockwise
// from the failed node's index when choosing a promotion candidate — a
// distinct notion of "clockwise" from the ring's hash positions.
type NodeLister interface {
	GetAllNodeNames() []string
	GetNodeURL(name string) (string, bool)
}

// HealthMarker lets the controller tell the health detector that a FAILED
// node has been promoted away from (FAILED -> FAILED_OVER).
type HealthMarker interface {
	MarkFailedOver(node string)
}

// Controller owns the override map and the failover event log. Every
// mutation happens under mu; readers get a consistent snapshot per call and
// no outbound I/O happens while the lock is held (§5: take lock -> snapshot
// -> release -> do I/O).
type Controller struct {
	mu        sync.RWMutex
	overrides map[string]string
	events    []Event

	nodes  NodeLister
	health HealthMarker
	client *http.Client

	timeout time.Duration

	// serializes OnFailure so two failovers never run concurrently for the
	// same (or any) failed node, per §5's ordering guarantee.
	failureMu sync.Mutex
}

// New creates a Controller. timeout bounds both the candidate health probe
// and the /promote call, both tau per spec.md.
func New(nodes NodeLister, healthMarker HealthMarker, timeout time.Duration) *Controller {
	return &Controller{
		overrides: make(map[string]string),
		nodes:     nodes,
		health:    healthMarker,
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
	}
}

// OnFailure is the callback wired to the health detector's onFailure event.
// It walks the broker list clockwise from failedNode's index, probing each
// candidate's /health; the first responsive candidate is promoted via
// POST /promote. If none responds, the system enters degraded mode for
// that node: no override is added, and the next failure event (e.g. after
// the node flaps again) retries selection from scratch.
func (c *Controller) OnFailure(failedNode string) {
	c.failureMu.Lock()
	defer c.failureMu.Unlock()

	names := c.nodes.GetAllNodeNames()
	idx := indexOf(names, failedNode)
	if idx < 0 {
		log.WithField("node", failedNode).Warn("failover: failed node not found in broker list")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	for i := 1; i <= len(names); i++ {
		candidate := names[(idx+i)%len(names)]
		if candidate == failedNode {
			continue
		}
		url, ok := c.nodes.GetNodeURL(candidate)
		if !ok || !c.probeHealthy(ctx, url) {
			continue
		}

		if !c.promote(ctx, url) {
			log.WithFields(log.Fields{"failed": failedNode, "candidate": candidate}).
				Warn("failover: promote call failed; override not inserted, will retry on next failure event")
			return
		}

		c.mu.Lock()
		c.overrides[failedNode] = candidate
		c.events = append(c.events, Event{FailedNode: failedNode, PromotedNode: candidate, Timestamp: time.Now().UTC()})
		c.mu.Unlock()

		c.health.MarkFailedOver(failedNode)

		log.WithFields(log.Fields{"failed": failedNode, "promoted": candidate}).
			Warn("failover: promoted replacement primary")
		return
	}

	log.WithField("node", failedNode).Error("failover: no responsive candidate found; node is degraded")
}

func (c *Controller) probeHealthy(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Controller) promote(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/promote", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Resolve returns the effective node for a raw node name: override[raw] if
// present, else raw itself (I2).
func (c *Controller) Resolve(rawNode string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if effective, ok := c.overrides[rawNode]; ok {
		return effective
	}
	return rawNode
}

// Overrides returns a snapshot of the override map.
func (c *Controller) Overrides() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.overrides))
	for k, v := range c.overrides {
		out[k] = v
	}
	return out
}

// Active reports whether any override has ever been recorded.
func (c *Controller) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.overrides) > 0
}

// Events returns a snapshot of the failover event log.
func (c *Controller) Events() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// MarshalStatus implements the /failover/status response body shape.
func (c *Controller) MarshalStatus() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(struct {
		TotalFailovers  int               `json:"totalFailovers"`
		ActivePromotion map[string]string `json:"activePromotions"`
		Events          []Event           `json:"events"`
	}{
		TotalFailovers:  len(c.events),
		ActivePromotion: c.overrides,
		Events:          c.events,
	})
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
