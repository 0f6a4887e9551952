package failover

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNodes struct {
	mu    sync.Mutex
	names []string
	urls  map[string]string
}

func (f *fakeNodes) GetAllNodeNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

func (f *fakeNodes) GetNodeURL(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.urls[name]
	return u, ok
}

type fakeHealth struct {
	mu         sync.Mutex
	failedOver []string
}

func (f *fakeHealth) MarkFailedOver(node string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedOver = append(f.failedOver, node)
}

func newStubBroker(healthy bool, promoteOK bool) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	mux.HandleFunc("/promote", func(w http.ResponseWriter, r *http.Request) {
		if promoteOK {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	return httptest.NewServer(mux)
}

func TestOnFailure_PromotesFirstResponsiveCandidate(t *testing.T) {
	deadPrimary := newStubBroker(false, true)
	defer deadPrimary.Close()
	candidate := newStubBroker(true, true)
	defer candidate.Close()

	nodes := &fakeNodes{
		names: []string{"node-a", "node-b", "node-c"},
		urls: map[string]string{
			"node-a": deadPrimary.URL,
			"node-b": candidate.URL,
			"node-c": "http://unused",
		},
	}
	hm := &fakeHealth{}
	c := New(nodes, hm, 500*time.Millisecond)

	c.OnFailure("node-a")

	assert.Equal(t, "node-b", c.Resolve("node-a"))
	assert.True(t, c.Active())
	assert.Equal(t, []string{"node-a"}, hm.failedOver)

	events := c.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "node-a", events[0].FailedNode)
	assert.Equal(t, "node-b", events[0].PromotedNode)
}

func TestOnFailure_SkipsUnresponsiveCandidates(t *testing.T) {
	deadPrimary := newStubBroker(false, true)
	defer deadPrimary.Close()
	deadCandidate := newStubBroker(false, true)
	defer deadCandidate.Close()
	liveCandidate := newStubBroker(true, true)
	defer liveCandidate.Close()

	nodes := &fakeNodes{
		names: []string{"node-a", "node-b", "node-c"},
		urls: map[string]string{
			"node-a": deadPrimary.URL,
			"node-b": deadCandidate.URL,
			"node-c": liveCandidate.URL,
		},
	}
	c := New(nodes, &fakeHealth{}, 500*time.Millisecond)

	c.OnFailure("node-a")

	assert.Equal(t, "node-c", c.Resolve("node-a"))
}

func TestOnFailure_NoResponsiveCandidateStaysDegraded(t *testing.T) {
	deadPrimary := newStubBroker(false, true)
	defer deadPrimary.Close()
	deadCandidate := newStubBroker(false, true)
	defer deadCandidate.Close()

	nodes := &fakeNodes{
		names: []string{"node-a", "node-b"},
		urls: map[string]string{
			"node-a": deadPrimary.URL,
			"node-b": deadCandidate.URL,
		},
	}
	c := New(nodes, &fakeHealth{}, 500*time.Millisecond)

	c.OnFailure("node-a")

	assert.Equal(t, "node-a", c.Resolve("node-a"), "no override should be inserted")
	assert.False(t, c.Active())
	assert.Empty(t, c.Events())
}

func TestOnFailure_PromoteFailureDoesNotInsertOverride(t *testing.T) {
	deadPrimary := newStubBroker(false, true)
	defer deadPrimary.Close()
	badCandidate := newStubBroker(true, false)
	defer badCandidate.Close()

	nodes := &fakeNodes{
		names: []string{"node-a", "node-b"},
		urls: map[string]string{
			"node-a": deadPrimary.URL,
			"node-b": badCandidate.URL,
		},
	}
	c := New(nodes, &fakeHealth{}, 500*time.Millisecond)

	c.OnFailure("node-a")

	assert.Equal(t, "node-a", c.Resolve("node-a"))
	assert.False(t, c.Active())
}

func TestRecoveryDoesNotRemoveOverride(t *testing.T) {
	deadPrimary := newStubBroker(false, true)
	defer deadPrimary.Close()
	candidate := newStubBroker(true, true)
	defer candidate.Close()

	nodes := &fakeNodes{
		names: []string{"node-a", "node-b"},
		urls:  map[string]string{"node-a": deadPrimary.URL, "node-b": candidate.URL},
	}
	c := New(nodes, &fakeHealth{}, 500*time.Millisecond)
	c.OnFailure("node-a")
	require.True(t, c.Active())

	// onRecovery is a no-op on the failover controller by design — it has
	// no handler for recovery events at all, since recovery is wired only
	// to the health detector's own state transition.
	assert.Equal(t, "node-b", c.Resolve("node-a"))
}
