package coordinator

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringmq/internal/broker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testBroker struct {
	name   string
	server *httptest.Server
}

func newTestBroker(name string) *testBroker {
	store := broker.New(name)
	h := broker.NewHandler(store)
	r := gin.New()
	h.Register(r)
	return &testBroker{name: name, server: httptest.NewServer(r)}
}

func newTestCoordinator(t *testing.T, brokers ...*testBroker) *Coordinator {
	t.Helper()
	cfg := Config{
		ReplicationFactor: 2,
		VirtualNodes:      50,
		ProbeInterval:     10 * time.Millisecond,
		ProbeTimeout:      500 * time.Millisecond,
		FailureThreshold:  1,
	}
	for _, b := range brokers {
		cfg.Brokers = append(cfg.Brokers, BrokerConfig{Name: b.name, URL: b.server.URL})
	}
	return New(cfg)
}

func TestProduceConsume_RoundTrip(t *testing.T) {
	b1, b2, b3 := newTestBroker("node-a"), newTestBroker("node-b"), newTestBroker("node-c")
	defer b1.server.Close()
	defer b2.server.Close()
	defer b3.server.Close()

	c := newTestCoordinator(t, b1, b2, b3)

	payload := json.RawMessage(`{"hello":"world"}`)
	produced, err := c.Produce(context.Background(), "order-42", payload)
	require.NoError(t, err)
	assert.Equal(t, "order-42", produced.Key)
	assert.NotEmpty(t, produced.Primary)

	result, err := c.Consume(context.Background(), "order-42")
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(result.Payload))
	assert.Equal(t, "primary", result.Source)
	assert.Equal(t, produced.Primary, result.ServedBy)
	assert.False(t, result.Failover)
}

func TestConsume_NotFound(t *testing.T) {
	b1 := newTestBroker("node-a")
	defer b1.server.Close()
	c := newTestCoordinator(t, b1)

	_, err := c.Consume(context.Background(), "missing-key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProduce_PrimaryUnreachable(t *testing.T) {
	dead := newTestBroker("node-a")
	dead.server.Close() // closed before any request: connection refused

	c := newTestCoordinator(t, dead)

	_, err := c.Produce(context.Background(), "k1", json.RawMessage(`{"a":1}`))
	require.Error(t, err)
	var unreachable *PrimaryUnreachableError
	assert.ErrorAs(t, err, &unreachable)
}

func TestProduce_EmptyRingErrors(t *testing.T) {
	c := New(Config{ReplicationFactor: 2, VirtualNodes: 50, ProbeTimeout: time.Second})
	_, err := c.Produce(context.Background(), "k1", json.RawMessage(`{"a":1}`))
	require.Error(t, err)
	var routingErr *RoutingError
	assert.ErrorAs(t, err, &routingErr)
}

func TestRingSnapshot_ReportsAllNodes(t *testing.T) {
	b1, b2 := newTestBroker("node-a"), newTestBroker("node-b")
	defer b1.server.Close()
	defer b2.server.Close()
	c := newTestCoordinator(t, b1, b2)

	snap := c.RingSnapshot()
	assert.Equal(t, 2, snap["totalNodes"])
}

func TestRouteSnapshot_MatchesEffectivePlacement(t *testing.T) {
	b1, b2, b3 := newTestBroker("node-a"), newTestBroker("node-b"), newTestBroker("node-c")
	defer b1.server.Close()
	defer b2.server.Close()
	defer b3.server.Close()
	c := newTestCoordinator(t, b1, b2, b3)

	snap, err := c.RouteSnapshot("order-42")
	require.NoError(t, err)
	assert.Equal(t, false, snap["failoverActive"])
	assert.NotEmpty(t, snap["primary"])
}

// TestFailoverThenConsume exercises L2: once the raw primary is declared
// FAILED and a replacement is promoted, consume is served by a node other
// than the raw primary (the promoted node or a surviving replica) and
// reports source=replica, failover=true.
func TestFailoverThenConsume(t *testing.T) {
	b1, b2, b3 := newTestBroker("node-a"), newTestBroker("node-b"), newTestBroker("node-c")
	defer b2.server.Close()
	defer b3.server.Close()

	c := newTestCoordinator(t, b1, b2, b3)

	payload := json.RawMessage(`{"v":1}`)
	produced, err := c.Produce(context.Background(), "order-7", payload)
	require.NoError(t, err)
	rawPrimary := produced.Primary

	var dead *testBroker
	for _, b := range []*testBroker{b1, b2, b3} {
		if b.name == rawPrimary {
			dead = b
		}
	}
	require.NotNil(t, dead)
	dead.server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	t.Cleanup(c.Shutdown)

	require.Eventually(t, func() bool {
		return c.failover.Active()
	}, 2*time.Second, 10*time.Millisecond)

	result, err := c.Consume(context.Background(), "order-7")
	require.NoError(t, err)
	assert.Equal(t, "replica", result.Source)
	assert.True(t, result.Failover)
	assert.NotEqual(t, rawPrimary, result.ServedBy)
}
