package coordinator

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler adapts a Coordinator onto gin routes.
type Handler struct {
	coord *Coordinator
}

// NewHandler wraps a Coordinator for HTTP serving.
func NewHandler(coord *Coordinator) *Handler { return &Handler{coord: coord} }

// Register mounts every route in spec.md §6's Coordinator HTTP surface.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/produce", h.produce)
	r.GET("/consume/:key", h.consume)
	r.GET("/ring", h.ring)
	r.GET("/route/:key", h.route)
	r.GET("/health/nodes", h.healthNodes)
	r.GET("/failover/status", h.failoverStatus)
	r.GET("/health", h.health)
	r.GET("/metrics", h.coord.Metrics().Handler())
}

type produceRequest struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Handler) produce(c *gin.Context) {
	var req produceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" || len(req.Payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key and payload are required"})
		return
	}

	result, err := h.coord.Produce(c.Request.Context(), req.Key, req.Payload)
	if err != nil {
		writeRouteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":            true,
		"key":                result.Key,
		"keyHash":            result.KeyHash,
		"primary":            result.Primary,
		"replicas":           result.Replicas,
		"replicationResults": result.ReplicationResults,
	})
}

func (h *Handler) consume(c *gin.Context) {
	key := c.Param("key")
	result, err := h.coord.Consume(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found on any candidate"})
			return
		}
		writeRouteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"key":       result.Key,
		"payload":   result.Payload,
		"timestamp": result.Timestamp,
		"role":      result.Role,
		"servedBy":  result.ServedBy,
		"source":    result.Source,
		"failover":  result.Failover,
	})
}

func (h *Handler) ring(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.RingSnapshot())
}

func (h *Handler) route(c *gin.Context) {
	snapshot, err := h.coord.RouteSnapshot(c.Param("key"))
	if err != nil {
		writeRouteError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *Handler) healthNodes(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.HealthNodesSnapshot())
}

func (h *Handler) failoverStatus(c *gin.Context) {
	body, err := h.coord.FailoverStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "coordinator",
		"timestamp": time.Now().UTC(),
	})
}

func writeRouteError(c *gin.Context, err error) {
	var routingErr *RoutingError
	var primaryErr *PrimaryUnreachableError
	switch {
	case errors.As(err, &routingErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case errors.As(err, &primaryErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
