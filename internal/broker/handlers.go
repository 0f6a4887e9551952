package broker

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler wires the broker HTTP surface (spec.md §6, broker table) onto a
// Store.
type Handler struct {
	store *Store
}

// NewHandler creates a Handler backed by store.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Register mounts every broker route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/store", h.handleStore)
	r.POST("/replicate", h.handleReplicate)
	r.GET("/fetch/:key", h.handleFetch)
	r.GET("/health", h.handleHealth)
	r.GET("/messages", h.handleMessages)
	r.GET("/log", h.handleLog)
	r.POST("/promote", h.handlePromote)
}

type storeRequest struct {
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	ReplicateTo []string        `json:"replicateTo"`
}

func (h *Handler) handleStore(c *gin.Context) {
	var req storeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Key == "" || len(req.Payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key and payload are required", "key": req.Key})
		return
	}

	results, err := h.store.Store(c.Request.Context(), req.Key, req.Payload, req.ReplicateTo)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "key": req.Key})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":            true,
		"node":               h.store.Name(),
		"role":               string(RolePrimary),
		"key":                req.Key,
		"replicatedTo":       req.ReplicateTo,
		"replicationResults": results,
	})
}

type replicateRequest struct {
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	PrimaryNode string          `json:"primaryNode"`
}

func (h *Handler) handleReplicate(c *gin.Context) {
	var req replicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	if err := h.store.Replicate(req.Key, req.Payload, req.PrimaryNode); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "key": req.Key})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"node":    h.store.Name(),
		"role":    string(RoleReplica),
		"key":     req.Key,
	})
}

func (h *Handler) handleFetch(c *gin.Context) {
	key := c.Param("key")
	entry, ok := h.store.Fetch(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found", "key": key})
		return
	}

	body := gin.H{
		"success":   true,
		"node":      h.store.Name(),
		"key":       key,
		"payload":   entry.Payload,
		"timestamp": entry.Timestamp,
		"role":      string(entry.Role),
	}
	if entry.ReplicaOf != "" {
		body["replicaOf"] = entry.ReplicaOf
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"node":         h.store.Name(),
		"messageCount": h.store.Health(),
		"timestamp":    time.Now().UTC(),
	})
}

func (h *Handler) handleMessages(c *gin.Context) {
	messages := h.store.Messages()
	c.JSON(http.StatusOK, gin.H{
		"node":         h.store.Name(),
		"messageCount": len(messages),
		"messages":     messages,
	})
}

func (h *Handler) handleLog(c *gin.Context) {
	primary, replica := h.store.Log()
	c.JSON(http.StatusOK, gin.H{
		"node":            h.store.Name(),
		"summary":         gin.H{"storedAsPrimary": len(primary), "storedAsReplica": len(replica)},
		"storedAsPrimary": primary,
		"storedAsReplica": replica,
	})
}

func (h *Handler) handlePromote(c *gin.Context) {
	h.store.Promote()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"node":    h.store.Name(),
		"message": "node promoted to primary",
	})
}
