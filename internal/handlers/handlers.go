package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"ar-frame/internal/broadcast"
	"ar-frame/internal/logging"
	"ar-frame/internal/models"
	"ar-frame/internal/store"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	reg *store.Registry
	st  *store.Store
	hub *broadcast.Hub
	log *logging.Logger
}

func New(reg *store.Registry, st *store.Store, hub *broadcast.Hub, log *logging.Logger) *Handler {
	return &Handler{reg: reg, st: st, hub: hub, log: log}
}

type createSessionBody struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateSession registers a session. Posting an existing id returns that
// session unchanged.
func (h *Handler) CreateSession(c *gin.Context) {
	var body createSessionBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
			return
		}
	}
	sess, err := h.reg.Create(strings.TrimSpace(body.ID), strings.TrimSpace(body.Name))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.reg.List()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	out := make([]models.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		count, err := h.st.Count(sess.ID)
		if err != nil {
			h.log.Warnf("session %s: counting objects failed: %v", sess.ID, err)
		}
		display := sess.Name
		if display == "" {
			display = "Session " + shortID(sess.ID)
		}
		out = append(out, models.SessionSummary{
			Session:     sess,
			DisplayName: display,
			ObjectCount: count,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.reg.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// DeleteSession cascades to all objects. Deleting a missing session is a
// no-op reporting zero removed.
func (h *Handler) DeleteSession(c *gin.Context) {
	count, err := h.st.DeleteSession(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": count})
}

func (h *Handler) ListObjects(c *gin.Context) {
	limit := 0
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			limit = i
		}
	}
	objs, err := h.st.List(c.Param("id"), strings.TrimSpace(c.Query("type")), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"objects": objs})
}

// UpsertObject creates or replaces by id; an omitted id gets a generated
// one. Object id collisions are always treated as intentional updates.
func (h *Handler) UpsertObject(c *gin.Context) {
	var in models.UpsertInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	obj, err := h.st.Upsert(c.Param("id"), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

func (h *Handler) GetObject(c *gin.Context) {
	obj, err := h.st.Get(c.Param("id"), c.Param("oid"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

// DeleteObject reports whether a removal occurred; a missing object is
// "already gone", not an error.
func (h *Handler) DeleteObject(c *gin.Context) {
	removed, err := h.st.Delete(c.Param("id"), c.Param("oid"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) ClearSession(c *gin.Context) {
	count, err := h.st.Clear(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": count})
}

func (h *Handler) SessionStats(c *gin.Context) {
	stats, err := h.st.Stats(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var ve *store.ValidationError
	var ce *store.CorruptionError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "field": ve.Field, "reason": ve.Reason})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &ce):
		// Distinct from not-found: the data exists but is unreadable and
		// needs operator attention.
		h.log.Errorf("storage corruption: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage corrupt", "session_id": ce.SessionID})
	case errors.Is(err, store.ErrLockTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session busy"})
	default:
		h.log.Errorf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
