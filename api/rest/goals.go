package rest

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tahahasan7/yalla-server/goal"
	mw "github.com/tahahasan7/yalla-server/middleware"
	"github.com/tahahasan7/yalla-server/storage"
)

// GoalsHandler handles goal and progress-log REST endpoints.
type GoalsHandler struct {
	goals  *goal.Service
	photos storage.PhotoStore
}

// NewGoalsHandler creates a GoalsHandler.
func NewGoalsHandler(goals *goal.Service, photos storage.PhotoStore) *GoalsHandler {
	return &GoalsHandler{goals: goals, photos: photos}
}

func writeGoalError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, goal.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "goal not found"})
	case errors.Is(err, goal.ErrInvalidCadence):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cadence must be daily or weekly"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func goalID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

type goalBody struct {
	Title       string `json:"title" binding:"omitempty,max=100"`
	Description string `json:"description" binding:"omitempty,max=500"`
	Color       string `json:"color" binding:"omitempty,max=16"`
	Cadence     string `json:"cadence" binding:"omitempty,max=16"`
}

// Create handles POST /api/goals.
func (h *GoalsHandler) Create(c *gin.Context) {
	userID := mw.GetUserID(c)
	var req goalBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	g, err := h.goals.Create(c.Request.Context(), userID, req.Title, req.Description, req.Color, req.Cadence)
	if err != nil {
		writeGoalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"goal": g})
}

// List handles GET /api/goals.
func (h *GoalsHandler) List(c *gin.Context) {
	userID := mw.GetUserID(c)
	goals, err := h.goals.List(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"goals": goals})
}

// Update handles PATCH /api/goals/:id.
func (h *GoalsHandler) Update(c *gin.Context) {
	userID := mw.GetUserID(c)
	id, ok := goalID(c)
	if !ok {
		return
	}
	var req goalBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	g, err := h.goals.Update(c.Request.Context(), userID, id, req.Title, req.Description, req.Color, req.Cadence)
	if err != nil {
		writeGoalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goal": g})
}

// Delete handles DELETE /api/goals/:id.
func (h *GoalsHandler) Delete(c *gin.Context) {
	userID := mw.GetUserID(c)
	id, ok := goalID(c)
	if !ok {
		return
	}
	if err := h.goals.Delete(c.Request.Context(), userID, id); err != nil {
		writeGoalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// Logs handles GET /api/goals/:id/logs.
func (h *GoalsHandler) Logs(c *gin.Context) {
	userID := mw.GetUserID(c)
	id, ok := goalID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.goals.Logs(c.Request.Context(), userID, id, limit)
	if err != nil {
		writeGoalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

type logProgressBody struct {
	PhotoKey string `json:"photo_key" binding:"required,max=255"`
	Caption  string `json:"caption" binding:"omitempty,max=500"`
}

// LogProgress handles POST /api/goals/:id/logs. The photo must already be
// uploaded via the signed URL; the request carries only its key.
func (h *GoalsHandler) LogProgress(c *gin.Context) {
	userID := mw.GetUserID(c)
	id, ok := goalID(c)
	if !ok {
		return
	}
	var req logProgressBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log, err := h.goals.LogProgress(c.Request.Context(), userID, id, req.PhotoKey, req.Caption)
	if err != nil {
		writeGoalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"log": log})
}

// UploadURL handles POST /api/goals/upload-url: mints a signed PUT URL the
// client uploads the photo bytes to.
func (h *GoalsHandler) UploadURL(c *gin.Context) {
	userID := mw.GetUserID(c)
	contentType := c.DefaultQuery("content_type", "image/jpeg")

	url, key, err := h.photos.SignedUploadURL(c.Request.Context(), userID, contentType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "key": key})
}

// Photo handles GET /api/photos/*key: streams a stored photo.
func (h *GoalsHandler) Photo(c *gin.Context) {
	key := c.Param("key")
	if len(key) > 0 && key[0] == '/' {
		key = key[1:]
	}
	r, err := h.photos.Reader(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}
	defer r.Close()
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, r)
}
