package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tahahasan7/yalla-server/feed"
	mw "github.com/tahahasan7/yalla-server/middleware"
)

// FeedHandler handles the feed and streak leaderboard endpoints.
type FeedHandler struct {
	feed      *feed.Service
	streakTop int
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(f *feed.Service, streakTop int) *FeedHandler {
	if streakTop <= 0 {
		streakTop = 10
	}
	return &FeedHandler{feed: f, streakTop: streakTop}
}

// Recent handles GET /api/feed.
func (h *FeedHandler) Recent(c *gin.Context) {
	userID := mw.GetUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	items, err := h.feed.Recent(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"feed": items})
}

// Streaks handles GET /api/streaks.
func (h *FeedHandler) Streaks(c *gin.Context) {
	entries, err := h.feed.Leaderboard(c.Request.Context(), h.streakTop)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"streaks": entries})
}
