package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tahahasan7/yalla-server/audit"
	mw "github.com/tahahasan7/yalla-server/middleware"
	"github.com/tahahasan7/yalla-server/social/friendship"
)

// FriendsHandler handles the friendship REST endpoints.
type FriendsHandler struct {
	friends *friendship.Service
	auditor *audit.Service
}

// NewFriendsHandler creates a FriendsHandler. auditor may be nil.
func NewFriendsHandler(friends *friendship.Service, auditor *audit.Service) *FriendsHandler {
	return &FriendsHandler{friends: friends, auditor: auditor}
}

func (h *FriendsHandler) audit(c *gin.Context, action string, req interface{}, errMsg string, started time.Time) {
	if h.auditor == nil {
		return
	}
	userID := mw.GetUserID(c)
	h.auditor.Log(audit.AuditEntry{
		TraceID:    mw.GetTraceID(c),
		UserID:     &userID,
		Action:     action,
		Request:    req,
		Error:      errMsg,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(started).Milliseconds()),
	})
}

// writeFriendshipError maps domain errors to HTTP responses. The two
// distinguished business-rule rejections carry stable codes so clients can
// branch without string matching.
func writeFriendshipError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, friendship.ErrSelfRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot friend yourself"})
	case errors.Is(err, friendship.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, gin.H{"error": "request already exists", "code": "duplicate_request"})
	case errors.Is(err, friendship.ErrPreviouslyDeclined):
		c.JSON(http.StatusConflict, gin.H{"error": "request was previously declined", "code": "previously_declined"})
	case errors.Is(err, friendship.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// List handles GET /api/friends.
func (h *FriendsHandler) List(c *gin.Context) {
	userID := mw.GetUserID(c)
	friends, err := h.friends.Friends(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// Requests handles GET /api/friends/requests.
func (h *FriendsHandler) Requests(c *gin.Context) {
	userID := mw.GetUserID(c)
	reqs, err := h.friends.IncomingRequests(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// Status handles GET /api/friends/status/:id.
func (h *FriendsHandler) Status(c *gin.Context) {
	userID := mw.GetUserID(c)
	otherID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	rel, err := h.friends.Status(c.Request.Context(), userID, otherID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, rel)
}

type friendRequestBody struct {
	FriendID int64 `json:"friend_id" binding:"required"`
}

// Request handles POST /api/friends/request.
func (h *FriendsHandler) Request(c *gin.Context) {
	started := time.Now()
	userID := mw.GetUserID(c)

	var req friendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.friends.SendRequest(c.Request.Context(), userID, req.FriendID); err != nil {
		h.audit(c, "friend_request", req, err.Error(), started)
		writeFriendshipError(c, err)
		return
	}
	h.audit(c, "friend_request", req, "", started)
	c.JSON(http.StatusCreated, gin.H{"message": "request sent"})
}

// Accept handles POST /api/friends/accept/:id where :id is the requester.
func (h *FriendsHandler) Accept(c *gin.Context) {
	started := time.Now()
	userID := mw.GetUserID(c)
	requesterID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if err := h.friends.Accept(c.Request.Context(), userID, requesterID); err != nil {
		h.audit(c, "friend_accept", gin.H{"requester_id": requesterID}, err.Error(), started)
		writeFriendshipError(c, err)
		return
	}
	h.audit(c, "friend_accept", gin.H{"requester_id": requesterID}, "", started)
	c.JSON(http.StatusOK, gin.H{"message": "accepted"})
}

// Decline handles POST /api/friends/decline/:id where :id is the requester.
func (h *FriendsHandler) Decline(c *gin.Context) {
	started := time.Now()
	userID := mw.GetUserID(c)
	requesterID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if err := h.friends.Decline(c.Request.Context(), userID, requesterID); err != nil {
		h.audit(c, "friend_decline", gin.H{"requester_id": requesterID}, err.Error(), started)
		writeFriendshipError(c, err)
		return
	}
	h.audit(c, "friend_decline", gin.H{"requester_id": requesterID}, "", started)
	c.JSON(http.StatusOK, gin.H{"message": "declined"})
}

// Remove handles DELETE /api/friends/:id. It serves both unfriending and
// cancelling an outbound request.
func (h *FriendsHandler) Remove(c *gin.Context) {
	started := time.Now()
	userID := mw.GetUserID(c)
	otherID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if err := h.friends.Remove(c.Request.Context(), userID, otherID); err != nil {
		h.audit(c, "friend_remove", gin.H{"friend_id": otherID}, err.Error(), started)
		writeFriendshipError(c, err)
		return
	}
	h.audit(c, "friend_remove", gin.H{"friend_id": otherID}, "", started)
	c.JSON(http.StatusOK, gin.H{"message": "removed"})
}
