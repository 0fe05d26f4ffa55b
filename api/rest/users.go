package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tahahasan7/yalla-server/changefeed"
	mw "github.com/tahahasan7/yalla-server/middleware"
	"github.com/tahahasan7/yalla-server/model"
	"github.com/tahahasan7/yalla-server/social/friendship"
	"gorm.io/gorm"
)

// UsersHandler handles profile and user-search REST endpoints.
type UsersHandler struct {
	db          *gorm.DB
	friends     *friendship.Service
	feed        *changefeed.Publisher
	searchLimit int
}

// NewUsersHandler creates a UsersHandler.
func NewUsersHandler(db *gorm.DB, friends *friendship.Service, feed *changefeed.Publisher, searchLimit int) *UsersHandler {
	if searchLimit <= 0 {
		searchLimit = 20
	}
	return &UsersHandler{db: db, friends: friends, feed: feed, searchLimit: searchLimit}
}

// Me handles GET /api/users/me.
func (h *UsersHandler) Me(c *gin.Context) {
	userID := mw.GetUserID(c)
	var user model.User
	if err := h.db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type updateProfileRequest struct {
	Name          string `json:"name" binding:"omitempty,max=64"`
	ProfilePicURL string `json:"profile_pic_url" binding:"omitempty,max=255"`
}

// UpdateProfile handles PATCH /api/users/me. Changes are broadcast on the
// users change channel so friends' cached copies revalidate.
func (h *UsersHandler) UpdateProfile(c *gin.Context) {
	userID := mw.GetUserID(c)
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user model.User
	if err := h.db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	old := user
	if req.Name != "" {
		user.Name = req.Name
	}
	if req.ProfilePicURL != "" {
		user.ProfilePicURL = req.ProfilePicURL
	}
	if err := h.db.Save(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.feed.UserChanged(c.Request.Context(), changefeed.Event{
		EventType: changefeed.EventUpdate,
		Table:     "users",
		Old:       map[string]interface{}{"id": old.ID, "name": old.Name, "profile_pic_url": old.ProfilePicURL},
		New:       map[string]interface{}{"id": user.ID, "name": user.Name, "profile_pic_url": user.ProfilePicURL},
	})
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Search handles GET /api/users/search?q=. Each hit carries the viewer's
// resolved relationship so the client can render the right affordance.
func (h *UsersHandler) Search(c *gin.Context) {
	userID := mw.GetUserID(c)
	query := c.Query("q")

	hits, err := h.friends.Search(c.Request.Context(), userID, query, h.searchLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}
