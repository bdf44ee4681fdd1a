package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"greendrake/tutormatch/internal/api/middleware"
	"greendrake/tutormatch/internal/apperr"
	"greendrake/tutormatch/internal/models"
	"greendrake/tutormatch/internal/services"
)

// RestPostHandler handles the read-only REST surface of posts, their
// applications and chat rooms.
type RestPostHandler struct {
	postService        services.IPostService
	applicationService services.IApplicationService
	chatService        services.IChatService
	logger             *zap.Logger
}

// NewRestPostHandler creates a new RestPostHandler.
func NewRestPostHandler(postService services.IPostService, applicationService services.IApplicationService, chatService services.IChatService, logger *zap.Logger) *RestPostHandler {
	return &RestPostHandler{
		postService:        postService,
		applicationService: applicationService,
		chatService:        chatService,
		logger:             logger,
	}
}

// httpStatusFor maps an error kind to its HTTP status.
func httpStatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *RestPostHandler) writeError(c *gin.Context, err error) {
	status := httpStatusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		h.logger.Error("rest request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(status, gin.H{"error": apperr.MessageOf(err), "code": apperr.KindOf(err).String()})
}

func (h *RestPostHandler) actor(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	}
	return actor, ok
}

// GetPost handles GET /v1/post/:id. Drafts are visible to their owner only.
func (h *RestPostHandler) GetPost(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	post, err := h.postService.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if post.Status == models.PostStatusDraft && !actor.Owns(post.OwnerID) {
		h.writeError(c, apperr.NotFound("post %s not found", post.ID))
		return
	}
	c.JSON(http.StatusOK, post)
}

// ListApplications handles GET /v1/post/:id/applications[?status=...]
func (h *RestPostHandler) ListApplications(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var status models.ApplicationStatus
	if raw := c.Query("status"); raw != "" {
		parsed, err := models.ParseApplicationStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperr.KindValidation.String()})
			return
		}
		status = parsed
	}

	apps, err := h.applicationService.ListApplications(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]*models.Application, 0, len(apps))
	for _, app := range apps {
		if status == "" || app.Status == status {
			out = append(out, app)
		}
	}
	c.JSON(http.StatusOK, gin.H{"applications": out})
}

// GetApplication handles GET /v1/application/:id
func (h *RestPostHandler) GetApplication(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	app, err := h.applicationService.GetApplication(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// GetChatRoom handles GET /v1/post/:id/chat/:tutor_id
func (h *RestPostHandler) GetChatRoom(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	room, err := h.chatService.GetRoom(c.Request.Context(), c.Param("id"), c.Param("tutor_id"), actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}
