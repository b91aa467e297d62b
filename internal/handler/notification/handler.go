package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/samstikhin/ulearn-notifier/internal/handler"
	"github.com/samstikhin/ulearn-notifier/internal/model"
	notificationService "github.com/samstikhin/ulearn-notifier/internal/service/notification"
)

type Handler struct {
	service notificationService.Service
}

func NewHandler(service notificationService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.POST("", h.CreateNotification)
		notifications.POST("/comments", h.NotifyAboutNewComment)
		notifications.POST("/manual-checkings", h.NotifyAboutManualChecking)
	}

	users := r.Group("/users/:userId/transports")
	{
		users.GET("", h.ListTransports)
		users.POST("", h.AddTransport)
		users.PUT("/mail", h.EnableMailTransport)
		users.DELETE("/mail", h.DisableMailTransport)
	}

	r.PUT("/transports/:id/enabled", h.EnableTransport)
}

func (h *Handler) CreateNotification(c *gin.Context) {
	var req notificationService.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	n, err := h.service.CreateNotification(c.Request.Context(), req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	if n == nil {
		c.JSON(http.StatusOK, &handler.Response{Status: "skipped", Message: "user is not notified about own action"})
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(n))
}

type commentRequest struct {
	ID                   int64    `json:"id" binding:"required"`
	CourseID             string   `json:"course_id" binding:"required"`
	AuthorID             string   `json:"author_id" binding:"required"`
	ParentCommentID      int64    `json:"parent_comment_id"`
	ParentAuthorID       string   `json:"parent_author_id"`
	IsForInstructorsOnly bool     `json:"is_for_instructors_only"`
	GroupInstructors     []string `json:"group_instructors"`
	CourseWatchers       []string `json:"course_watchers"`
}

func (h *Handler) NotifyAboutNewComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	created, err := h.service.NotifyAboutNewComment(c.Request.Context(),
		notificationService.Comment{
			ID:                   req.ID,
			CourseID:             req.CourseID,
			AuthorID:             req.AuthorID,
			ParentCommentID:      req.ParentCommentID,
			ParentAuthorID:       req.ParentAuthorID,
			IsForInstructorsOnly: req.IsForInstructorsOnly,
		},
		notificationService.CommentAudience{
			GroupInstructors: req.GroupInstructors,
			CourseWatchers:   req.CourseWatchers,
		})
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(created))
}

type manualCheckingRequest struct {
	CourseID   string `json:"course_id" binding:"required"`
	CheckerID  string `json:"checker_id" binding:"required"`
	StudentID  string `json:"student_id" binding:"required"`
	CheckingID int64  `json:"checking_id" binding:"required"`
}

func (h *Handler) NotifyAboutManualChecking(c *gin.Context) {
	var req manualCheckingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	n, err := h.service.NotifyAboutManualChecking(c.Request.Context(), req.CourseID, req.CheckerID, req.StudentID, req.CheckingID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	if n == nil {
		c.JSON(http.StatusOK, &handler.Response{Status: "skipped", Message: "user is not notified about own action"})
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(n))
}

func (h *Handler) ListTransports(c *gin.Context) {
	transports, err := h.service.ListTransports(c.Request.Context(), c.Param("userId"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(transports))
}

type addTransportRequest struct {
	Type    string `json:"type" binding:"required"`
	Address string `json:"address" binding:"required"`
	Enabled *bool  `json:"enabled"`
}

func (h *Handler) AddTransport(c *gin.Context) {
	var req addTransportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	transportType, err := model.ParseTransportType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	t := &model.Transport{
		UserID:    c.Param("userId"),
		Type:      transportType,
		Address:   req.Address,
		IsEnabled: req.Enabled == nil || *req.Enabled,
	}
	if err := h.service.AddTransport(c.Request.Context(), t); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(t))
}

type mailRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *Handler) EnableMailTransport(c *gin.Context) {
	var req mailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	t, err := h.service.EnableMailTransport(c.Request.Context(), c.Param("userId"), req.Email)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(t))
}

func (h *Handler) DisableMailTransport(c *gin.Context) {
	if err := h.service.DisableMailTransport(c.Request.Context(), c.Param("userId")); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

type enableRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *Handler) EnableTransport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid transport ID"))
		return
	}

	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	if err := h.service.EnableTransport(c.Request.Context(), id, *req.Enabled); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"id": id, "enabled": *req.Enabled}))
}
