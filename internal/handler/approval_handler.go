package handler

import (
	"errors"
	"io"
	"net/http"

	"movementflow/internal/flow"
	"movementflow/internal/middleware"
	"movementflow/internal/model"
	"movementflow/internal/service"
	"movementflow/pkg/pagination"
	"movementflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ApprovalHandler struct {
	approvalService service.ApprovalService
}

func NewApprovalHandler(approvalService service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvalService: approvalService}
}

func (h *ApprovalHandler) RegisterRoutes(router *gin.RouterGroup) {
	stages := router.Group("/api/stages/:stage")
	stages.Use(middleware.RequireRole(model.RoleAdmin, model.RoleApprover))
	{
		stages.GET("/queue", h.ListQueue)
		stages.GET("/requests/:id", h.GetStageRequest)
		stages.POST("/requests/:id/approve", h.Approve)
		stages.POST("/requests/:id/reject", h.Reject)
		stages.POST("/requests/:id/modify", h.SendToModification)
	}
}

// stageParam parses the :stage token. Unknown tokens are a 404.
func stageParam(c *gin.Context) (flow.Stage, bool) {
	stage, err := flow.ParseStage(c.Param("stage"))
	if err != nil {
		respondError(c, err)
		return 0, false
	}
	return stage, true
}

// ListQueue handles GET /api/stages/:stage/queue
// @Summary      List a stage queue
// @Description  Requests whose stage is pending and whose previous stage is approved, newest first
// @Tags         approvals
// @Produce      json
// @Security     BearerAuth
// @Param        stage  path      string  true   "Stage token (MNG, JPN, MC, PL, PCMNG, PCJPN, FINMNG, FINJPN)"
// @Param        page   query     int     false  "Page number (default 1)"
// @Param        limit  query     int     false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=object}
// @Failure      403    {object}  response.Response
// @Failure      404    {object}  response.Response
// @Router       /api/stages/{stage}/queue [get]
func (h *ApprovalHandler) ListQueue(c *gin.Context) {
	stage, ok := stageParam(c)
	if !ok {
		return
	}
	p := pagination.Parse(c)

	requests, total, err := h.approvalService.Queue(c.Request.Context(), stage, middleware.DisplayName(c), p.Limit, p.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, p.Wrap("requests", requests, total)))
}

// GetStageRequest handles GET /api/stages/:stage/requests/:id
// @Summary      Get a request for review
// @Description  Returns the request with items, evidence and approval record to an approver of the stage
// @Tags         approvals
// @Produce      json
// @Security     BearerAuth
// @Param        stage  path      string  true  "Stage token"
// @Param        id     path      string  true  "Request ID"
// @Success      200    {object}  response.Response{data=model.Request}
// @Failure      403    {object}  response.Response
// @Failure      404    {object}  response.Response
// @Router       /api/stages/{stage}/requests/{id} [get]
func (h *ApprovalHandler) GetStageRequest(c *gin.Context) {
	stage, ok := stageParam(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	req, err := h.approvalService.Detail(c.Request.Context(), stage, id, middleware.DisplayName(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
}

type decideFunc func(svc service.ApprovalService, c *gin.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (service.TransitionResult, error)

func (h *ApprovalHandler) decide(c *gin.Context, fn decideFunc) {
	stage, ok := stageParam(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req service.DecisionRequest
	// An empty body means no comment.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload"))
		return
	}

	result, err := fn(h.approvalService, c, stage, id, middleware.DisplayName(c), req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Approve handles POST /api/stages/:stage/requests/:id/approve
// @Summary      Approve a stage
// @Description  Approves the stage when it is pending and every earlier stage is approved. The comment is optional.
// @Tags         approvals
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        stage    path      string                   true   "Stage token"
// @Param        id       path      string                   true   "Request ID"
// @Param        payload  body      service.DecisionRequest  false  "Optional comment"
// @Success      200      {object}  response.Response{data=service.TransitionResult}
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response "Stage already decided or earlier stages incomplete"
// @Router       /api/stages/{stage}/requests/{id}/approve [post]
func (h *ApprovalHandler) Approve(c *gin.Context) {
	h.decide(c, func(svc service.ApprovalService, c *gin.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (service.TransitionResult, error) {
		return svc.Approve(c.Request.Context(), stage, id, actor, comment)
	})
}

// Reject handles POST /api/stages/:stage/requests/:id/reject
// @Summary      Reject a stage
// @Description  Rejects the stage and ends the request. A comment is required.
// @Tags         approvals
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        stage    path      string                   true  "Stage token"
// @Param        id       path      string                   true  "Request ID"
// @Param        payload  body      service.DecisionRequest  true  "Rejection reason"
// @Success      200      {object}  response.Response{data=service.TransitionResult}
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response "Comment required"
// @Router       /api/stages/{stage}/requests/{id}/reject [post]
func (h *ApprovalHandler) Reject(c *gin.Context) {
	h.decide(c, func(svc service.ApprovalService, c *gin.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (service.TransitionResult, error) {
		return svc.Reject(c.Request.Context(), stage, id, actor, comment)
	})
}

// SendToModification handles POST /api/stages/:stage/requests/:id/modify
// @Summary      Return a request for modification
// @Description  Sends the request back to the requester. A comment is required.
// @Tags         approvals
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        stage    path      string                   true  "Stage token"
// @Param        id       path      string                   true  "Request ID"
// @Param        payload  body      service.DecisionRequest  true  "What to change"
// @Success      200      {object}  response.Response{data=service.TransitionResult}
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response "Comment required"
// @Router       /api/stages/{stage}/requests/{id}/modify [post]
func (h *ApprovalHandler) SendToModification(c *gin.Context) {
	h.decide(c, func(svc service.ApprovalService, c *gin.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (service.TransitionResult, error) {
		return svc.SendToModification(c.Request.Context(), stage, id, actor, comment)
	})
}
