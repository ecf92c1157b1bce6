package handler

import (
	"context"
	"net/http"

	"movementflow/internal/flow"
	"movementflow/internal/middleware"
	"movementflow/internal/model"
	"movementflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// StageAccessManager is the part of the access service the admin endpoints use.
type StageAccessManager interface {
	List(ctx context.Context) ([]model.StageAccess, error)
	Snapshot(ctx context.Context) (map[flow.Stage][]string, error)
	Grant(ctx context.Context, stage flow.Stage, names []string, actor string) ([]model.StageAccess, error)
	Revoke(ctx context.Context, id uuid.UUID, actor string) error
}

// GrantAccessRequest adds display names to one stage.
type GrantAccessRequest struct {
	Stage string   `json:"stage" binding:"required"`
	Names []string `json:"names" binding:"required,min=1"`
}

type StageAccessHandler struct {
	access StageAccessManager
}

func NewStageAccessHandler(access StageAccessManager) *StageAccessHandler {
	return &StageAccessHandler{access: access}
}

func (h *StageAccessHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/stage-access")
	group.Use(middleware.RequireRole(model.RoleAdmin))
	{
		group.GET("", h.ListAccess)
		group.POST("", h.GrantAccess)
		group.DELETE("/:id", h.RevokeAccess)
	}
}

// ListAccess handles GET /api/stage-access
// @Summary      List stage allow-lists
// @Description  Returns the allow-list rows and the cached view grouped by stage. A stage without rows is open to everyone.
// @Tags         stage-access
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=object}
// @Router       /api/stage-access [get]
func (h *StageAccessHandler) ListAccess(c *gin.Context) {
	rows, err := h.access.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	snapshot, err := h.access.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	byStage := make(map[string][]string, len(snapshot))
	for stage, names := range snapshot {
		byStage[stage.String()] = names
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{
		"entries":  rows,
		"by_stage": byStage,
	}))
}

// GrantAccess handles POST /api/stage-access
// @Summary      Grant stage access
// @Description  Adds display names to a stage allow-list. Names already present are skipped.
// @Tags         stage-access
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      GrantAccessRequest  true  "Stage and names"
// @Success      201      {object}  response.Response{data=[]model.StageAccess}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response "Unknown stage"
// @Router       /api/stage-access [post]
func (h *StageAccessHandler) GrantAccess(c *gin.Context) {
	var req GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}
	stage, err := flow.ParseStage(req.Stage)
	if err != nil {
		respondError(c, err)
		return
	}

	created, err := h.access.Grant(c.Request.Context(), stage, req.Names, middleware.DisplayName(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, created))
}

// RevokeAccess handles DELETE /api/stage-access/:id
// @Summary      Revoke stage access
// @Description  Removes one allow-list row
// @Tags         stage-access
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Entry ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/stage-access/{id} [delete]
func (h *StageAccessHandler) RevokeAccess(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.access.Revoke(c.Request.Context(), id, middleware.DisplayName(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Stage access revoked"}))
}
