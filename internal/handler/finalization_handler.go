package handler

import (
	"net/http"

	"movementflow/internal/middleware"
	"movementflow/internal/model"
	"movementflow/internal/service"
	"movementflow/pkg/pagination"
	"movementflow/pkg/response"

	"github.com/gin-gonic/gin"
)

const documentField = "document"

type FinalizationHandler struct {
	finalizationService service.FinalizationService
}

func NewFinalizationHandler(finalizationService service.FinalizationService) *FinalizationHandler {
	return &FinalizationHandler{finalizationService: finalizationService}
}

func (h *FinalizationHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/finalization")
	group.Use(middleware.RequireRole(model.RoleAdmin, model.RoleApprover))
	{
		group.GET("/ready", h.ListReady)
		group.POST("/:id", h.Finalize)
	}
}

// ListReady handles GET /api/finalization/ready
// @Summary      List requests ready to finalize
// @Description  Requests with all eight stages approved that are not completed yet
// @Tags         finalization
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=object}
// @Router       /api/finalization/ready [get]
func (h *FinalizationHandler) ListReady(c *gin.Context) {
	p := pagination.Parse(c)
	requests, total, err := h.finalizationService.ListReady(c.Request.Context(), p.Limit, p.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, p.Wrap("requests", requests, total)))
}

// Finalize handles POST /api/finalization/:id
// @Summary      Finalize a request
// @Description  Stores the closing document, records folio and movement type and completes the request
// @Tags         finalization
// @Accept       mpfd
// @Produce      json
// @Security     BearerAuth
// @Param        id             path      string  true   "Request ID"
// @Param        folio          formData  string  false  "Folio (max 50 characters)"
// @Param        movement_type  formData  string  true   "FDO, PDO, MLO, ESTATUS or WDO"
// @Param        document       formData  file    true   "Closing document"
// @Success      200            {object}  response.Response{data=model.Request}
// @Failure      400            {object}  response.Response
// @Failure      404            {object}  response.Response
// @Failure      409            {object}  response.Response "Not fully approved or already completed"
// @Router       /api/finalization/{id} [post]
func (h *FinalizationHandler) Finalize(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var in service.FinalizeInput
	if err := c.ShouldBind(&in); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	var doc *service.Upload
	if fh, err := c.FormFile(documentField); err == nil {
		u := uploadFrom(fh)
		doc = &u
	}

	req, err := h.finalizationService.Finalize(c.Request.Context(), id, middleware.DisplayName(c), in, doc)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
}
