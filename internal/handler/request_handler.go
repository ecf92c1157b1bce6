package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"movementflow/internal/middleware"
	"movementflow/internal/service"
	"movementflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
)

// Multipart field names used by the request form.
const (
	payloadField  = "payload"
	evidenceField = "evidence"
)

type RequestHandler struct {
	requestService service.RequestService
}

func NewRequestHandler(requestService service.RequestService) *RequestHandler {
	return &RequestHandler{requestService: requestService}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/requests")
	requests.Use(middleware.RequireAuth())
	{
		requests.POST("", h.CreateRequest)
		requests.GET("/mine", h.MyRequests)
		requests.GET("/:id", h.GetRequest)
		requests.PUT("/:id", h.ResubmitRequest)
		requests.POST("/:id/evidence", h.UploadEvidence)
	}
}

// bindRequestInput accepts either a JSON body or a multipart form whose
// payload field carries the same JSON.
func bindRequestInput(c *gin.Context, in *service.RequestInput) error {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return c.ShouldBindJSON(in)
	}
	raw := c.PostForm(payloadField)
	if raw == "" {
		return service.ErrInvalidInput
	}
	if err := json.Unmarshal([]byte(raw), in); err != nil {
		return err
	}
	return binding.Validator.ValidateStruct(in)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request ID format"))
		return uuid.Nil, false
	}
	return id, true
}

// CreateRequest handles POST /api/requests
// @Summary      Create a movement request
// @Description  Creates a request with its items and seeds the approval record. Evidence files go in the "evidence" multipart field and the request JSON in "payload".
// @Tags         requests
// @Accept       json,mpfd
// @Produce      json
// @Security     BearerAuth
// @Param        payload   body      service.RequestInput  true   "Request content"
// @Success      201       {object}  response.Response{data=object}
// @Failure      400       {object}  response.Response
// @Failure      401       {object}  response.Response
// @Router       /api/requests [post]
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	var in service.RequestInput
	if err := bindRequestInput(c, &in); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	req, uploaded, err := h.requestService.Create(c.Request.Context(), middleware.DisplayName(c), in, formUploads(c, evidenceField))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, gin.H{
		"request":  req,
		"evidence": uploaded,
	}))
}

// MyRequests handles GET /api/requests/mine
// @Summary      List my requests
// @Description  Returns the caller's requests grouped into to-modify, pending and the ten most recent
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=service.MyRequests}
// @Failure      401  {object}  response.Response
// @Router       /api/requests/mine [get]
func (h *RequestHandler) MyRequests(c *gin.Context) {
	mine, err := h.requestService.Mine(c.Request.Context(), middleware.DisplayName(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, mine))
}

// GetRequest handles GET /api/requests/:id
// @Summary      Get a request
// @Description  Returns the request with items, evidence and approval record
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=model.Request}
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id} [get]
func (h *RequestHandler) GetRequest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	req, err := h.requestService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
}

// ResubmitRequest handles PUT /api/requests/:id
// @Summary      Resubmit a request
// @Description  Replaces the content of a request returned for modification and restarts its approval. Only the requester may call it.
// @Tags         requests
// @Accept       json,mpfd
// @Produce      json
// @Security     BearerAuth
// @Param        id        path      string                true  "Request ID"
// @Param        payload   body      service.RequestInput  true  "Request content"
// @Success      200       {object}  response.Response{data=object}
// @Failure      400       {object}  response.Response
// @Failure      403       {object}  response.Response
// @Failure      409       {object}  response.Response
// @Router       /api/requests/{id} [put]
func (h *RequestHandler) ResubmitRequest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var in service.RequestInput
	if err := bindRequestInput(c, &in); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	req, uploaded, err := h.requestService.Resubmit(c.Request.Context(), id, middleware.DisplayName(c), in, formUploads(c, evidenceField))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{
		"request":  req,
		"evidence": uploaded,
	}))
}

// UploadEvidence handles POST /api/requests/:id/evidence
// @Summary      Upload evidence
// @Description  Stores additional evidence files. Files with a disallowed extension or size are skipped and listed.
// @Tags         requests
// @Accept       mpfd
// @Produce      json
// @Security     BearerAuth
// @Param        id        path      string  true  "Request ID"
// @Param        evidence  formData  file    true  "Evidence files"
// @Success      200       {object}  response.Response{data=service.UploadResult}
// @Failure      404       {object}  response.Response
// @Router       /api/requests/{id}/evidence [post]
func (h *RequestHandler) UploadEvidence(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	files := formUploads(c, evidenceField)
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "No files received"))
		return
	}

	res, err := h.requestService.UploadEvidence(c.Request.Context(), id, middleware.DisplayName(c), files)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}
