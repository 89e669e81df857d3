package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tortodelova/backend/internal/middleware"
	"github.com/tortodelova/backend/internal/services"
	"github.com/tortodelova/backend/internal/types"
)

type PredictionHandler struct {
	queue       services.PredictionQueueService
	predictions services.PredictionService
	bucket      services.BucketService
}

func NewPredictionHandler(queue services.PredictionQueueService, predictions services.PredictionService, bucket services.BucketService) *PredictionHandler {
	return &PredictionHandler{queue: queue, predictions: predictions, bucket: bucket}
}

type createPredictionRequest struct {
	Prompt  string `json:"prompt"`
	ModelID string `json:"model_id,omitempty"`
}

func (r *createPredictionRequest) modelID(c *gin.Context) (*uuid.UUID, bool) {
	if r.ModelID == "" {
		return nil, true
	}
	id, err := uuid.Parse(r.ModelID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_model_id", err)
		return nil, false
	}
	return &id, true
}

// POST /api/predictions
func (h *PredictionHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req createPredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	modelID, ok := req.modelID(c)
	if !ok {
		return
	}
	taskID, model, err := h.queue.Enqueue(c.Request.Context(), &userID, req.Prompt, modelID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"task_id":      taskID,
		"status":       types.PredictionStatusPending,
		"cost_credits": model.CostCredits,
	})
}

// GET /api/predictions
func (h *PredictionHandler) List(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	limit := parseIntQuery(c, "limit", 20)
	offset := parseIntQuery(c, "offset", 0)
	rows, err := h.predictions.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"predictions": rows})
}

// GET /api/predictions/:task_id
func (h *PredictionHandler) GetByTaskID(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	row, err := h.predictions.GetByTaskIDForUser(c.Request.Context(), userID, c.Param("task_id"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	if row == nil {
		// No row yet means the task has not settled; the client keeps polling.
		RespondOK(c, gin.H{
			"task_id": c.Param("task_id"),
			"status":  types.PredictionStatusPending,
		})
		return
	}
	RespondOK(c, gin.H{"prediction": row})
}

// POST /api/demo/predictions
func (h *PredictionHandler) CreateDemo(c *gin.Context) {
	var req createPredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	modelID, ok := req.modelID(c)
	if !ok {
		return
	}
	taskID, model, err := h.queue.Enqueue(c.Request.Context(), nil, req.Prompt, modelID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"task_id":      taskID,
		"status":       types.PredictionStatusPending,
		"cost_credits": model.CostCredits,
	})
}

// GET /api/demo/predictions
func (h *PredictionHandler) ListDemo(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 20)
	offset := parseIntQuery(c, "offset", 0)
	rows, err := h.predictions.ListDemo(c.Request.Context(), limit, offset)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"predictions": rows})
}

// GET /api/demo/predictions/:task_id
func (h *PredictionHandler) GetDemoByTaskID(c *gin.Context) {
	row, err := h.predictions.GetDemoByTaskID(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"prediction": row})
}

// POST /api/demo/predictions/:task_id/claim
func (h *PredictionHandler) ClaimDemo(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	row, err := h.predictions.ClaimDemoPrediction(c.Request.Context(), userID, c.Param("task_id"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"prediction": row})
}

// GET /api/predictions/:task_id/image
//
// Redirects to the settled artifact; image bytes are served by the bucket.
func (h *PredictionHandler) GetImage(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	row, err := h.predictions.GetByTaskIDForUser(c.Request.Context(), userID, c.Param("task_id"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	if row == nil || row.Status != types.PredictionStatusSuccess || row.PublicURL == "" {
		RespondError(c, http.StatusNotFound, "not_found", nil)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, row.PublicURL)
}

// GET /api/demo/predictions/:task_id/image
//
// Streams the artifact itself for clients that cannot reach the public URL
// directly (bucket behind an emulator or private network).
func (h *PredictionHandler) GetDemoImage(c *gin.Context) {
	row, err := h.predictions.GetDemoByTaskID(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	if row.Status != types.PredictionStatusSuccess || row.StorageKey == "" {
		RespondError(c, http.StatusNotFound, "not_found", nil)
		return
	}
	reader, err := h.bucket.DownloadFile(c.Request.Context(), row.StorageKey)
	if err != nil {
		RespondError(c, http.StatusBadGateway, "storage_error", err)
		return
	}
	defer reader.Close()
	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, reader)
}

func parseIntQuery(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
