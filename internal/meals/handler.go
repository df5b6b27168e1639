package meals

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"meal-backend/internal/analysis"
	"meal-backend/internal/shared/server/middleware"
	"meal-backend/internal/shared/server/respond"
	"meal-backend/internal/shared/storage/object"
)

// Handler wires HTTP handlers to the gate and the image store.
type Handler struct {
	Gate  *Gate
	Store object.ObjectStore
}

// NewHandler constructs a Handler. store may be nil, in which case image reads 404.
func NewHandler(gate *Gate, store object.ObjectStore) *Handler {
	return &Handler{Gate: gate, Store: store}
}

// RegisterRoutes attaches meal routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/meals", h.createMeal)
	rg.GET("/meals", h.listMeals)
	rg.GET("/meals/:id", h.getMeal)
	rg.GET("/meals/:id/image", h.getMealImage)
}

type createMealRequest struct {
	UserID    string          `json:"userId"`
	ImageURL  string          `json:"imageUrl"`
	RequestID string          `json:"requestId"`
	Analysis  json.RawMessage `json:"analysis"`
}

func (h *Handler) createMeal(c *gin.Context) {
	var req createMealRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid JSON body", nil)
		return
	}
	if len(req.Analysis) == 0 || string(req.Analysis) == "null" {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "analysis is required", []respond.FieldIssue{
			{Field: "analysis", Issue: "required"},
		})
		return
	}
	// Decoded as-is: the gate must see exactly what the client sent, not a repaired copy.
	var result analysis.Result
	if err := json.Unmarshal(req.Analysis, &result); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "analysis is not a valid result object", []respond.FieldIssue{
			{Field: "analysis", Issue: "invalid"},
		})
		return
	}
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = middleware.RequestIDFromContext(c)
	}
	middleware.SetUserID(c, req.UserID)

	meal, err := h.Gate.Save(c.Request.Context(), SaveInput{
		UserID:    req.UserID,
		ImageURL:  strings.TrimSpace(req.ImageURL),
		RequestID: requestID,
		Analysis:  result,
	})
	if err != nil {
		var rej *RejectionError
		switch {
		case errors.As(err, &rej) && rej.Reason == RejectMissingUser:
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "userId is required", []respond.FieldIssue{
				{Field: "userId", Issue: "required"},
			})
		case errors.As(err, &rej):
			respond.Error(c, http.StatusUnprocessableEntity, respond.CodeRejected, "analysis cannot be saved", []respond.FieldIssue{
				{Field: "analysis", Issue: rej.Reason},
			})
		default:
			respond.Error(c, http.StatusInternalServerError, respond.CodeStorage, "failed to save meal", nil)
		}
		return
	}

	respond.Created(c, gin.H{
		"success":     true,
		"savedMealId": meal.ID,
		"meal":        meal,
	})
}

func (h *Handler) listMeals(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "userId is required", []respond.FieldIssue{
			{Field: "userId", Issue: "required"},
		})
		return
	}
	middleware.SetUserID(c, userID)

	opts := ListOptions{}
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "limit must be a non-negative integer", []respond.FieldIssue{
				{Field: "limit", Issue: "invalid"},
			})
			return
		}
		opts.Limit = parsed
	}
	if v := c.Query("before"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "before must be an RFC 3339 timestamp", []respond.FieldIssue{
				{Field: "before", Issue: "invalid"},
			})
			return
		}
		opts.Before = parsed
	}

	items, err := h.Gate.List(c.Request.Context(), userID, opts)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to list meals", nil)
		return
	}

	resp := gin.H{"meals": items}
	if len(items) > 0 && len(items) == opts.limit() {
		resp["nextBefore"] = items[len(items)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	respond.OK(c, resp)
}

func (h *Handler) getMeal(c *gin.Context) {
	meal, ok := h.lookup(c)
	if !ok {
		return
	}
	respond.OK(c, meal)
}

func (h *Handler) getMealImage(c *gin.Context) {
	meal, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.Store == nil || meal.ImageKey == "" {
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "meal has no stored image", nil)
		return
	}

	rc, contentType, err := h.Store.Open(c.Request.Context(), meal.ImageKey)
	if err != nil {
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "image not found", nil)
		return
	}
	defer rc.Close()
	if contentType == "" {
		contentType = meal.ImageMIME
	}
	c.DataFromReader(http.StatusOK, -1, contentType, rc, map[string]string{
		"Cache-Control": "private, max-age=3600",
	})
}

func (h *Handler) lookup(c *gin.Context) (Meal, bool) {
	mealID := c.Param("id")
	if _, err := uuid.Parse(mealID); err != nil {
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "meal not found", nil)
		return Meal{}, false
	}
	meal, err := h.Gate.Get(c.Request.Context(), mealID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "meal not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to fetch meal", nil)
		}
		return Meal{}, false
	}
	return meal, true
}
