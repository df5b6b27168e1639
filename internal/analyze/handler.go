package analyze

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"meal-backend/internal/analysis"
	"meal-backend/internal/ingest"
	"meal-backend/internal/orchestrator"
	"meal-backend/internal/shared/server/middleware"
	"meal-backend/internal/shared/util"
)

const (
	// bodyOverhead is allowed on top of the image size limit for the other fields.
	bodyOverhead = 1 << 20
	// defaultBodyImageBytes applies when the service has no image limit.
	defaultBodyImageBytes = 32 << 20
)

// Handler exposes the analyze route. Every response is HTTP 200.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches the analyze route. guards run before the handler, typically
// rate limiting and admission.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, guards ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc{}, guards...), h.analyze)
	rg.POST("/analyze", handlers...)
}

type analyzeJSON struct {
	Image              string          `json:"image"`
	Base64Image        string          `json:"base64Image"`
	ImageURL           string          `json:"imageUrl"`
	MimeType           string          `json:"mimeType"`
	UserID             string          `json:"userId"`
	HealthGoals        json.RawMessage `json:"healthGoals"`
	DietaryPreferences json.RawMessage `json:"dietaryPreferences"`
	SaveMeal           *bool           `json:"saveMeal"`
}

func (h *Handler) analyze(c *gin.Context) {
	requestID := middleware.RequestIDFromContext(c)
	req, err := h.decode(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeRejected(c, ReasonTooLarge, MessageNoImage, err)
			return
		}
		h.writeRejected(c, ReasonBadRequest, "The request could not be read.", err)
		return
	}
	req.RequestID = requestID
	middleware.SetUserID(c, req.UserID)

	resp := h.Svc.Analyze(c.Request.Context(), req)
	middleware.SetSource(c, resp.Result.Source)
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) decode(c *gin.Context) (Request, error) {
	ct := strings.ToLower(c.ContentType())
	if strings.HasPrefix(ct, "multipart/") {
		return h.decodeMultipart(c)
	}
	// Inline images arrive base64 encoded, four bytes for every three.
	limit := h.imageLimit()*4/3 + bodyOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	var body analyzeJSON
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		return Request{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	text := body.Image
	if strings.TrimSpace(text) == "" {
		text = body.Base64Image
	}
	goals, err := parseListJSON(body.HealthGoals)
	if err != nil {
		return Request{}, errors.New("healthGoals must be a list of strings")
	}
	prefs, err := parseListJSON(body.DietaryPreferences)
	if err != nil {
		return Request{}, errors.New("dietaryPreferences must be a list of strings")
	}
	save := true
	if body.SaveMeal != nil {
		save = *body.SaveMeal
	}
	return Request{
		Input:              ingest.Input{Text: text, DeclaredMIME: body.MimeType},
		ImageURL:           body.ImageURL,
		UserID:             strings.TrimSpace(body.UserID),
		HealthGoals:        goals,
		DietaryPreferences: prefs,
		SaveMeal:           save,
	}, nil
}

func (h *Handler) decodeMultipart(c *gin.Context) (Request, error) {
	limit := h.imageLimit() + bodyOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	if err := c.Request.ParseMultipartForm(limit); err != nil {
		return Request{}, fmt.Errorf("invalid multipart body: %w", err)
	}

	var in ingest.Input
	for _, field := range []string{"image", "file"} {
		if fh, err := c.FormFile(field); err == nil {
			in.File = fh
			in.DeclaredMIME = fh.Header.Get("Content-Type")
			break
		}
	}
	if in.File == nil {
		// Some clients send the image as a base64 text field.
		in.Text = c.PostForm("image")
	}

	save := true
	if raw := strings.TrimSpace(c.PostForm("saveMeal")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			save = v
		}
	}
	return Request{
		Input:              in,
		ImageURL:           c.PostForm("imageUrl"),
		UserID:             strings.TrimSpace(c.PostForm("userId")),
		HealthGoals:        parseListString(c.PostForm("healthGoals")),
		DietaryPreferences: parseListString(c.PostForm("dietaryPreferences")),
		SaveMeal:           save,
	}, nil
}

func (h *Handler) imageLimit() int64 {
	if h.Svc.MaxImageBytes > 0 {
		return h.Svc.MaxImageBytes
	}
	return defaultBodyImageBytes
}

// Busy is the admission rejection response.
func (h *Handler) Busy(c *gin.Context) {
	h.Svc.metrics().IncAdmissionRejected()
	h.writeRejected(c, ReasonBusy, MessageBusy, errors.New("too many concurrent requests"))
}

// RateLimited is the rate limiter rejection response.
func (h *Handler) RateLimited(c *gin.Context, _ string, retryAfter time.Duration) {
	h.Svc.metrics().IncRateLimited()
	c.Header("Retry-After", strconv.Itoa(middleware.RetryAfterSeconds(retryAfter)))
	h.writeRejected(c, ReasonRateLimited, MessageBusy, errors.New("rate limit exceeded"))
}

func (h *Handler) writeRejected(c *gin.Context, reason, message string, err error) {
	requestID := middleware.RequestIDFromContext(c)
	res := analysis.Fallback(reason)
	cls := analysis.Classify(res)
	middleware.SetSource(c, res.Source)
	c.JSON(http.StatusOK, Response{
		Success:       false,
		Fallback:      true,
		LowConfidence: true,
		Message:       message,
		Result:        res,
		Error:         util.ErrorText(err),
		RequestID:     requestID,
		Diagnostics: Diagnostics{
			RequestID:      requestID,
			Attempts:       []orchestrator.Attempt{},
			Classification: &cls,
			Reason:         reason,
		},
	})
}

// parseListJSON accepts a JSON array of strings or a string parsed like a form field.
func parseListJSON(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return cleanList(list), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return parseListString(s), nil
}

// parseListString accepts a JSON-encoded array or a comma separated list.
func parseListString(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return cleanList(list)
		}
		raw = strings.Trim(raw, "[]")
	}
	return cleanList(strings.Split(raw, ","))
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.Trim(strings.TrimSpace(item), `"'`)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
