package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Skufu/lungtriage/internal/analysis"
	"github.com/Skufu/lungtriage/internal/classifier"
	"github.com/Skufu/lungtriage/internal/imaging"
	"github.com/Skufu/lungtriage/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// statusClientClosedRequest is reported when the caller went away before
// the response was ready.
const statusClientClosedRequest = 499

// Analyzer runs and removes analyses.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (store.Prediction, error)
	Delete(ctx context.Context, id int64) error
}

// Models reports classifier availability.
type Models interface {
	Statuses() []classifier.ModelStatus
	Ready() int
}

type Options struct {
	Store    store.Store
	Analyzer Analyzer
	Models   Models
	Uploads  *analysis.Uploads
	Logger   zerolog.Logger
	// Validator guards every route when set.
	Validator Validator
}

type Handler struct {
	store     store.Store
	analyzer  Analyzer
	models    Models
	uploads   *analysis.Uploads
	logger    zerolog.Logger
	validator Validator
	now       func() time.Time
}

func New(opts Options) *Handler {
	return &Handler{
		store:     opts.Store,
		analyzer:  opts.Analyzer,
		models:    opts.Models,
		uploads:   opts.Uploads,
		logger:    opts.Logger,
		validator: opts.Validator,
		now:       time.Now,
	}
}

func (h *Handler) Register(router gin.IRouter) {
	var handlers []gin.HandlerFunc
	if h.validator != nil {
		handlers = append(handlers, RequireToken(h.validator))
	}

	api := router.Group("/api", handlers...)
	api.GET("/models/status", h.modelStatus)
	api.POST("/analyze", h.analyze)

	api.GET("/patients", h.listPatients)
	api.POST("/patients", h.createPatient)
	api.GET("/patients/:id", h.getPatient)
	api.PUT("/patients/:id", h.updatePatient)
	api.DELETE("/patients/:id", h.deletePatient)
	api.GET("/patients/:id/predictions", h.patientPredictions)

	api.GET("/predictions", h.listPredictions)
	api.GET("/predictions/:id", h.getPrediction)
	api.DELETE("/predictions/:id", h.deletePrediction)
	api.GET("/predictions/:id/report", h.predictionReport)

	api.GET("/dashboard/summary", h.dashboardSummary)
	api.GET("/dashboard/activity", h.dashboardActivity)

	router.GET("/uploads/:name", append(handlers, h.serveUpload)...)
}

func (h *Handler) modelStatus(c *gin.Context) {
	statuses := h.models.Statuses()
	c.JSON(http.StatusOK, gin.H{
		"models": statuses,
		"ready":  h.models.Ready(),
		"total":  len(statuses),
	})
}

func (h *Handler) dashboardSummary(c *gin.Context) {
	sum, err := h.store.Summary(c.Request.Context(), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// timeframes maps the dashboard's activity windows to days.
var timeframes = map[string]int{
	"7days":  7,
	"30days": 30,
	"90days": 90,
	"1year":  365,
}

func (h *Handler) dashboardActivity(c *gin.Context) {
	timeframe := c.DefaultQuery("timeframe", "7days")
	days, ok := timeframes[timeframe]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeframe"})
		return
	}

	since := h.now().UTC().AddDate(0, 0, -days)
	counts, err := h.store.Activity(c.Request.Context(), since)
	if err != nil {
		h.fail(c, err)
		return
	}
	total := 0
	for _, dc := range counts {
		total += dc.Count
	}
	c.JSON(http.StatusOK, gin.H{
		"timeframe":         timeframe,
		"since":             since,
		"daily_predictions": counts,
		"total":             total,
	})
}

func (h *Handler) serveUpload(c *gin.Context) {
	path, err := h.uploads.Path(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.File(path)
}

// fail maps domain errors onto HTTP responses.
func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

func classify(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, analysis.ErrUnsupportedFile):
		return http.StatusBadRequest, "invalid file type"
	case errors.Is(err, imaging.ErrUnreadableImage):
		return http.StatusUnprocessableEntity, "failed to analyze image"
	case errors.Is(err, analysis.ErrAnalysisFailed):
		return http.StatusInternalServerError, "failed to analyze image"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "client closed request"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
