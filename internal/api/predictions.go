package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Skufu/lungtriage/internal/analysis"
	"github.com/Skufu/lungtriage/internal/report"
	"github.com/Skufu/lungtriage/internal/store"
	"github.com/gin-gonic/gin"
)

func (h *Handler) analyze(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no image file provided"})
		return
	}
	if file.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file selected"})
		return
	}

	req := analysis.Request{Filename: file.Filename}
	if raw := c.PostForm("patient_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patient_id"})
			return
		}
		req.PatientID = &id
	}

	f, err := file.Open()
	if err != nil {
		h.fail(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()
	if req.Data, err = io.ReadAll(f); err != nil {
		h.fail(c, fmt.Errorf("read upload: %w", err))
		return
	}

	p, err := h.analyzer.Analyze(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) listPredictions(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	filter := store.PredictionFilter{Limit: limit}
	if raw := c.Query("patient_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patient_id"})
			return
		}
		filter.PatientID = &id
	}
	preds, err := h.store.ListPredictions(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": preds, "total": len(preds)})
}

func (h *Handler) getPrediction(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	p, err := h.store.GetPrediction(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deletePrediction(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.analyzer.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info().Int64("prediction_id", id).Msg("prediction deleted")
	c.JSON(http.StatusOK, gin.H{"message": "prediction deleted"})
}

func (h *Handler) predictionReport(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.store.GetPrediction(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	patient, err := h.patientFor(c, p)
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, format, report.NewDocument(p, patient, h.now())); err != nil {
		h.fail(c, fmt.Errorf("render report: %w", err))
		return
	}
	if format != report.FormatJSON {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", format.Filename(p.ID)))
	}
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	return limit, true
}
