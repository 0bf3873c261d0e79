package api

import (
	"errors"
	"net/http"

	"github.com/Skufu/lungtriage/internal/store"
	"github.com/gin-gonic/gin"
)

func (h *Handler) listPatients(c *gin.Context) {
	patients, err := h.store.ListPatients(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patients": patients, "total": len(patients)})
}

func (h *Handler) createPatient(c *gin.Context) {
	var in store.PatientInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	p, err := h.store.CreatePatient(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info().Int64("patient_id", p.ID).Msg("patient registered")
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) getPatient(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	p, err := h.store.GetPatient(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) updatePatient(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var in store.PatientInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	p, err := h.store.UpdatePatient(c.Request.Context(), id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deletePatient(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.store.DeletePatient(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info().Int64("patient_id", id).Msg("patient deleted")
	c.JSON(http.StatusOK, gin.H{"message": "patient deleted"})
}

func (h *Handler) patientPredictions(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.GetPatient(ctx, id); err != nil {
		h.fail(c, err)
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	preds, err := h.store.ListPredictions(ctx, store.PredictionFilter{PatientID: &id, Limit: limit})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": preds, "total": len(preds)})
}

// patientFor loads the patient linked to a prediction, if any. A patient
// that has since disappeared is treated as anonymous.
func (h *Handler) patientFor(c *gin.Context, p store.Prediction) (*store.Patient, error) {
	if p.PatientID == nil {
		return nil, nil
	}
	pt, err := h.store.GetPatient(c.Request.Context(), *p.PatientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pt, nil
}
