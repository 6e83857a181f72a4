package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ukydev/parts-workflow/internal/models"
	"github.com/ukydev/parts-workflow/internal/workflow"
)

type ordersRequest struct {
	Records []models.Record `json:"records"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

type valueRequest struct {
	Value string `json:"value"`
}

type recordResponse struct {
	Record models.Record `json:"record"`
	Stage  models.Stage  `json:"stage"`
}

// ListStages returns the record count of every stage.
func (h *Handler) ListStages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"counts": h.engine.Counts(),
	})
}

// GetStage returns the records of one stage.
func (h *Handler) GetStage(w http.ResponseWriter, r *http.Request) {
	stage, err := models.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	records := h.engine.Stage(stage)
	if records == nil {
		records = []models.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stage":   stage,
		"records": records,
	})
}

// GetRecord returns one record and the stage holding it.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, stage, ok := h.engine.Get(id)
	if !ok {
		http.Error(w, "Record not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Record: rec, Stage: stage})
}

// CreateOrders adds new records to Orders.
func (h *Handler) CreateOrders(w http.ResponseWriter, r *http.Request) {
	var req ordersRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Records) == 0 {
		http.Error(w, "No records given", http.StatusBadRequest)
		return
	}
	created, err := h.engine.CreateOrders(req.Records)
	if err != nil {
		h.fail(w, r, "create orders", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"records": created,
		"count":   len(created),
	})
}

// DeleteRecords removes records from whichever stage holds them.
func (h *Handler) DeleteRecords(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "No record ids given", http.StatusBadRequest)
		return
	}
	n, err := h.engine.DeleteRecords(req.IDs)
	if err != nil {
		h.fail(w, r, "delete records", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// UpdateRecord edits the fields of one record.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var patch workflow.RecordPatch
	if !decode(w, r, &patch) {
		return
	}
	rec, err := h.engine.UpdateRecord(chi.URLParam(r, "id"), patch)
	if err != nil {
		h.fail(w, r, "update record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// UpdatePartStatus sets the part status of one record.
func (h *Handler) UpdatePartStatus(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, "part status", h.engine.UpdatePartStatus)
}

// UpdateBookingStatus sets the booking status of one record.
func (h *Handler) UpdateBookingStatus(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, "booking status", h.engine.UpdateBookingStatus)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request, action string, update func(id, value string) (models.Record, error)) {
	var req valueRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := update(chi.URLParam(r, "id"), strings.TrimSpace(req.Value))
	if err != nil {
		h.fail(w, r, action, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetBookingStatuses returns the booking status definitions.
func (h *Handler) GetBookingStatuses(w http.ResponseWriter, r *http.Request) {
	defs := h.engine.BookingStatuses()
	if defs == nil {
		defs = []models.BookingStatusDef{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"statuses": defs})
}

// SetBookingStatuses replaces the booking status definitions.
func (h *Handler) SetBookingStatuses(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Statuses []models.BookingStatusDef `json:"statuses"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.SetBookingStatuses(req.Statuses); err != nil {
		h.fail(w, r, "set booking statuses", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
