package handlers

import (
	"net/http"

	"github.com/ukydev/parts-workflow/internal/models"
	"github.com/ukydev/parts-workflow/internal/workflow"
)

type bookingRequest struct {
	IDs []string `json:"ids"`
	workflow.Booking
}

type reasonRequest struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason"`
}

type moveResponse struct {
	Records []models.Record `json:"records"`
	Count   int             `json:"count"`
}

// CommitToMainSheet moves records from Orders to Main.
func (h *Handler) CommitToMainSheet(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeIDs(w, r, &req, &req.IDs) {
		return
	}
	if h.opts.RequireAttachment {
		if err := h.engine.CheckAttachments(req.IDs); err != nil {
			h.fail(w, r, workflow.ActionCommitToMain, err)
			return
		}
	}
	h.respondMove(w, r, workflow.ActionCommitToMain, func() ([]models.Record, error) {
		return h.engine.CommitToMainSheet(req.IDs)
	})
}

// SendToCallList moves records from Main to Call.
func (h *Handler) SendToCallList(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeIDs(w, r, &req, &req.IDs) {
		return
	}
	h.respondMove(w, r, workflow.ActionSendToCall, func() ([]models.Record, error) {
		return h.engine.SendToCallList(req.IDs)
	})
}

// SendToBooking moves records to Booking with a booking date.
func (h *Handler) SendToBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if !decodeIDs(w, r, &req, &req.IDs) {
		return
	}
	h.respondMove(w, r, workflow.ActionSendToBook, func() ([]models.Record, error) {
		return h.engine.SendToBooking(req.IDs, req.Booking)
	})
}

// SendToArchive moves records to Archive with an archive reason.
func (h *Handler) SendToArchive(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeIDs(w, r, &req, &req.IDs) {
		return
	}
	h.respondMove(w, r, workflow.ActionSendToArch, func() ([]models.Record, error) {
		return h.engine.SendToArchive(req.IDs, req.Reason)
	})
}

// SendToReorder moves records back to Orders with a reorder reason.
func (h *Handler) SendToReorder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeIDs(w, r, &req, &req.IDs) {
		return
	}
	h.respondMove(w, r, workflow.ActionSendToOrder, func() ([]models.Record, error) {
		return h.engine.SendToReorder(req.IDs, req.Reason)
	})
}

// decodeIDs decodes the body into v and rejects an empty selection.
func decodeIDs(w http.ResponseWriter, r *http.Request, v interface{}, ids *[]string) bool {
	if !decode(w, r, v) {
		return false
	}
	if len(*ids) == 0 {
		http.Error(w, "No record ids given", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) respondMove(w http.ResponseWriter, r *http.Request, action string, move func() ([]models.Record, error)) {
	moved, err := move()
	if err != nil {
		h.fail(w, r, action, err)
		return
	}
	if moved == nil {
		moved = []models.Record{}
	}
	writeJSON(w, http.StatusOK, moveResponse{Records: moved, Count: len(moved)})
}
