package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ukydev/parts-workflow/internal/models"
)

type historyResponse struct {
	CanUndo   bool                   `json:"can_undo"`
	CanRedo   bool                   `json:"can_redo"`
	Restoring bool                   `json:"restoring"`
	Undo      []models.CommitSummary `json:"undo"`
	Redo      []models.CommitSummary `json:"redo"`
	Audit     []models.CommitSummary `json:"audit"`
}

type commitRequest struct {
	Name string `json:"name"`
}

func summaries(commits []models.Commit) []models.CommitSummary {
	out := make([]models.CommitSummary, len(commits))
	for i, c := range commits {
		out[i] = c.Summary()
	}
	return out
}

// GetHistory lists the undo and redo stacks and the audit log without
// their snapshots.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	hist := h.engine.History()
	writeJSON(w, http.StatusOK, historyResponse{
		CanUndo:   hist.CanUndo(),
		CanRedo:   hist.CanRedo(),
		Restoring: h.engine.Restoring(),
		Undo:      summaries(hist.UndoStack()),
		Redo:      summaries(hist.RedoStack()),
		Audit:     summaries(hist.AuditLog()),
	})
}

// Undo reverts the most recent commit.
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	applied, err := h.engine.Undo()
	if err != nil {
		h.fail(w, r, "undo", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

// Redo re-applies the most recently undone commit.
func (h *Handler) Redo(w http.ResponseWriter, r *http.Request) {
	applied, err := h.engine.Redo()
	if err != nil {
		h.fail(w, r, "redo", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

// AddCommit records a named commit of the current state.
func (h *Handler) AddCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.engine.AddCommit(req.Name)
	if err != nil {
		h.fail(w, r, "commit", err)
		return
	}
	writeJSON(w, http.StatusCreated, c.Summary())
}

// CommitSave records a checkpoint and clears undo and redo. The body is
// optional.
func (h *Handler) CommitSave(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	c, err := h.engine.CommitSave(req.Name)
	if err != nil {
		h.fail(w, r, "save", err)
		return
	}
	writeJSON(w, http.StatusCreated, c.Summary())
}

// RestoreToCommit replaces the remote and local state with a commit's
// snapshot.
func (h *Handler) RestoreToCommit(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.RestoreToCommit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "restore", err)
		return
	}
	writeJSON(w, http.StatusOK, c.Summary())
}
