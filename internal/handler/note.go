package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/fastnotes/internal/middleware"
	"github.com/dukerupert/fastnotes/internal/model"
	"github.com/dukerupert/fastnotes/internal/store"
	"github.com/dukerupert/fastnotes/internal/websocket"
)

const (
	msgNoteNotFound = "Note is not found"
	msgNoteDeleted  = "Note has been deleted"
	msgInternal     = "internal error"
)

// NoteStore is the persistence the handler needs. *store.NoteStore
// implements it.
type NoteStore interface {
	Create(title, content string) (model.Note, error)
	Get(id int64) (model.Note, error)
	List() ([]model.Note, error)
	Update(id int64, title, content string) (model.Note, error)
	Delete(id int64) error
}

type NoteHandler struct {
	notes   NoteStore
	hub     *websocket.Hub
	metrics *middleware.Metrics
	logger  *slog.Logger
}

func NewNoteHandler(notes NoteStore, hub *websocket.Hub, metrics *middleware.Metrics, logger *slog.Logger) *NoteHandler {
	return &NoteHandler{notes: notes, hub: hub, metrics: metrics, logger: logger}
}

func (h *NoteHandler) publish(action string, id int64) {
	if h.hub != nil {
		h.hub.Publish(websocket.NoteEvent(action, id))
	}
}

// noteRequest is the body of create and update. Both fields must be present;
// empty strings are allowed.
type noteRequest struct {
	Title   *string `json:"title" validate:"required"`
	Content *string `json:"content" validate:"required"`
}

func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	note, err := h.notes.Create(*req.Title, *req.Content)
	if err != nil {
		h.storeFailure(w, r, "create", 0, err)
		return
	}
	h.metrics.TrackNoteOperation("create", "ok")
	h.publish(websocket.ActionCreated, note.ID)

	writeJSON(w, http.StatusCreated, note)
}

func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	notes, err := h.notes.List()
	if err != nil {
		h.storeFailure(w, r, "list", 0, err)
		return
	}
	if notes == nil {
		notes = []model.Note{}
	}
	h.metrics.TrackNoteOperation("list", "ok")
	writeJSON(w, http.StatusOK, notes)
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid id")
		return
	}

	note, err := h.notes.Get(id)
	if err != nil {
		h.storeFailure(w, r, "get", id, err)
		return
	}
	h.metrics.TrackNoteOperation("get", "ok")
	writeJSON(w, http.StatusOK, note)
}

func (h *NoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req noteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	note, err := h.notes.Update(id, *req.Title, *req.Content)
	if err != nil {
		h.storeFailure(w, r, "update", id, err)
		return
	}
	h.metrics.TrackNoteOperation("update", "ok")
	h.publish(websocket.ActionUpdated, id)

	writeJSON(w, http.StatusOK, note)
}

func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.notes.Delete(id); err != nil {
		h.storeFailure(w, r, "delete", id, err)
		return
	}
	h.metrics.TrackNoteOperation("delete", "ok")
	h.publish(websocket.ActionDeleted, id)

	writeJSON(w, http.StatusOK, map[string]string{"message": msgNoteDeleted})
}

// storeFailure is the one place store errors become HTTP statuses.
func (h *NoteHandler) storeFailure(w http.ResponseWriter, r *http.Request, op string, id int64, err error) {
	if errors.Is(err, store.ErrNotFound) {
		h.metrics.TrackNoteOperation(op, "not_found")
		writeDetail(w, http.StatusNotFound, msgNoteNotFound)
		return
	}

	h.metrics.TrackNoteOperation(op, "error")
	attrs := []any{"op", op, "error", err}
	if id != 0 {
		attrs = append(attrs, "id", id)
	}
	var se *store.StorageError
	if errors.As(err, &se) {
		attrs = append(attrs, "storage_op", se.Op)
	}
	if rid := middleware.RequestIDFrom(r.Context()); rid != "" {
		attrs = append(attrs, "request_id", rid)
	}
	h.logger.ErrorContext(r.Context(), "note store failure", attrs...)
	writeDetail(w, http.StatusInternalServerError, msgInternal)
}
