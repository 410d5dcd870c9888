// Package consignments_api exposes the dashboard's REST surface: AWB
// registration, paged summaries, detail views, stats, on-demand tracking and
// manual refresh.
package consignments_api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/parcelops/trackdesk/internal/apperr"
	"github.com/parcelops/trackdesk/internal/models"
	"github.com/parcelops/trackdesk/internal/services/consignments"
	syncsvc "github.com/parcelops/trackdesk/internal/services/sync"
	"github.com/parcelops/trackdesk/internal/storage/pgconsignment"
	"github.com/pkg/errors"
)

type ConsignmentService interface {
	Register(ctx context.Context, awbs []string) ([]*models.Consignment, error)
	Page(ctx context.Context, filter pgconsignment.PageFilter, page, pageSize int) (consignments.Page, error)
	Detail(ctx context.Context, awb string) (consignments.Detail, error)
	Stats(ctx context.Context) (pgconsignment.Stats, error)
	Refresh(ctx context.Context, awb string) error
}

type Syncer interface {
	SyncBatch(ctx context.Context, awbs []string) (syncsvc.BatchResult, error)
}

type Handler struct {
	svc    ConsignmentService
	syncer Syncer

	// Optional: kicks the background poller so a refreshed AWB is picked up
	// without waiting for the next tick.
	trigger func()
}

func NewHandler(svc ConsignmentService, syncer Syncer) *Handler {
	return &Handler{svc: svc, syncer: syncer}
}

func (h *Handler) WithTrigger(trigger func()) *Handler {
	h.trigger = trigger
	return h
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/track", h.Track)
		r.Get("/stats", h.Stats)
		r.Route("/consignments", func(r chi.Router) {
			r.Post("/", h.Register)
			r.Get("/", h.List)
			r.Get("/{awb}", h.Detail)
			r.Post("/{awb}/refresh", h.Refresh)
		})
	})
	return r
}

type awbsRequest struct {
	Consignments []string `json:"consignments"`
}

// Track handles POST /api/track: fetch, persist and return fresh tracking for
// a batch of AWBs, synchronously.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var req awbsRequest
	if ok := decodeJSON(w, r, &req); !ok {
		return
	}

	res, err := h.syncer.SyncBatch(r.Context(), req.Consignments)
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, res)
	case errors.Is(err, apperr.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// The client went away mid-batch; completed outcomes are already
		// persisted, so report what finished.
		writeJSON(w, r, http.StatusOK, res)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// Register handles POST /api/consignments.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req awbsRequest
	if ok := decodeJSON(w, r, &req); !ok {
		return
	}

	created, err := h.svc.Register(r.Context(), req.Consignments)
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusCreated, map[string]any{"consignments": created})
	case errors.Is(err, apperr.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// List handles GET /api/consignments with search/status/date filters and
// pagination.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := intQuery(r, "page", 1)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid page")
		return
	}
	pageSize, ok := intQuery(r, "pageSize", 50)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid pageSize")
		return
	}
	from, ok := dateQuery(r, "from")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid from date, want YYYY-MM-DD")
		return
	}
	to, ok := dateQuery(r, "to")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid to date, want YYYY-MM-DD")
		return
	}

	filter := pgconsignment.PageFilter{
		Search: r.URL.Query().Get("search"),
		Status: r.URL.Query().Get("status"),
		From:   from,
		To:     to,
	}

	res, err := h.svc.Page(r.Context(), filter, page, pageSize)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// Detail handles GET /api/consignments/{awb}.
func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	awb := chi.URLParam(r, "awb")

	d, err := h.svc.Detail(r.Context(), awb)
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, d)
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, apperr.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, r, http.StatusOK, s)
}

// Refresh handles POST /api/consignments/{awb}/refresh: mark the AWB due now
// so the next worker cycle re-polls it.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	awb := chi.URLParam(r, "awb")

	err := h.svc.Refresh(r.Context(), awb)
	switch {
	case err == nil:
		if h.trigger != nil {
			h.trigger()
		}
		writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "scheduled"})
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, apperr.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
