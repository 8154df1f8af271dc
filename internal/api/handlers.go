package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/ingest"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/store"
)

// Handler holds API route handlers.
type Handler struct {
	co     *ingest.Coordinator
	store  *store.DB
	idx    *index.DB
	engine *query.Engine
}

// NewHandler creates a new Handler.
func NewHandler(co *ingest.Coordinator, st *store.DB, idx *index.DB, engine *query.Engine) *Handler {
	return &Handler{co: co, store: st, idx: idx, engine: engine}
}

// Ingest handles POST /api/notes: raw text plus a source identity.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Source == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("source and content are required"))
		return
	}

	id, err := h.co.Ingest(r.Context(), req.Source, []byte(req.Content))
	if err != nil {
		var ie *apperr.IngestError
		switch {
		case errors.Is(err, apperr.ErrIndexing):
			// Stored but not indexed: degraded, still addressable by id.
			resp := IngestResponse{ID: id, Warning: "indexing failed; note is stored but not searchable"}
			if errors.As(err, &ie) {
				resp.Stage = ie.Stage
			}
			writeJSON(w, http.StatusCreated, resp)
		case errors.Is(err, apperr.ErrValidation):
			writeJSON(w, http.StatusBadRequest, ingestFailure(err))
		case errors.Is(err, apperr.ErrConflictInFlight):
			writeJSON(w, http.StatusConflict, ingestFailure(err))
		default:
			slog.Error("ingest failed", slog.String("source", req.Source), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, ingestFailure(err))
		}
		return
	}
	writeJSON(w, http.StatusCreated, IngestResponse{ID: id})
}

// ingestFailure reports the source identity and failing stage.
func ingestFailure(err error) errResponse {
	var ie *apperr.IngestError
	if errors.As(err, &ie) {
		return errResponse{Error: ie.Err.Error(), Source: ie.Source, Stage: ie.Stage}
	}
	return errorBody(err.Error())
}

// ListNotes handles GET /api/notes with status/tag filters and paging.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	notes, err := h.store.List(r.Context(), store.Filter{
		Status: q.Get("status"),
		Tag:    q.Get("tag"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		slog.Error("list notes failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	items := make([]models.Summary, len(notes))
	for i, n := range notes {
		items[i] = models.Summary{
			ID:        n.ID,
			Source:    n.Source,
			Title:     n.Title,
			Tags:      n.Tags,
			Status:    n.Status,
			UpdatedAt: n.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items})
}

// GetNote handles GET /api/notes/{id}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get note failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}

	bl, err := h.idx.Backrefs(r.Context(), n.Source)
	if err != nil {
		slog.Error("backlinks failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if bl == nil {
		bl = []string{}
	}
	writeJSON(w, http.StatusOK, NoteDetail{Note: *n, Backlinks: bl})
}

// SetStatus handles PUT /api/notes/{id}/status.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.store.SetStatus(r.Context(), id, req.Status); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrValidation):
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		default:
			slog.Error("set status failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search. The query descriptor arrives as query
// parameters: kind=tag|text|links plus the kind's parameters.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	qp := r.URL.Query()
	depth, _ := strconv.Atoi(qp.Get("depth"))
	limit, _ := strconv.Atoi(qp.Get("limit"))

	q := query.Query{
		Kind:      qp.Get("kind"),
		Tag:       qp.Get("tag"),
		Text:      qp.Get("q"),
		NoteID:    qp.Get("note_id"),
		Direction: qp.Get("direction"),
		Depth:     depth,
		Limit:     limit,
	}
	if q.Kind == "" {
		// Bare ?q= defaults to free-text search.
		q.Kind = query.KindText
	}
	h.runSearch(w, r, q)
}

// Links handles GET /api/notes/{id}/links: inbound or outbound
// traversal from one note.
func (h *Handler) Links(w http.ResponseWriter, r *http.Request) {
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	h.runSearch(w, r, query.Query{
		Kind:      query.KindLinks,
		NoteID:    chi.URLParam(r, "id"),
		Direction: r.URL.Query().Get("direction"),
		Depth:     depth,
		Limit:     limit,
	})
}

func (h *Handler) runSearch(w http.ResponseWriter, r *http.Request, q query.Query) {
	results, err := h.engine.Search(r.Context(), q)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrValidation):
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrTimeout):
			writeJSON(w, http.StatusGatewayTimeout, errorBody(err.Error()))
		default:
			slog.Error("search failed", slog.String("kind", q.Kind), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	if results == nil {
		results = []models.Summary{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Graph handles GET /api/graph.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	notes, err := h.store.All(r.Context())
	if err != nil {
		slog.Error("graph failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	edges, err := h.idx.Graph(r.Context())
	if err != nil {
		slog.Error("graph failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	nodes := make([]models.Summary, len(notes))
	for i, n := range notes {
		nodes[i] = models.Summary{ID: n.ID, Source: n.Source, Title: n.Title, Status: n.Status, UpdatedAt: n.UpdatedAt}
	}
	if edges == nil {
		edges = []models.Link{}
	}
	writeJSON(w, http.StatusOK, GraphResponse{Nodes: nodes, Edges: edges})
}

// Rebuild handles POST /api/rebuild: full index reconstruction from the
// note store.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if err := h.co.Rebuild(r.Context()); err != nil {
		slog.Error("rebuild failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
