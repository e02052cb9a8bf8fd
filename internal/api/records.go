package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/sitescout/internal/fulltext"
	"github.com/JakeFAU/sitescout/internal/resource"
)

// reserved query parameters of the list endpoint; everything else filters.
var listParams = map[string]struct{}{"limit": {}, "offset": {}}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	if !s.recordsReady(w) {
		return
	}
	q := r.URL.Query()
	filter := resource.Filter{}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	for key, values := range q {
		if _, reserved := listParams[key]; reserved || len(values) == 0 {
			continue
		}
		if filter.Where == nil {
			filter.Where = make(map[string]any)
		}
		filter.Where[key] = values[0]
	}

	records, err := s.deps.Records.Query(r.Context(), chi.URLParam(r, "resource"), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []resource.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	if !s.recordsReady(w) {
		return
	}
	var rec resource.Record
	if err := decodeJSON(w, r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.deps.Records.Insert(r.Context(), chi.URLParam(r, "resource"), rec)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	if !s.recordsReady(w) {
		return
	}
	rec, err := s.deps.Records.Get(r.Context(), chi.URLParam(r, "resource"), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) updateRecord(w http.ResponseWriter, r *http.Request) {
	if !s.recordsReady(w) {
		return
	}
	var patch resource.Record
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.deps.Records.Update(r.Context(), chi.URLParam(r, "resource"), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	if !s.recordsReady(w) {
		return
	}
	if err := s.deps.Records.Delete(r.Context(), chi.URLParam(r, "resource"), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// search answers GET /v1/search/{resource}?q=...; records=true resolves hits
// to the stored records with a _searchScore attribute.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if !s.indexReady(w) {
		return
	}
	q := r.URL.Query()
	opts := fulltext.SearchOptions{}
	var err error
	if opts.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if opts.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	if raw := q.Get("fields"); raw != "" {
		for _, field := range strings.Split(raw, ",") {
			if field = strings.TrimSpace(field); field != "" {
				opts.Fields = append(opts.Fields, field)
			}
		}
	}
	if raw := q.Get("exact"); raw != "" {
		if opts.ExactMatch, err = strconv.ParseBool(raw); err != nil {
			writeError(w, http.StatusBadRequest, "exact must be a boolean")
			return
		}
	}

	res := chi.URLParam(r, "resource")
	query := q.Get("q")
	if q.Get("records") == "true" {
		records, err := s.deps.Index.SearchRecords(r.Context(), res, query, opts)
		if err != nil {
			writeSearchError(w, err)
			return
		}
		if records == nil {
			records = []resource.Record{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
		return
	}
	hits, err := s.deps.Index.Search(r.Context(), res, query, opts)
	if err != nil {
		writeSearchError(w, err)
		return
	}
	if hits == nil {
		hits = []fulltext.Hit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits, "count": len(hits)})
}

func (s *Server) indexStats(w http.ResponseWriter, _ *http.Request) {
	if !s.indexReady(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Index.IndexStats())
}

func (s *Server) rebuildResource(w http.ResponseWriter, r *http.Request) {
	if !s.indexReady(w) {
		return
	}
	res := chi.URLParam(r, "resource")
	if s.deps.Index.Excluded(res) {
		writeError(w, http.StatusBadRequest, "resource is excluded from indexing")
		return
	}
	if err := s.deps.Index.RebuildIndex(r.Context(), res); err != nil {
		writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Index.IndexStats().Resources[res])
}

func (s *Server) rebuildAll(w http.ResponseWriter, r *http.Request) {
	if !s.indexReady(w) {
		return
	}
	err := s.deps.Index.RebuildAllIndexes(r.Context(), s.deps.RebuildTimeout)
	switch {
	case errors.Is(err, fulltext.ErrRebuildTimeout):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, s.deps.Index.IndexStats())
	}
}

func (s *Server) recordsReady(w http.ResponseWriter) bool {
	if s.deps.Records == nil {
		writeError(w, http.StatusServiceUnavailable, "resource store is not configured")
		return false
	}
	return true
}

func (s *Server) indexReady(w http.ResponseWriter) bool {
	if s.deps.Index == nil {
		writeError(w, http.StatusServiceUnavailable, "full-text index is disabled")
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, resource.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, resource.ErrExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, resource.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeSearchError(w http.ResponseWriter, err error) {
	var notFound *fulltext.ResourceNotFoundError
	switch {
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":     err.Error(),
			"available": notFound.Available,
		})
	case errors.Is(err, fulltext.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative value")
	}
	return n, nil
}
