package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"spendwise/internal/core"
	"spendwise/internal/log"
)

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel, err := core.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		writeError(w, r, log.OpImport, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(http.StatusRequestEntityTooLarge, "too_large", "export file too large").Write(w)
			return
		}
		BadRequestError("multipart field \"file\" is required").Write(w)
		return
	}
	defer file.Close()

	batch, err := s.deps.Importer.Import(ctx, channel, header.Filename, file)
	if err != nil {
		writeError(w, r, log.OpImport, err)
		return
	}
	log.FromContext(ctx).InfoContext(ctx, "Export imported",
		"channel", channel,
		"file", header.Filename,
		"imported", batch.RecordsImported,
		"duplicates", batch.RecordsSkippedDuplicate)

	NewJSONResponse().Status(http.StatusCreated).Body(newImportBatchResponse(batch)).Write(w)
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r.URL.Query())
	if err != nil {
		writeError(w, r, "list_imports", err)
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}
	batches, err := s.deps.Expenses.ImportBatches(r.Context(), n)
	if err != nil {
		writeError(w, r, "list_imports", err)
		return
	}
	out := make([]importBatchResponse, len(batches))
	for i, b := range batches {
		out[i] = newImportBatchResponse(b)
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	f, err := ParseExpenseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	page, err := s.deps.Expenses.List(r.Context(), f)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(newExpensePageResponse(page)).Write(w)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, "get_expense", err)
		return
	}
	e, err := s.deps.Expenses.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, "get_expense", err)
		return
	}
	NewJSONResponse().Body(newExpenseResponse(e)).Write(w)
}

func (s *Server) handleConfirmCategories(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, log.OpConfirm, err)
		return
	}
	var req categoriesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, log.OpConfirm, err)
		return
	}
	e, err := s.deps.Expenses.ConfirmCategories(r.Context(), id, core.UserCategories{L1: req.L1, L2: req.L2})
	if err != nil {
		writeError(w, r, log.OpConfirm, err)
		return
	}
	NewJSONResponse().Body(newExpenseResponse(e)).Write(w)
}

func (s *Server) handleSetHidden(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, log.OpHide, err)
		return
	}
	var req hiddenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, log.OpHide, err)
		return
	}
	if req.Hidden == nil {
		BadRequestError("field \"hidden\" is required").Write(w)
		return
	}
	if err := s.deps.Expenses.SetHidden(r.Context(), id, *req.Hidden); err != nil {
		writeError(w, r, log.OpHide, err)
		return
	}
	e, err := s.deps.Expenses.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, log.OpHide, err)
		return
	}
	NewJSONResponse().Body(newExpenseResponse(e)).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.deps.Expenses.Delete(r.Context(), id); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClassifyOne(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, log.OpClassify, err)
		return
	}
	e, err := s.deps.Classification.ClassifySingle(r.Context(), id)
	if err != nil {
		writeError(w, r, log.OpClassify, err)
		return
	}
	NewJSONResponse().Body(newExpenseResponse(e)).Write(w)
}

func (s *Server) handleClassifyBatch(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r.URL.Query())
	if err != nil {
		writeError(w, r, log.OpBatch, err)
		return
	}
	summary, err := s.deps.Classification.ClassifyBatch(r.Context(), limit)
	if err != nil {
		writeError(w, r, log.OpBatch, err)
		return
	}
	NewJSONResponse().Body(summary).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	dr, err := ParseDateRange(r.URL.Query())
	if err != nil {
		writeError(w, r, "summary", err)
		return
	}
	sum, err := s.deps.Analytics.Summary(r.Context(), dr)
	if err != nil {
		writeError(w, r, "summary", err)
		return
	}
	NewJSONResponse().Body(sum).Write(w)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	dr, err := ParseDateRange(r.URL.Query())
	if err != nil {
		writeError(w, r, "channels", err)
		return
	}
	totals, err := s.deps.Analytics.SpendingByChannel(r.Context(), dr)
	if err != nil {
		writeError(w, r, "channels", err)
		return
	}
	NewJSONResponse().Body(totals).Write(w)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dr, err := ParseDateRange(q)
	if err != nil {
		writeError(w, r, "trend", err)
		return
	}
	g, err := core.ParseGranularity(q.Get("granularity"))
	if err != nil {
		writeError(w, r, "trend", err)
		return
	}
	points, err := s.deps.Analytics.Trend(r.Context(), dr, g)
	if err != nil {
		writeError(w, r, "trend", err)
		return
	}
	NewJSONResponse().Body(points).Write(w)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	dr, err := ParseDateRange(r.URL.Query())
	if err != nil {
		writeError(w, r, "categories", err)
		return
	}
	totals, err := s.deps.Analytics.SpendingByCategoryL1(r.Context(), dr)
	if err != nil {
		writeError(w, r, "categories", err)
		return
	}
	NewJSONResponse().Body(totals).Write(w)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(newSettingsResponse(s.deps.Settings.Current())).Write(w)
}

// handleReloadSettings swaps in a fresh snapshot. A rejected reload keeps
// the previous one and reports why.
func (s *Server) handleReloadSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := s.deps.Settings.Reload(ctx)
	if err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Settings reload rejected",
			log.FieldOperation, log.OpReload,
			log.FieldError, err)
		ErrorResponse(http.StatusUnprocessableEntity, "invalid_settings", err.Error()).Write(w)
		return
	}
	log.FromContext(ctx).InfoContext(ctx, "Settings reloaded",
		log.FieldOperation, log.OpReload,
		"default_service", snap.DefaultService().Name,
		"categories", snap.Taxonomy().Len())
	NewJSONResponse().Body(newSettingsResponse(snap)).Write(w)
}
