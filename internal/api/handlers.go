package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/WinkyTy/layout-converter/internal/convert"
	"github.com/WinkyTy/layout-converter/internal/detect"
	"github.com/WinkyTy/layout-converter/internal/layout"
	"github.com/WinkyTy/layout-converter/internal/loader"
	"github.com/WinkyTy/layout-converter/internal/metrics"
	"github.com/WinkyTy/layout-converter/internal/registry"
)

// LayoutSummary is one entry of the layout listing.
type LayoutSummary struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	FamilyID       int     `json:"family_id"`
	LayoutID       int     `json:"layout_id"`
	Language       string  `json:"language,omitempty"`
	FrequencyScore float64 `json:"frequency_score"`
	Keys           int     `json:"keys"`
}

// ConvertRequest is the body of POST /v1/convert.
type ConvertRequest struct {
	Text string `json:"text"`
	From string `json:"from"`
	To   string `json:"to"`
	// Lenient overrides the server default for this request.
	Lenient *bool `json:"lenient,omitempty"`
}

// BatchRequest is the body of POST /v1/convert/batch.
type BatchRequest struct {
	Texts   []string `json:"texts"`
	From    string   `json:"from"`
	To      string   `json:"to"`
	Lenient *bool    `json:"lenient,omitempty"`
}

// BatchResponse carries one result per input text, in input order.
type BatchResponse struct {
	Results []convert.Result `json:"results"`
}

// DetectRequest is the body of POST /v1/detect.
type DetectRequest struct {
	Text string `json:"text"`
	Hint string `json:"hint,omitempty"`
	// Report adds the pairwise conversions of the detected layouts.
	Report bool `json:"report,omitempty"`
}

func (s *Server) handleListLayouts(w http.ResponseWriter, r *http.Request) {
	entries := s.reg.Snapshot()
	out := make([]LayoutSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, LayoutSummary{
			ID:             e.ID,
			Name:           e.Layout.Name(),
			FamilyID:       int(e.Layout.Family()),
			LayoutID:       e.Layout.Variant(),
			Language:       e.Layout.Language(),
			FrequencyScore: e.Layout.FrequencyScore(),
			Keys:           e.Layout.Len(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"layouts": out})
}

func (s *Server) handleGetLayout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	def, err := s.reg.Lookup(id)
	if err != nil {
		writeError(w, err)
		return
	}
	d := def.Descriptor()
	d.ID = id
	writeJSON(w, http.StatusOK, d)
}

// handlePutLayout installs or replaces a layout. The body is a JSON layout
// document, the same format as layout files.
func (s *Server) handlePutLayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	d, err := loader.Parse(body, loader.FormatJSON)
	if err != nil {
		s.metrics.RecordLayoutLoad("api", metrics.OutcomeInvalid)
		writeError(w, err)
		return
	}
	if strings.TrimSpace(d.ID) != id {
		writeError(w, badRequest("id_mismatch", fmt.Sprintf("body id %q does not match path id %q", d.ID, id)))
		return
	}
	def, err := layout.New(d)
	if err != nil {
		s.metrics.RecordLayoutLoad("api", metrics.OutcomeInvalid)
		writeError(w, err)
		return
	}

	if s.store != nil {
		if err := s.store.SaveLayout(ctx, d, "api"); err != nil {
			s.metrics.RecordLayoutLoad("api", metrics.OutcomeError)
			s.logger.WithContext(ctx).Error("persist layout failed", "layout", id, "error", err)
			writeError(w, err)
			return
		}
	}

	_, existed := s.reg.Get(id)
	if err := s.reg.Load(id, def); err != nil {
		s.metrics.RecordLayoutLoad("api", metrics.OutcomeInvalid)
		writeError(w, err)
		return
	}
	s.metrics.RecordLayoutLoad("api", metrics.OutcomeOK)
	s.metrics.SetLayouts(s.reg.Len())
	s.logger.WithContext(ctx).Info("layout installed", "layout", id, "replaced", existed)

	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, def.Descriptor())
}

func (s *Server) handleDeleteLayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	removed := s.reg.Remove(id)
	if s.store != nil {
		deleted, err := s.store.DeleteLayout(ctx, id)
		if err != nil {
			s.logger.WithContext(ctx).Error("delete stored layout failed", "layout", id, "error", err)
			writeError(w, err)
			return
		}
		removed = removed || deleted
	}
	if !removed {
		writeError(w, &registry.NotFoundError{ID: id, Suggestion: s.reg.Suggest(id)})
		return
	}

	s.metrics.RecordLayoutLoad("api", "removed")
	s.metrics.SetLayouts(s.reg.Len())
	s.logger.WithContext(ctx).Info("layout removed", "layout", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := requireLayouts(req.From, req.To); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	from, to := s.layoutLabel(req.From), s.layoutLabel(req.To)
	res, err := s.engine.Convert(req.Text, req.From, req.To)
	if s.isLenient(req.Lenient) {
		res, err = convert.Lenient(req.Text, res, err)
	}
	if err != nil {
		s.metrics.RecordConversion(from, to, outcome(err), 0, time.Since(start))
		writeError(w, err)
		return
	}
	s.metrics.RecordConversion(from, to, metrics.OutcomeOK, res.Confidence, time.Since(start))
	s.logger.WithContext(r.Context()).Debug("converted",
		"from", req.From, "to", req.To, "text", req.Text, "converted", res.Text)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleConvertBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := requireLayouts(req.From, req.To); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, badRequest("missing_field", "texts is required"))
		return
	}
	if len(req.Texts) > s.maxBatch {
		writeError(w, badRequest("batch_too_large", fmt.Sprintf("batch of %d exceeds limit %d", len(req.Texts), s.maxBatch)))
		return
	}

	start := time.Now()
	from, to := s.layoutLabel(req.From), s.layoutLabel(req.To)
	results, err := s.engine.ConvertBatch(r.Context(), req.Texts, req.From, req.To)
	if err != nil && errors.Is(err, registry.ErrLayoutNotFound) && s.isLenient(req.Lenient) {
		results = make([]convert.Result, len(req.Texts))
		for i, text := range req.Texts {
			results[i], _ = convert.Lenient(text, convert.Result{}, err)
		}
		err = nil
	}
	if err != nil {
		s.metrics.RecordConversion(from, to, outcome(err), 0, time.Since(start))
		writeError(w, err)
		return
	}
	for _, res := range results {
		s.metrics.RecordConversion(from, to, metrics.OutcomeOK, res.Confidence, 0)
	}
	writeJSON(w, http.StatusOK, BatchResponse{Results: results})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	scorer := s.scorer.Load()
	var report detect.Report
	if req.Report {
		report = scorer.Report(req.Text, req.Hint)
	} else {
		report = detect.Report{Text: req.Text, Scores: scorer.Detect(req.Text, req.Hint)}
	}
	if report.Scores == nil {
		report.Scores = []detect.Score{}
	}

	var top string
	if len(report.Scores) > 0 {
		top = report.Scores[0].LayoutID
	}
	s.metrics.RecordDetection(top, time.Since(start))
	s.logger.WithContext(r.Context()).Debug("detected", "text", req.Text, "hint", req.Hint, "top", top)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) isLenient(override *bool) bool {
	if override != nil {
		return *override
	}
	return s.lenient.Load()
}

func requireLayouts(from, to string) error {
	switch {
	case strings.TrimSpace(from) == "":
		return badRequest("missing_field", "from is required")
	case strings.TrimSpace(to) == "":
		return badRequest("missing_field", "to is required")
	}
	return nil
}

// layoutLabel keeps metric label values to registered ids so request input
// cannot grow the series set.
func (s *Server) layoutLabel(id string) string {
	if _, ok := s.reg.Get(id); ok {
		return id
	}
	return metrics.UnknownLayout
}

func outcome(err error) string {
	if errors.Is(err, registry.ErrLayoutNotFound) {
		return metrics.OutcomeNotFound
	}
	return metrics.OutcomeError
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, badRequest("body_too_large", fmt.Sprintf("request body exceeds %d bytes", mbe.Limit))
		}
		return nil, badRequest("bad_request", "read body: "+err.Error())
	}
	return body, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("bad_request", "decode body: "+err.Error())
	}
	return nil
}
