package station

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sunterra/fieldrecord/capture"
	"github.com/sunterra/fieldrecord/connectivity"
	"github.com/sunterra/fieldrecord/formsession"
	"github.com/sunterra/fieldrecord/render"
	"github.com/sunterra/fieldrecord/shield"
	"github.com/sunterra/fieldrecord/snapshot"
)

// Handler returns the station's HTTP API.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.Stack(s.logger, s.cfg.MaxBody) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	// Same-origin reachability target for the page's own probe.
	r.Get("/probe", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusNoContent)
	})

	r.Route("/api/itr", func(r chi.Router) {
		r.Get("/", s.handleITRGet)
		r.Patch("/fields", s.handleITRFields)
		r.Put("/test-results/{row}/{attr}", s.handleITRTestResult)
		r.Put("/signature", s.handleITRSignature)
		r.Post("/apply-all", s.handleITRApplyAll)
		r.Post("/submit", s.handleSubmit(FormITR))
		r.Delete("/", s.handleClear(FormITR))
		r.Get("/summary.md", s.handleSummary(FormITR))
		r.Post("/export/{kind}", s.handleExport(FormITR))
	})
	r.Get("/itr/print", s.handlePrint(FormITR))

	r.Route("/api/vo", func(r chi.Router) {
		r.Get("/", s.handleVOGet)
		r.Patch("/", s.handleVOUpdate)
		r.Post("/items", s.handleVOAddItem)
		r.Patch("/items/{id}", s.handleVOUpdateItem)
		r.Delete("/items/{id}", s.handleVODeleteItem)
		r.Put("/signatures/{who}", s.handleVOSignature)
		r.Post("/submit", s.handleSubmit(FormVO))
		r.Delete("/", s.handleClear(FormVO))
		r.Get("/summary.md", s.handleSummary(FormVO))
		r.Post("/export/{kind}", s.handleExport(FormVO))
	})
	r.Get("/vo/print", s.handlePrint(FormVO))

	r.Post("/api/connectivity/events", s.handleConnectivityEvent)
	r.Get("/api/connectivity", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.monitor.Status())
	})
	r.Get("/api/drafts", func(w http.ResponseWriter, r *http.Request) {
		list, err := s.Drafts(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	})
	r.Get("/api/activity", s.handleActivity)
	r.Handle("/ws", s.hub)

	if s.mcp != nil {
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
		r.Handle("/mcp", h)
	}
	return r
}

// --- inspection ---

func (s *Service) handleITRGet(w http.ResponseWriter, _ *http.Request) {
	raw, err := s.cfg.Codec.Encode(s.itr.session.Snapshot())
	if err != nil {
		s.logger.Error("station: encode inspection", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := map[string]any{"draft": json.RawMessage(raw)}
	if ev, ok := s.itr.auto.LastSaved(); ok {
		resp["saved"] = savedMessage(FormITR, ev)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleITRFields(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if !decode(w, r, &patch) {
		return
	}
	if err := s.itr.session.SetFields(patch); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type valueRequest struct {
	Value string `json:"value"`
}

func (s *Service) handleITRTestResult(w http.ResponseWriter, r *http.Request) {
	row, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("row: %w", err))
		return
	}
	var req valueRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.itr.session.SetTestResult(row, chi.URLParam(r, "attr"), req.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type signatureRequest struct {
	DataURL string `json:"dataUrl"`
}

func (s *Service) handleITRSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if !decode(w, r, &req) {
		return
	}
	s.itr.session.SetSignature(req.DataURL)
	w.WriteHeader(http.StatusNoContent)
}

type applyAllRequest struct {
	Section    string `json:"section"`
	Date       string `json:"date"`
	VerifiedBy string `json:"verifiedBy"`
}

func (s *Service) handleITRApplyAll(w http.ResponseWriter, r *http.Request) {
	var req applyAllRequest
	if !decode(w, r, &req) {
		return
	}
	var date snapshot.Date
	if req.Date != "" {
		d, err := snapshot.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		date = d
	}
	n, err := s.itr.session.ApplyToAll(req.Section, date, req.VerifiedBy)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// --- variation order ---

type orderView struct {
	Order formsession.Order `json:"order"`
	Total string            `json:"total"`
	Saved *Message          `json:"saved,omitempty"`
}

func (s *Service) orderView() orderView {
	v := orderView{Order: s.vo.session.Record(), Total: render.FormatAUD(s.vo.session.Total())}
	if ev, ok := s.vo.auto.LastSaved(); ok {
		m := savedMessage(FormVO, ev)
		v.Saved = &m
	}
	return v
}

func (s *Service) handleVOGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orderView())
}

func (s *Service) handleVOUpdate(w http.ResponseWriter, r *http.Request) {
	var p formsession.HeaderPatch
	if !decode(w, r, &p) {
		return
	}
	s.vo.session.Update(p)
	writeJSON(w, http.StatusOK, s.orderView())
}

func (s *Service) handleVOAddItem(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, s.vo.session.AddItem())
}

func (s *Service) handleVOUpdateItem(w http.ResponseWriter, r *http.Request) {
	var p formsession.ItemPatch
	if !decode(w, r, &p) {
		return
	}
	it, err := s.vo.session.UpdateItem(chi.URLParam(r, "id"), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Service) handleVODeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.vo.session.DeleteItem(chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleVOSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.vo.session.SetSignature(formsession.Signer(chi.URLParam(r, "who")), req.DataURL); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- shared ---

func (s *Service) handleSubmit(form string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Submit(r.Context(), form)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Service) handleClear(form string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Clear(r.Context(), form); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Service) document(form string) render.Document {
	if form == FormVO {
		return s.vo.session.Document()
	}
	return s.itr.session.Document(s.cfg.Clock.Now().In(s.cfg.Codec.Location))
}

func (s *Service) handlePrint(form string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := s.cfg.Renderer.HTML(s.document(form))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(out)
	}
}

func (s *Service) handleSummary(form string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		md, err := s.cfg.Renderer.Markdown(s.document(form))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(md))
	}
}

func (s *Service) handleExport(form string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		out, err := s.export(r.Context(), form, kind, r.UserAgent())
		if errors.Is(err, capture.ErrBusy) || errors.Is(err, formsession.ErrInvalid) {
			s.fail(w, r, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, errors.New("generation failed"))
			return
		}
		art := out.Artifact
		w.Header().Set("X-Capture-ID", out.Job)
		if art.Inline {
			page, err := s.cfg.Renderer.Viewer(art.Name, art.Data)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write(page)
			return
		}
		w.Header().Set("Content-Type", art.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
		w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
		w.Write(art.Data)
	}
}

type eventRequest struct {
	Event string `json:"event"`
}

func (s *Service) handleConnectivityEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decode(w, r, &req) {
		return
	}
	kind, err := connectivity.ParseEventKind(req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.cfg.Feed.Publish(kind)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Service) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Activity == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	events, err := s.cfg.Activity.Recent(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return false
	}
	return true
}

// fail maps a domain error to a status code. Validation failures carry the
// missing labels; unexpected errors are logged and not echoed.
func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *formsession.ValidationError
	switch {
	case errors.As(err, &verr):
		body := map[string]any{"error": verr.Error()}
		if len(verr.Missing) > 0 {
			body["missing"] = verr.Missing
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.Is(err, formsession.ErrBadField), errors.Is(err, snapshot.ErrCorruptDraft):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, formsession.ErrReadOnly), errors.Is(err, formsession.ErrLastItem):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, formsession.ErrNoItem):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, capture.ErrBusy):
		writeError(w, http.StatusConflict, errors.New("another export is in progress"))
	default:
		shield.GetLogger(r.Context()).Error("station: request failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}
