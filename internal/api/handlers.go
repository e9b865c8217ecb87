package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lineage-cli/internal/benchmark"
	"github.com/sells-group/lineage-cli/internal/binder"
	"github.com/sells-group/lineage-cli/internal/engine"
	"github.com/sells-group/lineage-cli/internal/model"
)

func (s *Server) decode(r *http.Request, v any) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return invalid(eris.Wrap(err, "api: decode body"))
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalid(eris.Errorf("api: %s must be a non-negative integer", key))
	}
	return n, nil
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.engine.Datasets())
}

type datasetResponse struct {
	model.DatasetInfo
	Fields  []string        `json:"fields"`
	Periods []string        `json:"periods"`
	Rows    [][]model.Value `json:"rows"`
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	version, err := queryInt(r, "version")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ds, err := s.engine.Dataset(chi.URLParam(r, "name"), version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, datasetResponse{
		DatasetInfo: ds.Info(),
		Fields:      ds.Fields,
		Periods:     ds.Periods,
		Rows:        ds.Rows(),
	})
}

func (s *Server) ingestDataset(w http.ResponseWriter, r *http.Request) {
	var table model.Table
	if err := s.decode(r, &table); err != nil {
		s.fail(w, r, err)
		return
	}
	ds, err := s.engine.Ingest(r.Context(), chi.URLParam(r, "name"), &table)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ds.Info())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	version, err := queryInt(r, "version")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if q.Get("dataset") == "" || q.Get("field") == "" || q.Get("period") == "" {
		s.fail(w, r, invalid(eris.New("api: dataset, field and period are required")))
		return
	}
	dp, err := s.engine.Lookup(q.Get("dataset"), q.Get("field"), q.Get("period"), version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, dp)
}

func (s *Server) movements(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	if field == "" {
		s.fail(w, r, invalid(eris.New("api: field is required")))
		return
	}
	series, err := s.engine.Movements(r.Context(), chi.URLParam(r, "name"), field)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, series)
}

type defineRequest struct {
	Formula  string           `json:"formula"`
	Bindings []engine.Binding `json:"bindings"`
	ID       string           `json:"id,omitempty"`
	Evaluate bool             `json:"evaluate,omitempty"`
}

func (s *Server) defineNode(w http.ResponseWriter, r *http.Request) {
	var req defineRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.engine.Define(r.Context(), req.Formula, req.Bindings, req.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Evaluate {
		if _, err := s.engine.Evaluate(r.Context(), n.ID); err != nil {
			s.fail(w, r, err)
			return
		}
		if n, err = s.engine.Node(n.ID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, n)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Node(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, n)
}

type valueResponse struct {
	NodeID  string      `json:"node_id"`
	Value   model.Value `json:"value"`
	Display string      `json:"display"`
}

func (s *Server) evaluateNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := s.engine.Evaluate(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, valueResponse{NodeID: id, Value: v, Display: v.String()})
}

func (s *Server) lineage(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.engine.Lineage(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, nodes)
}

func (s *Server) listBenchmarks(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.engine.Benchmarks())
}

type benchmarkResponse struct {
	Result *model.BenchmarkResult `json:"result"`
	Report []model.ReportRow      `json:"report"`
}

func (s *Server) writeBenchmark(w http.ResponseWriter, r *http.Request, res *model.BenchmarkResult, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, benchmarkResponse{Result: res, Report: res.Report()})
}

func (s *Server) runBenchmark(w http.ResponseWriter, r *http.Request) {
	var def benchmark.Definition
	if err := s.decode(r, &def); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := def.Validate(); err != nil {
		s.fail(w, r, invalid(err))
		return
	}
	res, err := s.engine.RunBenchmark(r.Context(), def)
	s.writeBenchmark(w, r, res, err)
}

func (s *Server) runRegistered(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.RunRegistered(r.Context(), chi.URLParam(r, "name"))
	s.writeBenchmark(w, r, res, err)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.engine.Documents())
}

func (s *Server) listReferences(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.engine.References(chi.URLParam(r, "doc")))
}

type bindRequest struct {
	Target string `json:"target"`
}

func (s *Server) bindReference(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	target, err := model.ParseTarget(req.Target)
	if err != nil {
		s.fail(w, r, invalid(err))
		return
	}
	ref, err := s.engine.Bind(r.Context(), chi.URLParam(r, "doc"), target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.engine.Reference(ref.TokenID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, view)
}

type outcomesResponse struct {
	DocumentID string           `json:"document_id"`
	Outcomes   []binder.Outcome `json:"outcomes"`
	Rendered   string           `json:"rendered,omitempty"`
}

func (s *Server) refreshDocument(w http.ResponseWriter, r *http.Request) {
	doc := chi.URLParam(r, "doc")
	outcomes, err := s.engine.RefreshAll(r.Context(), doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, outcomesResponse{DocumentID: doc, Outcomes: outcomes})
}

type renderRequest struct {
	Text string `json:"text"`
}

func (s *Server) renderDocument(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	doc := chi.URLParam(r, "doc")
	out, outcomes, err := s.engine.RenderDocument(r.Context(), doc, req.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, outcomesResponse{DocumentID: doc, Outcomes: outcomes, Rendered: out})
}

func (s *Server) getReference(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Reference(chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, view)
}

func (s *Server) refreshReference(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	ref, err := s.engine.Refresh(r.Context(), token)
	// A failed resolution is recorded on the reference and reported in the view.
	if err != nil && (binder.IsNotFound(err) || ref.LastError != err.Error()) {
		s.fail(w, r, err)
		return
	}
	view, err := s.engine.Reference(token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, view)
}

func (s *Server) unbindReference(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Unbind(r.Context(), chi.URLParam(r, "token")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
