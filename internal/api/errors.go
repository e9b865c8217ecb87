package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/sells-group/lineage-cli/internal/benchmark"
	"github.com/sells-group/lineage-cli/internal/binder"
	"github.com/sells-group/lineage-cli/internal/formula"
	"github.com/sells-group/lineage-cli/internal/model"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Detail any    `json:"detail,omitempty"`
}

// badRequest marks malformed input the engine never saw.
type badRequest struct{ err error }

func (e *badRequest) Error() string { return e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

func invalid(err error) error { return &badRequest{err: err} }

// classify maps an engine error to a status code, a stable kind and the
// structured context worth returning.
func classify(err error) (int, string, any) {
	var (
		bad         *badRequest
		dsNF        *model.DatasetNotFoundError
		periodNF    *model.PeriodNotFoundError
		fieldNF     *model.FieldNotFoundError
		nodeNF      *formula.NodeNotFoundError
		refNF       *binder.ReferenceNotFoundError
		benchNF     *benchmark.NotRegisteredError
		ambiguous   *model.AmbiguousFieldError
		cycle       *model.CycleError
		conflict    *formula.NodeConflictError
		schema      *model.SchemaError
		insuff      *model.InsufficientDataError
		parse       *formula.ParseError
		eval        *formula.EvalError
		unavailable *model.SourceUnavailableError
	)
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, "bad_request", nil
	case errors.As(err, &dsNF):
		return http.StatusNotFound, "dataset_not_found", dsNF
	case errors.As(err, &periodNF):
		return http.StatusNotFound, "period_not_found", periodNF
	case errors.As(err, &fieldNF):
		return http.StatusNotFound, "field_not_found", fieldNF
	case errors.As(err, &nodeNF):
		return http.StatusNotFound, "node_not_found", nodeNF
	case errors.As(err, &refNF):
		return http.StatusNotFound, "reference_not_found", refNF
	case errors.As(err, &benchNF):
		return http.StatusNotFound, "benchmark_not_found", benchNF
	case errors.As(err, &ambiguous):
		return http.StatusConflict, "ambiguous_field", ambiguous
	case errors.As(err, &cycle):
		return http.StatusConflict, "cycle", cycle
	case errors.As(err, &conflict):
		return http.StatusConflict, "node_conflict", conflict
	case errors.As(err, &schema):
		return http.StatusUnprocessableEntity, "schema", schema
	case errors.As(err, &insuff):
		return http.StatusUnprocessableEntity, "insufficient_data", insuff
	case errors.As(err, &parse):
		return http.StatusUnprocessableEntity, "parse", parse
	case errors.As(err, &eval):
		return http.StatusUnprocessableEntity, "eval", eval
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, "source_unavailable", nil
	default:
		return http.StatusInternalServerError, "internal", nil
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind, detail := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error(), Kind: kind, Detail: detail})
}
