package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/driftline/kriging/internal/config"
	"github.com/driftline/kriging/internal/logging"
	"github.com/driftline/kriging/internal/regression"
	"github.com/driftline/kriging/internal/regression/gpr"
	"github.com/driftline/kriging/internal/regression/kernels"
)

// Logger defines the logging interface used by the server.
// This allows us to be flexible with our logging implementation.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// ModelState holds one registered regression model. The mutex serializes
// training and prediction per model: both paths may rewrite the cached
// factorization, so at most one writer touches the model at a time.
type ModelState struct {
	ID          string
	Model       *gpr.GPR
	Points      int
	Dim         int
	CreatedAt   time.Time
	LastTrained *time.Time

	mu sync.Mutex
}

// Server implements the HTTP and JSON-RPC surface for the regression
// service. It manages a registry of models and provides endpoints to
// create, train, and query them.
type Server struct {
	cfg     *config.Config
	logger  Logger
	metrics *Metrics

	models   map[string]*ModelState
	modelsMu sync.RWMutex // Protects the models map
	modelSeq atomic.Uint64
}

// NewServer creates a new server instance with the given config and logger.
func NewServer(cfg *config.Config, logger Logger, metrics *Metrics) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		models:  make(map[string]*ModelState),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/models", s.handleCreateModel)
		r.Get("/models/{id}", s.handleModelStatus)
		r.Delete("/models/{id}", s.handleDeleteModel)
		r.Post("/models/{id}/train", s.handleTrainModel)
		r.Post("/models/{id}/predict", s.handlePredict)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// createModelRequest is the payload for POST /models and model.create.
type createModelRequest struct {
	X               [][]float64 `json:"x"`
	Y               []float64   `json:"y"`
	Kernel          kernelSpec  `json:"kernel"`
	Hyperparameters []float64   `json:"hyperparameters,omitempty"`
}

// kernelSpec selects the covariance model. Type "squared_exponential"
// (the default) builds a single kernel; "composite" builds an additive
// composition of Terms squared-exponential kernels.
type kernelSpec struct {
	Type  string `json:"type,omitempty"`
	Terms int    `json:"terms,omitempty"`
}

type trainRequest struct {
	Method      string `json:"method,omitempty"`
	UseGradient *bool  `json:"use_gradient,omitempty"`
}

type predictRequest struct {
	X            [][]float64 `json:"x"`
	SkipVariance bool        `json:"skip_variance,omitempty"`
	Actual       []float64   `json:"actual,omitempty"`
}

func buildKernel(spec kernelSpec) (kernels.Kernel, error) {
	switch spec.Type {
	case "", "squared_exponential":
		return kernels.NewSquaredExponential(), nil
	case "composite":
		if spec.Terms < 1 {
			return nil, fmt.Errorf("composite kernel requires at least one term, got %d", spec.Terms)
		}
		children := make([]kernels.Kernel, spec.Terms)
		for i := range children {
			children[i] = kernels.NewSquaredExponential()
		}
		return kernels.NewComposite(children...), nil
	default:
		return nil, fmt.Errorf("unknown kernel type %q", spec.Type)
	}
}

// denseFromRows converts a row-major [][]float64 into a Dense matrix,
// checking that every row has the same width.
func denseFromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("at least one sample point is required")
	}
	dim := len(rows[0])
	if dim == 0 {
		return nil, fmt.Errorf("sample points must have at least one coordinate")
	}
	data := make([]float64, 0, len(rows)*dim)
	for i, row := range rows {
		if len(row) != dim {
			return nil, fmt.Errorf("row %d has %d coordinates, expected %d", i, len(row), dim)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), dim, data), nil
}

// createModel registers a new model and returns its public state.
func (s *Server) createModel(req createModelRequest) (interface{}, error) {
	if len(req.X) > s.cfg.Regression.MaxTrainingPoints {
		return nil, fmt.Errorf("training set of %d points exceeds limit %d",
			len(req.X), s.cfg.Regression.MaxTrainingPoints)
	}

	x, err := denseFromRows(req.X)
	if err != nil {
		return nil, err
	}

	kernel, err := buildKernel(req.Kernel)
	if err != nil {
		return nil, err
	}

	engineLogger := logging.NewZapLogger(s.logger.WithFields(map[string]interface{}{
		"component": "gpr",
	}))

	model, err := gpr.New(x, req.Y, kernel, req.Hyperparameters, engineLogger)
	if err != nil {
		return nil, err
	}

	minimizer := regression.NewGonumMinimizer()
	minimizer.GradientThreshold = s.cfg.Regression.GradientThreshold
	minimizer.MaxIterations = s.cfg.Regression.MaxIterations
	model.SetMinimizer(minimizer)

	rows, dim := x.Dims()
	state := &ModelState{
		ID:        fmt.Sprintf("model_%d", s.modelSeq.Add(1)),
		Model:     model,
		Points:    rows,
		Dim:       dim,
		CreatedAt: time.Now(),
	}

	s.modelsMu.Lock()
	s.models[state.ID] = state
	s.modelsMu.Unlock()

	s.metrics.ModelsCreated.Inc()
	s.logger.Info("Model created", map[string]interface{}{
		"model_id": state.ID,
		"points":   rows,
		"dim":      dim,
	})

	return s.statusPayload(state), nil
}

func (s *Server) lookup(id string) (*ModelState, error) {
	s.modelsMu.RLock()
	defer s.modelsMu.RUnlock()

	state, exists := s.models[id]
	if !exists {
		return nil, errModelNotFound
	}
	return state, nil
}

var errModelNotFound = fmt.Errorf("model not found")

// statusPayload renders the public state of a model. It takes the model
// lock: a concurrent training run rewrites the hyperparameters and the
// training record, and those fields must not be read mid-write.
func (s *Server) statusPayload(state *ModelState) map[string]interface{} {
	state.mu.Lock()
	defer state.mu.Unlock()

	payload := map[string]interface{}{
		"model_id":        state.ID,
		"points":          state.Points,
		"dim":             state.Dim,
		"hyperparameters": state.Model.Hyperparameters(),
		"stale":           state.Model.Stale(),
		"created_at":      state.CreatedAt.Format(time.RFC3339),
	}
	if state.LastTrained != nil {
		payload["last_trained"] = state.LastTrained.Format(time.RFC3339)
	}
	if res := state.Model.LastTraining(); res != nil {
		payload["training"] = map[string]interface{}{
			"cost":       res.Cost,
			"gradient":   res.Gradient,
			"iterations": res.Iterations,
		}
	}
	return payload
}

// trainModel runs hyperparameter optimization on the identified model.
func (s *Server) trainModel(id string, req trainRequest) (interface{}, error) {
	state, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = s.cfg.Regression.TrainMethod
	}
	useGradient := s.cfg.Regression.UseGradient
	if req.UseGradient != nil {
		useGradient = *req.UseGradient
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	start := time.Now()
	result, err := state.Model.Train(method, useGradient)
	s.metrics.TrainDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.Trainings.WithLabelValues("failure").Inc()
		s.logger.Error("Training failed", map[string]interface{}{
			"model_id": id,
			"method":   method,
			"error":    err.Error(),
		})
		return nil, err
	}

	now := time.Now()
	state.LastTrained = &now
	s.metrics.Trainings.WithLabelValues("success").Inc()

	return map[string]interface{}{
		"model_id":        id,
		"method":          method,
		"hyperparameters": result.X,
		"cost":            result.Cost,
		"gradient":        result.Gradient,
		"iterations":      result.Iterations,
	}, nil
}

// predict interpolates the identified model at the requested points.
// When the caller supplies actual target values, validation diagnostics
// are computed against the full predictive covariance.
func (s *Server) predict(id string, req predictRequest) (interface{}, error) {
	state, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	xs, err := denseFromRows(req.X)
	if err != nil {
		return nil, err
	}

	skipVariance := req.SkipVariance
	if len(req.Actual) > 0 {
		if len(req.Actual) != len(req.X) {
			return nil, fmt.Errorf("got %d actual values for %d prediction points",
				len(req.Actual), len(req.X))
		}
		// Diagnostics need the predictive covariance.
		skipVariance = false
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	start := time.Now()
	mean, cov, err := state.Model.Interpolate(xs, skipVariance)
	s.metrics.PredictDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.Predictions.WithLabelValues("failure").Inc()
		return nil, err
	}
	s.metrics.Predictions.WithLabelValues("success").Inc()

	n := mean.Len()
	means := make([]float64, n)
	for i := 0; i < n; i++ {
		means[i] = mean.AtVec(i)
	}

	response := map[string]interface{}{
		"model_id": id,
		"mean":     means,
	}

	if cov != nil {
		variances := make([]float64, n)
		for i := 0; i < n; i++ {
			variances[i] = cov.At(i, i)
		}
		response["variance"] = variances
	}

	if len(req.Actual) > 0 {
		diag, err := gpr.Diagnose(mean, cov, req.Actual)
		if err != nil {
			return nil, err
		}
		coverage, err := gpr.IntervalCoverage(mean, cov, req.Actual, 0.95)
		if err != nil {
			return nil, err
		}
		response["diagnostics"] = map[string]interface{}{
			"rmse":           diag.RMSE,
			"mean_std_dev":   diag.MeanStdDev,
			"reduced_chi_sq": diag.ReducedChiSq,
			"mahalanobis":    diag.Mahalanobis,
			"log_likelihood": diag.LogLikelihood,
			"coverage_95":    coverage,
		}
	}

	return response, nil
}

// deleteModel removes a model from the registry.
func (s *Server) deleteModel(id string) error {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	if _, exists := s.models[id]; !exists {
		return errModelNotFound
	}
	delete(s.models, id)
	s.metrics.ModelsDeleted.Inc()

	s.logger.Info("Model deleted", map[string]interface{}{
		"model_id": id,
	})
	return nil
}

// statusCode maps service errors onto HTTP statuses. Shape and batch
// problems are the caller's fault; a non positive definite covariance is
// a valid request the model cannot satisfy.
func statusCode(err error) int {
	switch {
	case errors.Is(err, errModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, regression.ErrNonPositiveDefinite):
		return http.StatusUnprocessableEntity
	case errors.Is(err, regression.ErrShapeMismatch),
		errors.Is(err, regression.ErrBatchMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	body := map[string]interface{}{"error": err.Error()}
	if rerr, ok := regression.IsRegressionError(err); ok {
		body["kind"] = rerr.Kind.String()
		if len(rerr.Hyperparameters) > 0 {
			body["hyperparameters"] = rerr.Hyperparameters
		}
	}
	s.respondJSON(w, statusCode(err), body)
}

// handleCreateModel handles POST /api/v1/models.
func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req createModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}

	result, err := s.createModel(req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

// handleModelStatus handles GET /api/v1/models/{id}.
func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.lookup(chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.statusPayload(state))
}

// handleDeleteModel handles DELETE /api/v1/models/{id}.
func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.deleteModel(chi.URLParam(r, "id")); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleTrainModel handles POST /api/v1/models/{id}/train.
func (s *Server) handleTrainModel(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}

	result, err := s.trainModel(chi.URLParam(r, "id"), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handlePredict handles POST /api/v1/models/{id}/predict.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}

	result, err := s.predict(chi.URLParam(r, "id"), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleJSONRPC handles JSON-RPC 2.0 requests.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondRPCError(w, -32700, "Parse error", nil)
		return
	}

	if request.JSONRPC != "2.0" {
		s.respondRPCError(w, -32600, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "model.create":
		var req createModelRequest
		if err = json.Unmarshal(request.Params, &req); err == nil {
			result, err = s.createModel(req)
		}
	case "model.status":
		var req struct {
			ModelID string `json:"model_id"`
		}
		if err = json.Unmarshal(request.Params, &req); err == nil {
			var state *ModelState
			if state, err = s.lookup(req.ModelID); err == nil {
				result = s.statusPayload(state)
			}
		}
	case "model.train":
		var req struct {
			ModelID string `json:"model_id"`
			trainRequest
		}
		if err = json.Unmarshal(request.Params, &req); err == nil {
			result, err = s.trainModel(req.ModelID, req.trainRequest)
		}
	case "model.predict":
		var req struct {
			ModelID string `json:"model_id"`
			predictRequest
		}
		if err = json.Unmarshal(request.Params, &req); err == nil {
			result, err = s.predict(req.ModelID, req.predictRequest)
		}
	case "model.delete":
		var req struct {
			ModelID string `json:"model_id"`
		}
		if err = json.Unmarshal(request.Params, &req); err == nil {
			if err = s.deleteModel(req.ModelID); err == nil {
				result = map[string]string{"status": "deleted"}
			}
		}
	default:
		s.respondRPCError(w, -32601, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondRPCError(w, -32000, err.Error(), request.ID)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// respondRPCError sends a JSON-RPC 2.0 error response.
func (s *Server) respondRPCError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Error("Request error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}

// Close cleans up resources.
func (s *Server) Close() error {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	s.models = make(map[string]*ModelState)
	return nil
}
