package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/vjranagit/empe/pkg/envelope"
	"github.com/vjranagit/empe/pkg/models"
	"github.com/vjranagit/empe/pkg/plotdata"
	"github.com/vjranagit/empe/pkg/posterior"
	"github.com/vjranagit/empe/pkg/sampleio"
	"github.com/vjranagit/empe/pkg/storage"
	"github.com/vjranagit/empe/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxUploadBytes bounds an uploaded sample file
const maxUploadBytes = 256 << 20

// defaultQuantiles are returned when a quantile request names none
var defaultQuantiles = []float64{0.05, 0.5, 0.95}

// Options configures a Server
type Options struct {
	Addr     string
	Timeout  time.Duration
	Envelope envelope.Config
	Seed     uint64
	Logger   *zap.Logger
}

// Server implements the HTTP API server
type Server struct {
	store  storage.Store
	cache  *storage.EnvelopeCache
	models *models.Registry
	opts   Options
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options, store storage.Store, cache *storage.EnvelopeCache, registry *models.Registry) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Server{
		store:  store,
		cache:  cache,
		models: registry,
		opts:   opts,
		logger: opts.Logger,
	}
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /api/v1/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/weights", s.handleWeights)
	mux.HandleFunc("GET /api/v1/runs/{id}/quantiles", s.handleQuantiles)
	mux.HandleFunc("GET /api/v1/runs/{id}/envelope", s.handleEnvelope)
	mux.HandleFunc("GET /api/v1/runs/{id}/envelopes", s.handleListEnvelopes)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.Timeout,
		WriteTimeout: s.opts.Timeout,
	}

	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleCreateRun archives an uploaded sample file
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	labels, err := parsePairs(q["label"], func(v string) (string, error) { return v, nil })
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if q.Get("model") != "" {
		if _, err := s.models.New(q.Get("model")); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	set, err := sampleio.ReadSamples(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid sample file: %w", err))
		return
	}

	meta := types.RunMeta{Event: q.Get("event"), Model: q.Get("model"), Labels: labels}
	id, err := s.store.PutRun(r.Context(), meta, set)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("archive failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{"id": id, "records": set.Len()})
}

// handleListRuns lists runs matching event, model and label selectors
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	selectors, err := parsePairs(q["label"], func(v string) (string, error) { return v, nil })
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if selectors == nil {
		selectors = make(map[string]string)
	}
	if v := q.Get("event"); v != "" {
		selectors[storage.LabelEvent] = v
	}
	if v := q.Get("model"); v != "" {
		selectors[storage.LabelModel] = v
	}

	runs, err := s.store.FindRuns(r.Context(), selectors)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	meta, _, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// weightSummary is the response of the weights endpoint
type weightSummary struct {
	Records      int     `json:"records"`
	Kept         int     `json:"kept"`
	MedianWeight float64 `json:"median_weight"`
	MaxWeight    float64 `json:"max_weight"`
	ESS          float64 `json:"ess"`
}

// handleWeights summarizes the importance weights of a run after filtering
func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	weighted, sum, err := s.weighRun(r)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	resp := weightSummary{
		Records:      sum.Records,
		Kept:         sum.Kept,
		MedianWeight: sum.MedianWeight,
		ESS:          sum.ESS,
	}
	for _, wt := range weighted.Weights {
		if wt > resp.MaxWeight {
			resp.MaxWeight = wt
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleQuantiles returns weighted quantiles of one parameter
func (s *Server) handleQuantiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	param := q.Get("param")
	if param == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing param"))
		return
	}
	qs, err := parseFloats(q["q"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(qs) == 0 {
		qs = defaultQuantiles
	}

	weighted, _, err := s.weighRun(r)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	values, ok := weighted.Column(param)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", plotdata.ErrUnknownParameter, param))
		return
	}

	out, err := posterior.Quantile(values, qs, weighted.Weights)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"param": param, "q": qs, "values": out})
}

// handleEnvelope synthesizes, caches and archives an envelope
func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, set, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	req, err := s.envelopeRequest(r, meta)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	key := storage.EnvelopeKey(id, req)
	if env, ok := s.cache.Get(key); ok {
		s.logger.Debug("envelope cache hit", zap.String("run", id), zap.String("band", req.Band))
		s.writeJSON(w, http.StatusOK, env)
		return
	}

	model, err := s.models.New(req.Model)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	weighted, err := posterior.Reweight(set)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	start := time.Now()
	env, err := envelope.Synthesize(r.Context(), req, weighted, model)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.cache.Put(key, env)
	if err := s.store.PutEnvelope(r.Context(), id, env); err != nil {
		s.logger.Warn("failed to archive envelope", zap.String("run", id), zap.Error(err))
	}
	s.logger.Info("synthesized envelope",
		zap.String("run", id),
		zap.String("band", req.Band),
		zap.Int("draws", req.Draws),
		zap.Duration("took", time.Since(start)),
	)

	s.writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleListEnvelopes(w http.ResponseWriter, r *http.Request) {
	envs, err := s.store.GetEnvelopes(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"envelopes": envs})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// handleMetrics exposes envelope cache counters in text exposition format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "empe_envelope_cache_size %d\n", stats.Size)
	fmt.Fprintf(w, "empe_envelope_cache_capacity %d\n", stats.Capacity)
	fmt.Fprintf(w, "empe_envelope_cache_hits_total %d\n", stats.Hits)
	fmt.Fprintf(w, "empe_envelope_cache_misses_total %d\n", stats.Misses)
}

// weighRun loads a run and applies the filters named in the query:
// min_lnl, fraction and min_weight
func (s *Server) weighRun(r *http.Request) (types.WeightedSampleSet, plotdata.Summary, error) {
	q := r.URL.Query()
	in := plotdata.Input{Name: r.PathValue("id")}

	if v := q.Get("min_lnl"); v != "" {
		cut, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return types.WeightedSampleSet{}, plotdata.Summary{}, badRequest(fmt.Errorf("min_lnl: %w", err))
		}
		in.MinLogLikelihood = &cut
	}
	var err error
	if in.Fraction, err = floatParam(q.Get("fraction"), 1); err != nil {
		return types.WeightedSampleSet{}, plotdata.Summary{}, badRequest(fmt.Errorf("fraction: %w", err))
	}
	if in.MinWeight, err = floatParam(q.Get("min_weight"), 0); err != nil {
		return types.WeightedSampleSet{}, plotdata.Summary{}, badRequest(fmt.Errorf("min_weight: %w", err))
	}

	_, set, err := s.store.GetRun(r.Context(), in.Name)
	if err != nil {
		return types.WeightedSampleSet{}, plotdata.Summary{}, err
	}
	in.Samples = set
	return plotdata.Weigh(in)
}

// envelopeRequest builds a request from query parameters over the server
// defaults. The model defaults to the one the run was archived with.
func (s *Server) envelopeRequest(r *http.Request, meta types.RunMeta) (types.EnvelopeRequest, error) {
	q := r.URL.Query()
	req := types.EnvelopeRequest{
		Model: q.Get("model"),
		Band:  q.Get("band"),
		Seed:  s.opts.Seed,
	}
	if req.Model == "" {
		req.Model = meta.Model
	}
	if req.Model == "" {
		return req, errors.New("no model given and run has none")
	}
	if req.Band == "" {
		return req, errors.New("missing band")
	}

	var err error
	if req.TMin, err = floatParam(q.Get("tmin"), 0); err != nil {
		return req, fmt.Errorf("tmin: %w", err)
	}
	if req.TMax, err = floatParam(q.Get("tmax"), 0); err != nil {
		return req, fmt.Errorf("tmax: %w", err)
	}
	// each quantile bound falls back to the server default on its own
	if req.Low, err = floatParam(q.Get("low"), s.opts.Envelope.Low); err != nil {
		return req, fmt.Errorf("low: %w", err)
	}
	if req.High, err = floatParam(q.Get("high"), s.opts.Envelope.High); err != nil {
		return req, fmt.Errorf("high: %w", err)
	}
	if req.Draws, err = intParam(q.Get("draws")); err != nil {
		return req, fmt.Errorf("draws: %w", err)
	}
	if req.Points, err = intParam(q.Get("points")); err != nil {
		return req, fmt.Errorf("points: %w", err)
	}
	if v := q.Get("seed"); v != "" {
		if req.Seed, err = strconv.ParseUint(v, 10, 64); err != nil {
			return req, fmt.Errorf("seed: %w", err)
		}
	}
	if req.Fixed, err = parsePairs(q["fixed"], func(v string) (float64, error) { return strconv.ParseFloat(v, 64) }); err != nil {
		return req, err
	}

	return s.opts.Envelope.Apply(req), nil
}

// parsePairs parses repeated name:value parameters
func parsePairs[V any](raw []string, parse func(string) (V, error)) (map[string]V, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]V, len(raw))
	for _, p := range raw {
		name, value, ok := strings.Cut(p, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name:value, got %q", p)
		}
		v, err := parse(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func parseFloats(raw []string) ([]float64, error) {
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func floatParam(v string, def float64) (float64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// requestError marks errors caused by malformed query parameters
type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return requestError{err} }

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var reqErr requestError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.As(err, &reqErr),
		errors.Is(err, posterior.ErrDegenerateWeights),
		errors.Is(err, posterior.ErrDimensionMismatch),
		errors.Is(err, posterior.ErrInvalidQuantile),
		errors.Is(err, posterior.ErrInvalidThreshold),
		errors.Is(err, posterior.ErrEmptySampleSet),
		errors.Is(err, posterior.ErrEmptyFilterResult),
		errors.Is(err, envelope.ErrMissingParameter),
		errors.Is(err, envelope.ErrInvalidTimeRange),
		errors.Is(err, envelope.ErrModelOutput),
		errors.Is(err, plotdata.ErrUnknownParameter),
		errors.Is(err, models.ErrUnknownModel):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
