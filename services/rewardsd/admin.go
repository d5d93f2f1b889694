package rewardsd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"poolrewards/native/stakingrewards"
	"poolrewards/observability"
	telemetry "poolrewards/observability/otel"
)

type programRegistry interface {
	CreateProgram(caller, pool, vault common.Address, totalRewards *uint256.Int, kind stakingrewards.DistributionType, startTime, endTime uint64) error
	TerminateProgram(caller, pool common.Address) error
	EnableProgram(caller, pool common.Address, status bool) error
	IsProgramActive(pool common.Address) bool
	ProcessRewards(caller, pool common.Address) (*stakingrewards.Distribution, error)
	Program(pool common.Address) (*stakingrewards.Program, bool)
	Programs() []*stakingrewards.Program
}

// AdminServer exposes the registry over HTTP.
type AdminServer struct {
	registry programRegistry
	journal  *Journal
	auth     *Authenticator
	limiter  *RateLimiter
	logger   *slog.Logger
	tracer   trace.Tracer
	router   chi.Router
}

// NewAdminServer builds the router. journal may be nil, in which case
// /events answers 404.
func NewAdminServer(registry programRegistry, journal *Journal, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) *AdminServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AdminServer{
		registry: registry,
		journal:  journal,
		auth:     auth,
		limiter:  limiter,
		logger:   logger,
		tracer:   telemetry.Tracer("poolrewards/rewardsd/admin"),
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Get("/programs", s.handleListPrograms)
		r.Get("/programs/{pool}", s.handleGetProgram)
		r.Get("/programs/{pool}/active", s.handleIsActive)
		if journal != nil {
			r.Get("/events", s.handleEvents)
		}
	})

	r.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(auth.Middleware)
		}
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Post("/programs", s.handleCreate)
		r.Post("/programs/{pool}/terminate", s.handleTerminate)
		r.Post("/programs/{pool}/enable", s.handleEnable(true))
		r.Post("/programs/{pool}/disable", s.handleEnable(false))
		r.Post("/programs/{pool}/process", s.handleProcess)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *AdminServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", status))
		observability.ModuleMetrics().Observe(r.Method+" "+route, status, time.Since(started))
	})
}

// ProgramView is the JSON form of a program.
type ProgramView struct {
	Pool                      string `json:"pool"`
	PoolShare                 string `json:"poolShare"`
	RewardsVault              string `json:"rewardsVault"`
	DistributionType          string `json:"distributionType"`
	TotalRewards              string `json:"totalRewards"`
	RemainingRewards          string `json:"remainingRewards"`
	StartTime                 uint64 `json:"startTime"`
	EndTime                   uint64 `json:"endTime"`
	PrevDistributionTimestamp uint64 `json:"prevDistributionTimestamp"`
	IsEnabled                 bool   `json:"isEnabled"`
	IsActive                  bool   `json:"isActive"`
}

// DistributionView is the JSON form of a distribution. Released is false
// when the call was a no-op.
type DistributionView struct {
	Pool             string `json:"pool"`
	Released         bool   `json:"released"`
	RewardsAmount    string `json:"rewardsAmount,omitempty"`
	PoolTokenAmount  string `json:"poolTokenAmount,omitempty"`
	TimeElapsed      uint64 `json:"timeElapsed,omitempty"`
	RemainingRewards string `json:"remainingRewards,omitempty"`
	Timestamp        uint64 `json:"timestamp,omitempty"`
}

// CreateProgramRequest is the body of POST /programs.
type CreateProgramRequest struct {
	Pool         string `json:"pool"`
	Vault        string `json:"vault"`
	TotalRewards string `json:"totalRewards"`
	Type         string `json:"type"`
	StartTime    uint64 `json:"startTime"`
	EndTime      uint64 `json:"endTime"`
}

func (s *AdminServer) view(p *stakingrewards.Program) ProgramView {
	return ProgramView{
		Pool:                      p.Pool.Hex(),
		PoolShare:                 p.PoolShare.Hex(),
		RewardsVault:              p.RewardsVault.Hex(),
		DistributionType:          p.DistributionType.String(),
		TotalRewards:              decimal(p.TotalRewards),
		RemainingRewards:          decimal(p.RemainingRewards),
		StartTime:                 p.StartTime,
		EndTime:                   p.EndTime,
		PrevDistributionTimestamp: p.PrevDistributionTimestamp,
		IsEnabled:                 p.IsEnabled,
		IsActive:                  s.registry.IsProgramActive(p.Pool),
	}
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *AdminServer) handleListPrograms(w http.ResponseWriter, _ *http.Request) {
	programs := s.registry.Programs()
	out := make([]ProgramView, 0, len(programs))
	for _, p := range programs {
		out = append(out, s.view(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *AdminServer) handleGetProgram(w http.ResponseWriter, r *http.Request) {
	pool, ok := poolParam(w, r)
	if !ok {
		return
	}
	program, exists := s.registry.Program(pool)
	if !exists {
		writeError(w, http.StatusNotFound, errors.New("program not found"))
		return
	}
	writeJSON(w, http.StatusOK, s.view(program))
}

func (s *AdminServer) handleIsActive(w http.ResponseWriter, r *http.Request) {
	pool, ok := poolParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": s.registry.IsProgramActive(pool)})
}

func (s *AdminServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	var req CreateProgramRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	pool, err := parseAddress("pool", req.Pool)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vault, err := parseAddress("vault", req.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	total, err := parseAmount(req.TotalRewards)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind, err := stakingrewards.ParseDistributionType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.registry.CreateProgram(caller, pool, vault, total, kind, req.StartTime, req.EndTime); err != nil {
		s.fail(w, "create program", pool, err)
		return
	}
	program, _ := s.registry.Program(pool)
	s.logger.Info("program created", slog.String("pool", pool.Hex()), slog.String("caller", caller.Hex()))
	writeJSON(w, http.StatusCreated, s.view(program))
}

func (s *AdminServer) handleTerminate(w http.ResponseWriter, r *http.Request) {
	pool, ok := poolParam(w, r)
	if !ok {
		return
	}
	if err := s.registry.TerminateProgram(callerOf(r), pool); err != nil {
		s.fail(w, "terminate program", pool, err)
		return
	}
	program, _ := s.registry.Program(pool)
	writeJSON(w, http.StatusOK, s.view(program))
}

func (s *AdminServer) handleEnable(status bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pool, ok := poolParam(w, r)
		if !ok {
			return
		}
		if err := s.registry.EnableProgram(callerOf(r), pool, status); err != nil {
			s.fail(w, "toggle program", pool, err)
			return
		}
		program, _ := s.registry.Program(pool)
		writeJSON(w, http.StatusOK, s.view(program))
	}
}

func (s *AdminServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	pool, ok := poolParam(w, r)
	if !ok {
		return
	}
	dist, err := s.registry.ProcessRewards(callerOf(r), pool)
	if err != nil {
		observability.StakingRewards().RecordProcessError(pool.Hex(), errorReason(err))
		s.fail(w, "process rewards", pool, err)
		return
	}
	out := DistributionView{Pool: pool.Hex()}
	if dist != nil {
		observability.StakingRewards().RecordDistribution(pool.Hex(), dist.RewardsAmount.ToBig(), dist.PoolTokenAmount.ToBig(), dist.RemainingRewards.ToBig())
		out.Released = true
		out.RewardsAmount = decimal(dist.RewardsAmount)
		out.PoolTokenAmount = decimal(dist.PoolTokenAmount)
		out.TimeElapsed = dist.TimeElapsed
		out.RemainingRewards = decimal(dist.RemainingRewards)
		out.Timestamp = dist.Timestamp
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *AdminServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := JournalFilter{Type: strings.TrimSpace(query.Get("type"))}
	if raw := strings.TrimSpace(query.Get("pool")); raw != "" {
		pool, err := parseAddress("pool", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Pool = pool.Hex()
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		filter.Limit = limit
	}
	entries, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list journal failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, errors.New("journal unavailable"))
		return
	}
	type eventView struct {
		ID         string            `json:"id"`
		Sequence   int64             `json:"sequence"`
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
		CreatedAt  time.Time         `json:"createdAt"`
	}
	out := make([]eventView, 0, len(entries))
	for _, entry := range entries {
		evt, err := entry.Event()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, eventView{
			ID:         entry.ID.String(),
			Sequence:   entry.Sequence,
			Type:       evt.Type,
			Attributes: evt.Attributes,
			CreatedAt:  entry.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *AdminServer) fail(w http.ResponseWriter, op string, pool common.Address, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", slog.String("pool", pool.Hex()), slog.Any("error", err))
	} else {
		s.logger.Warn(op+" rejected", slog.String("pool", pool.Hex()), slog.Any("error", err))
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, stakingrewards.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, stakingrewards.ErrInvalidAddress),
		errors.Is(err, stakingrewards.ErrInvalidParam),
		errors.Is(err, stakingrewards.ErrUnsupportedDistributionType):
		return http.StatusBadRequest
	case errors.Is(err, stakingrewards.ErrProgramAlreadyActive),
		errors.Is(err, stakingrewards.ErrProgramInactive):
		return http.StatusConflict
	case errors.Is(err, stakingrewards.ErrInsufficientFunds),
		errors.Is(err, stakingrewards.ErrNotWhitelisted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func poolParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	pool, err := parseAddress("pool", chi.URLParam(r, "pool"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return common.Address{}, false
	}
	return pool, true
}

// callerOf returns the authenticated caller, or the zero address which the
// registry always rejects.
func callerOf(r *http.Request) common.Address {
	caller, _ := CallerFromContext(r.Context())
	return caller
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
