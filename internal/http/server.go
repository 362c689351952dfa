package http

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"spendwise/internal/cache"
	"spendwise/internal/config"
	"spendwise/internal/core"
	"spendwise/internal/log"
	"spendwise/internal/middleware/ratelimit"
	"spendwise/internal/middleware/security"
	"spendwise/internal/middleware/trace"
	"spendwise/internal/services"
)

// Ports the handlers depend on.
type (
	Importer interface {
		Import(ctx context.Context, channel core.Channel, fileName string, r io.Reader) (core.ImportBatch, error)
	}

	Classification interface {
		ClassifySingle(ctx context.Context, id int64) (core.Expense, error)
		ClassifyBatch(ctx context.Context, limit *int) (services.BatchSummary, error)
	}

	Expenses interface {
		Get(ctx context.Context, id int64) (core.Expense, error)
		List(ctx context.Context, f core.ExpenseFilter) (core.ExpensePage, error)
		ConfirmCategories(ctx context.Context, id int64, u core.UserCategories) (core.Expense, error)
		SetHidden(ctx context.Context, id int64, hidden bool) error
		Delete(ctx context.Context, id int64) error
		ImportBatches(ctx context.Context, limit int) ([]core.ImportBatch, error)
	}

	Analytics interface {
		Summary(ctx context.Context, dr core.DateRange) (core.Summary, error)
		SpendingByChannel(ctx context.Context, dr core.DateRange) ([]core.ChannelTotal, error)
		SpendingByCategoryL1(ctx context.Context, dr core.DateRange) ([]core.CategoryTotal, error)
		Trend(ctx context.Context, dr core.DateRange, g core.Granularity) ([]core.TrendPoint, error)
	}

	Settings interface {
		Current() *config.Snapshot
		Reload(ctx context.Context) (*config.Snapshot, error)
	}
)

// Deps are the services behind the API. Ready and CacheStats may be nil.
type Deps struct {
	Importer       Importer
	Classification Classification
	Expenses       Expenses
	Analytics      Analytics
	Settings       Settings
	Ready          func(ctx context.Context) error
	CacheStats     func() cache.Stats
}

// Options tune the server; the zero value is usable.
type Options struct {
	AllowedOrigins []string
	TrustedProxies []string
	ClassifyLimit  ratelimit.Config
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

const defaultMaxUpload = 32 << 20

type Server struct {
	http.Server
	deps     Deps
	opts     Options
	logger   *log.Logger
	tracer   *trace.Middleware
	detector *security.Detector
	limiter  *ratelimit.Limiter

	shutdownOnce sync.Once
}

func NewServer(addr string, deps Deps, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Minute
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", "cidr", cidr, log.FieldError, err)
		}
	}
	s := &Server{
		deps:     deps,
		opts:     opts,
		logger:   logger.WithComponent(log.ComponentHTTP),
		tracer:   trace.NewMiddleware(logger, detector.ExtractClientIP),
		detector: detector,
		limiter:  ratelimit.NewLimiter(opts.ClassifyLimit),
	}
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.tracer.Middleware)
	r.Use(s.detector.Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", trace.RequestIDHeader},
		ExposedHeaders: []string{trace.RequestIDHeader, "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))

		r.Post("/imports/{channel}", s.handleImport)
		r.Get("/imports", s.handleListImports)

		r.Get("/expenses", s.handleListExpenses)
		r.Route("/expenses/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetExpense)
			r.Delete("/", s.handleDeleteExpense)
			r.Put("/categories", s.handleConfirmCategories)
			r.Patch("/hidden", s.handleSetHidden)
			r.With(s.limitClassify).Post("/classify", s.handleClassifyOne)
		})
		r.With(s.limitClassify).Post("/classify/batch", s.handleClassifyBatch)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/summary", s.handleSummary)
			r.Get("/channels", s.handleChannels)
			r.Get("/trend", s.handleTrend)
			r.Get("/categories", s.handleCategories)
		})

		r.Get("/settings", s.handleSettings)
		r.Post("/settings/reload", s.handleReloadSettings)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("no such route").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed").Write(w)
	})
	return r
}

// limitClassify guards endpoints that call the paid classification service.
func (s *Server) limitClassify(next http.Handler) http.Handler {
	return s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later").Write(w)
	})(next)
}

// Shutdown stops background helpers, then drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":     "ok",
		"requests":   s.tracer.GetMetrics(),
		"limiter":    s.limiter.GetMetrics(),
		"suspicious": s.detector.GetMetrics(),
	}
	if s.deps.CacheStats != nil {
		body["analytics_cache"] = s.deps.CacheStats()
	}
	NewJSONResponse().Body(body).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "not_ready", "storage unavailable").Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}
