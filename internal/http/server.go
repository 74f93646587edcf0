package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"smartcal/internal/cache"
	"smartcal/internal/core"
	"smartcal/internal/log"
	"smartcal/internal/middleware/ratelimit"
	"smartcal/internal/middleware/security"
)

// Service is the client surface the facade exposes. *client.Client
// satisfies it.
type Service interface {
	Login(ctx context.Context, email, password string, remember bool) error
	Logout(ctx context.Context)
	Session(ctx context.Context) core.SessionInfo
	GetSchedule(ctx context.Context, eventIDs []int64) ([]core.ScheduleRecord, error)
	GetEvents(ctx context.Context, ids []int64) ([]core.EventRecord, error)
	GetSmartServicesMonthData(ctx context.Context, year, monthIndex int) (core.MonthData, error)
	GetAnnouncements(ctx context.Context) ([]core.Announcement, error)
	GetUser(ctx context.Context) (core.User, error)
	Location() *time.Location
}

// Options tunes the facade. Zero values fall back to defaults.
type Options struct {
	Addr           string
	MonthCacheTTL  time.Duration
	MonthCacheSize int
	LoginRateLimit ratelimit.Config
}

const (
	defaultMonthCacheTTL  = 5 * time.Minute
	defaultMonthCacheSize = 64
	cacheSweepInterval    = time.Minute
)

type Server struct {
	http.Server
	svc    Service
	logger *log.Logger

	monthCache   *cache.LRUCache[core.MonthData]
	janitor      *cache.Janitor
	loginLimiter *ratelimit.Limiter

	// cacheMu orders cache writes against invalidate. generation changes
	// every time the session changes hands.
	cacheMu    sync.Mutex
	generation uint64

	now          func() time.Time
	shutdownOnce sync.Once
}

// NewServer wires routes and middleware and returns a server ready for
// ListenAndServe.
func NewServer(svc Service, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if opts.MonthCacheTTL <= 0 {
		opts.MonthCacheTTL = defaultMonthCacheTTL
	}
	if opts.MonthCacheSize <= 0 {
		opts.MonthCacheSize = defaultMonthCacheSize
	}

	s := &Server{
		svc:          svc,
		logger:       logger.WithComponent(log.ComponentHTTP),
		monthCache:   cache.NewLRUCache[core.MonthData](opts.MonthCacheSize, opts.MonthCacheTTL),
		loginLimiter: ratelimit.NewLimiter(opts.LoginRateLimit),
		now:          time.Now,
	}
	s.janitor = cache.NewJanitor(logger, s.monthCache)
	s.janitor.Start(cacheSweepInterval)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(log.Middleware(s.logger))
	r.Use(log.RequestIDMiddleware(func(r *http.Request) string {
		return middleware.GetReqID(r.Context())
	}))
	r.Use(log.AccessLog)
	r.Use(security.Headers(security.DefaultHeadersConfig()))

	r.Get("/healthz", handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.With(s.loginLimiter.Middleware(security.ClientIP, rateLimited)).
			Post("/login", s.handleLogin)
		api.Post("/logout", s.handleLogout)
		api.Get("/session", s.handleSession)
		api.Get("/month", s.handleMonth)
		api.Get("/month.ics", s.handleMonthICS)
		api.Get("/events", s.handleEvents)
		api.Get("/schedule", s.handleSchedule)
		api.Get("/announcements", s.handleAnnouncements)
		api.Get("/user", s.handleUser)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Type: log.ErrorTypeValidation})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Type: log.ErrorTypeValidation})
	})
	return r
}

// monthData serves the month from cache, fetching it on a miss. hit reports
// whether the cache answered.
func (s *Server) monthData(ctx context.Context, p MonthParams) (data core.MonthData, hit bool, err error) {
	key := cache.MonthKey(p.Year, p.Index())
	if data, ok := s.monthCache.Get(key); ok {
		return data, true, nil
	}
	gen := s.currentGeneration()
	data, err = s.svc.GetSmartServicesMonthData(ctx, p.Year, p.Index())
	if err != nil {
		return core.MonthData{}, false, err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if gen != s.generation {
		// Fetched for a session that is gone.
		s.logger.DebugContext(ctx, "Dropping month fetched before session change",
			log.FieldOperation, log.OpFetchMonth, log.FieldMonth, key)
		return data, false, nil
	}
	s.monthCache.Set(key, data)
	return data, false, nil
}

func (s *Server) currentGeneration() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.generation
}

// invalidate drops cached month data. It runs whenever the session changes
// hands.
func (s *Server) invalidate(ctx context.Context) {
	s.cacheMu.Lock()
	s.generation++
	n := s.monthCache.Size()
	s.monthCache.Purge()
	s.cacheMu.Unlock()

	if n > 0 {
		s.logger.DebugContext(ctx, "Month cache purged", log.FieldOperation, log.OpPurge, "entries", n)
	}
}

// Shutdown stops background cleanup and drains the HTTP server. Calling it
// more than once is safe.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.janitor.Stop()
		s.loginLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
