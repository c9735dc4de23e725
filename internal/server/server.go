// Package server wires stores, domain services and handlers into one HTTP
// router.
package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/openlms/tokenenrol/internal/enrol"
	"github.com/openlms/tokenenrol/internal/events"
	"github.com/openlms/tokenenrol/internal/handler"
	"github.com/openlms/tokenenrol/internal/messaging"
	"github.com/openlms/tokenenrol/internal/middleware"
	"github.com/openlms/tokenenrol/internal/store"
	"github.com/openlms/tokenenrol/internal/token"
)

// Config carries the deployment settings the server needs beyond the
// database handle.
type Config struct {
	AdminKeyHash     string
	BaseURL          string
	NoReplyAddr      string
	AdminEmail       string
	NotifyHour       int
	ExpiredAction    string
	InstanceDefaults handler.InstanceDefaults
	Sender           messaging.Sender
}

type Server struct {
	db          *sql.DB
	hub         *events.Hub
	engine      *enrol.Engine
	notifier    *enrol.Notifier
	enrolH      *handler.EnrolHandler
	tokenH      *handler.TokenHandler
	instanceH   *handler.InstanceHandler
	adminH      *handler.AdminHandler
	adminAuth   func(http.Handler) http.Handler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := events.NewHub(logger.With("component", "events"))

	users := store.NewUserStore(db)
	courses := store.NewCourseStore(db)
	roles := store.NewRoleStore(db)
	cohorts := store.NewCohortStore(db)
	instances := store.NewInstanceStore(db)
	enrolments := store.NewEnrolmentStore(db)
	tokens := store.NewTokenStore(db)
	settings := store.NewSettingsStore(db)

	sender := cfg.Sender
	if sender == nil {
		sender = &messaging.LogSender{Log: logger.With("component", "messaging")}
	}

	capabilities := enrol.NewSiteCapabilities(roles)
	eval := enrol.NewEvaluator(enrolments, cohorts, capabilities)
	contacts := enrol.NewContactResolver(roles, cfg.NoReplyAddr)
	welcome := enrol.NewWelcomeMailer(contacts, sender, cfg.BaseURL)

	gateway := enrol.NewGateway(enrol.GatewayConfig{
		DB:           db,
		Tokens:       tokens,
		Instances:    instances,
		Enrolments:   enrolments,
		Users:        users,
		Courses:      courses,
		Roles:        roles,
		Capabilities: capabilities,
		Evaluator:    eval,
		Welcome:      welcome,
		Events:       hub,
		Logger:       logger.With("component", "gateway"),
	})
	engine := enrol.NewEngine(db, instances, enrolments, roles, hub, cfg.ExpiredAction, logger.With("component", "sync"))
	notifier := enrol.NewNotifier(instances, enrolments, courses, settings, contacts, sender, cfg.NotifyHour, cfg.AdminEmail, logger.With("component", "expiry"))

	return &Server{
		db:          db,
		hub:         hub,
		engine:      engine,
		notifier:    notifier,
		enrolH:      handler.NewEnrolHandler(gateway, eval, instances, logger.With("component", "enrol_handler")),
		tokenH:      handler.NewTokenHandler(token.NewIssuer(tokens), tokens, instances, hub, logger.With("component", "token_handler")),
		instanceH:   handler.NewInstanceHandler(instances, courses, cfg.InstanceDefaults, logger.With("component", "instance_handler")),
		adminH:      handler.NewAdminHandler(engine, notifier, logger.With("component", "admin_handler")),
		adminAuth:   middleware.APIKeyAuth(cfg.AdminKeyHash),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// Engine returns the reconciliation engine for the scheduler loop.
func (s *Server) Engine() *enrol.Engine {
	return s.engine
}

// Notifier returns the expiry notifier for the scheduler loop.
func (s *Server) Notifier() *enrol.Notifier {
	return s.notifier
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public surface
	mux.HandleFunc("POST /api/enrol", s.rateLimited(s.enrolH.Redeem))
	mux.HandleFunc("GET /api/enrol/instances/{id}", s.enrolH.InstanceInfo)
	mux.HandleFunc("DELETE /api/courses/{id}/enrolments/self", s.enrolH.SelfUnenrol)
	mux.HandleFunc("GET /health", handler.Health)

	// Admin surface, behind API-key auth
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("POST /api/admin/instances/{id}/tokens", s.tokenH.Generate)
	adminMux.HandleFunc("GET /api/admin/instances/{id}/tokens", s.tokenH.List)
	adminMux.HandleFunc("DELETE /api/admin/tokens/{id}", s.tokenH.Delete)
	adminMux.HandleFunc("POST /api/admin/courses/{id}/instances", s.instanceH.Create)
	adminMux.HandleFunc("GET /api/admin/courses/{id}/instances", s.instanceH.List)
	adminMux.HandleFunc("PUT /api/admin/instances/{id}", s.instanceH.Update)
	adminMux.HandleFunc("DELETE /api/admin/instances/{id}", s.instanceH.Delete)
	adminMux.HandleFunc("POST /api/admin/sync", s.adminH.Sync)
	adminMux.HandleFunc("POST /api/admin/notify", s.adminH.Notify)
	mux.Handle("/api/admin/", s.adminAuth(adminMux))

	// Event feed for admin dashboards
	mux.Handle("GET /ws", s.adminAuth(events.Handler(s.hub, s.logger.With("component", "ws"))))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

// rateLimited guards token guessing on the public enrol endpoint.
func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
