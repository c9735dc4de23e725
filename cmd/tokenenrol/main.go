package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/openlms/tokenenrol/internal/database"
	"github.com/openlms/tokenenrol/internal/handler"
	"github.com/openlms/tokenenrol/internal/logging"
	"github.com/openlms/tokenenrol/internal/messaging"
	"github.com/openlms/tokenenrol/internal/model"
	"github.com/openlms/tokenenrol/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("TOKENENROL_LOG_LEVEL"))

	port := os.Getenv("TOKENENROL_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("TOKENENROL_DB_PATH")
	if dbPath == "" {
		dbPath = "tokenenrol.db"
	}

	baseURL := os.Getenv("TOKENENROL_BASE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", port)
	}

	noReply := os.Getenv("TOKENENROL_NOREPLY_ADDR")
	if noReply == "" {
		noReply = "noreply@localhost"
	}

	expiredAction := os.Getenv("TOKENENROL_EXPIRED_ACTION")
	if expiredAction == "" {
		expiredAction = model.ExpiredKeep
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var sender messaging.Sender
	if token := os.Getenv("TOKENENROL_POSTMARK_TOKEN"); token != "" {
		sender = messaging.NewClient(token)
	}

	cfg := server.Config{
		AdminKeyHash:  os.Getenv("TOKENENROL_ADMIN_KEY_HASH"),
		BaseURL:       baseURL,
		NoReplyAddr:   noReply,
		AdminEmail:    os.Getenv("TOKENENROL_ADMIN_EMAIL"),
		NotifyHour:    envInt("TOKENENROL_NOTIFY_HOUR", 6),
		ExpiredAction: expiredAction,
		InstanceDefaults: handler.InstanceDefaults{
			RoleID:            int64(envInt("TOKENENROL_DEFAULT_ROLE_ID", 0)),
			EnrolPeriod:       int64(envInt("TOKENENROL_DEFAULT_ENROL_PERIOD", 0)),
			ExpiryNotify:      os.Getenv("TOKENENROL_DEFAULT_EXPIRY_NOTIFY"),
			ExpiryThreshold:   int64(envInt("TOKENENROL_DEFAULT_EXPIRY_THRESHOLD", 86400)),
			InactivityTimeout: int64(envInt("TOKENENROL_DEFAULT_INACTIVITY_TIMEOUT", 0)),
			MaxEnrolled:       envInt("TOKENENROL_DEFAULT_MAX_ENROLLED", 0),
			WelcomeMode:       os.Getenv("TOKENENROL_DEFAULT_WELCOME_MODE"),
		},
		Sender: sender,
	}

	srv := server.New(db, cfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Scheduler: reconciliation and the self-gated expiry notifier run
	// serially from one loop, so their writes never overlap.
	syncInterval := time.Duration(envInt("TOKENENROL_SYNC_INTERVAL_MINUTES", 60)) * time.Minute
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	go func() {
		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if report, err := srv.Engine().Run(0); err != nil {
					slog.Error("scheduled reconciliation failed", "error", err)
				} else if len(report.Traces) > 0 {
					slog.Info("reconciliation complete",
						"instances", report.Instances,
						"inactive_unenrolled", report.InactiveUnenrolled,
						"expired_unenrolled", report.ExpiredUnenrolled,
						"expired_suspended", report.ExpiredSuspended)
				}
				if report, err := srv.Notifier().Run(); err != nil {
					slog.Error("scheduled notification failed", "error", err)
				} else if !report.Skipped {
					slog.Info("expiry notification complete",
						"instances", report.Instances,
						"users_notified", report.UsersNotified,
						"summaries_sent", report.SummariesSent)
				}
				srv.RateLimiter().Cleanup()
			case <-schedCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("token enrolment service starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	schedCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment", "name", name, "value", v)
		return fallback
	}
	return n
}
