package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/conclave-mtg/conclave-api/configs"
	"github.com/conclave-mtg/conclave-api/internal/conclave/auth"
	"github.com/conclave-mtg/conclave-api/internal/conclave/bridge"
	"github.com/conclave-mtg/conclave-api/internal/conclave/handlers"
	"github.com/conclave-mtg/conclave-api/internal/conclave/hub"
	"github.com/conclave-mtg/conclave-api/internal/conclave/service"
	"github.com/conclave-mtg/conclave-api/internal/conclave/store"
	"github.com/conclave-mtg/conclave-api/internal/db"
)

const SERVICE_NAME = "conclave"

func init() {
	instanceId := "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	instanceID := config.CreateUniqueInstance(SERVICE_NAME)

	// Database
	pool, err := db.Connect()
	if err != nil {
		log.Fatalf("unable to connect to postgres: %v", err)
	}
	defer db.ClosePool()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("unable to run migrations: %v", err)
	}

	games := store.NewGameStore(pool)
	players := store.NewPlayerStore(pool)
	life := store.NewLifeStore(pool)
	damage := store.NewDamageStore(pool)

	h := hub.NewHub()
	svc := service.NewGameService(games, players, life, damage, h)
	svc.SetPolicies(
		service.EliminationPolicyByName(os.Getenv("ELIMINATION_POLICY")),
		service.WinnerPolicyByName(os.Getenv("WINNER_POLICY")),
	)

	// Optional cross-instance event mirror
	if os.Getenv("NATS_URL") != "" {
		natsConn, err := bridge.Connect()
		if err != nil {
			log.Fatalf("unable to connect to NATS server: %v", err)
		}
		defer natsConn.Close()

		b := bridge.New(natsConn, instanceID, svc.InjectEvent)
		if err := b.Start(); err != nil {
			log.Fatalf("unable to start NATS bridge: %v", err)
		}
		defer b.Stop()
		svc.SetMirror(b)
		log.Infof("NATS bridge established for instance %s", instanceID)
	}

	resolver := auth.NewResolver(os.Getenv("JWT_SECRET_KEY"))
	handler := handlers.NewHandler(svc, resolver, h)

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(c.Handler)

	// to protect the service api from any over requests
	rateLimitStr := os.Getenv("RATE_LIMIT")
	rateLimit, err := strconv.Atoi(rateLimitStr)
	if err != nil {
		log.Fatalf("Invalid RATE_LIMIT value: %v", err)
	}
	r.Use(httprate.LimitByIP(rateLimit, 1*time.Minute))

	handler.SetRoutes(r)

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + os.Getenv("SERVICE_PORT"),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
