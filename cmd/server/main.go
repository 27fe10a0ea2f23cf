package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"peerprep/matching/internal/clients"
	"peerprep/matching/internal/config"
	"peerprep/matching/internal/match_management"
	"peerprep/matching/internal/metrics"
	"peerprep/matching/internal/room_management"
	"peerprep/matching/internal/routers"
	"peerprep/matching/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	st := store.NewFromAddr(cfg.RedisAddr)
	questionClient := clients.NewQuestionClient(cfg.QuestionSvcURL)
	userClient := clients.NewUserClient(cfg.UserSvcURL)

	mm := match_management.NewMatchManager(st, questionClient, userClient, logger)
	rm := room_management.NewRoomManager(st, questionClient, userClient, logger)
	mm.SetRoomLeaver(rm)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer, middleware.Timeout(60*time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(metrics.Middleware("matching"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("store unavailable"))
			return
		}
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	routers.MatchingRoutes(r, mm, rm, cfg.JWTSecret)

	addr := ":" + cfg.Port
	logger.Info("matching-svc listening", zap.String("addr", addr))
	log.Fatal(http.ListenAndServe(addr, r))
}
