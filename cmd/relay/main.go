package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"session-service/internal/relay"
)

func main() {
	port := getenv("PORT", "3004")
	redisURL := getenv("REDIS_URL", "redis://localhost:6379")

	ctx := context.Background()

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("relay: invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	hub := relay.NewHub()
	srv := relay.NewServer(hub, rdb)

	go hub.Run()
	go srv.RunSubscriber(ctx)

	r := srv.Router(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	log.Printf("relay listening on :%s", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("relay: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
