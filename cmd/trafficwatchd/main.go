package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"trafficwatch/internal/auth"
	"trafficwatch/internal/config"
	"trafficwatch/internal/correlator"
	"trafficwatch/internal/database"
	"trafficwatch/internal/framestore"
	"trafficwatch/internal/lightstore"
	"trafficwatch/internal/registry"
	"trafficwatch/internal/stats"
	"trafficwatch/internal/ws"
)

func main() {
	var (
		addrF = flag.String("addr", "", "Listen address (overrides TW_LISTEN_ADDR)")
		dbF   = flag.String("db", "", "SQLite database path (overrides TW_DB_PATH)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[trafficwatch] ", log.Ltime)

	cfg := config.Load()
	if *addrF != "" {
		cfg.ListenAddr = *addrF
	}
	if *dbF != "" {
		cfg.DBPath = *dbF
	}

	// Single store handle constructed here and passed down by reference
	db, err := database.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}

	reg, err := registry.New(db)
	if err != nil {
		logger.Fatalf("failed to initialize camera registry: %v", err)
	}

	frames := framestore.New(cfg.FrameTTL)
	lights := lightstore.New(cfg.LightTTL)
	defer lights.Close()

	hub := ws.NewHub(reg)
	corr := correlator.New(lights, cfg.ViolationDirections)
	agg := stats.New(db)
	router := ws.NewEventRouter(hub, reg, frames, lights, corr, agg, db)
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry)

	// Channel used by both the signal handler and the server goroutine
	// to notify the main goroutine when to stop.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	handleHTTPServer(ctx, cfg, hub, router, reg, frames, db, jwtMgr, &wg, errc, logger)

	logger.Printf("exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	logger.Println("exited")
}
