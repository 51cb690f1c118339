// Command agent runs the Agent RPC process: it hosts the orchestrator
// and tool registry behind the transporthttp NDJSON RPC surface, for a
// Gateway process to call into.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/tiammomo/ShuaiTravelAgent/agentsvc"
	"github.com/tiammomo/ShuaiTravelAgent/agentsvc/transporthttp"
	"github.com/tiammomo/ShuaiTravelAgent/config"
	"github.com/tiammomo/ShuaiTravelAgent/log"
	"github.com/tiammomo/ShuaiTravelAgent/session"
	"github.com/tiammomo/ShuaiTravelAgent/telemetry"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to the configuration file")
	addr       = flag.String("addr", ":9000", "Listen address for the Agent RPC surface")
	logLevel   = flag.String("level", "info", "Log level (debug, info, warn, error, fatal)")
)

func main() {
	flag.Parse()
	log.SetLevel(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("agent: load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Start(ctx, telemetry.WithServiceName("travel-agent-agent"))
	if err != nil {
		log.Fatalf("agent: start telemetry: %v", err)
	}
	defer shutdownTracing(context.Background())

	stores := session.NewStore(24*time.Hour, cfg.DefaultModel)

	svc, err := agentsvc.New(cfg, stores)
	if err != nil {
		log.Fatalf("agent: build service: %v", err)
	}
	defer svc.Close()

	router := mux.NewRouter()
	transporthttp.NewHandler(svc).Register(router)

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: router,
	}

	go func() {
		log.Infof("agent: listening on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("agent: server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("agent: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("agent: shutdown error: %v", err)
	}
	fmt.Println("agent: stopped")
}
