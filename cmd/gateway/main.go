// Command gateway runs the Gateway SSE re-framer process: the public
// REST/SSE surface consumed by browser clients, which proxies chat
// traffic to a separately-running Agent process over the transporthttp
// RPC client.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tiammomo/ShuaiTravelAgent/agentsvc/transporthttp"
	"github.com/tiammomo/ShuaiTravelAgent/config"
	"github.com/tiammomo/ShuaiTravelAgent/gateway"
	"github.com/tiammomo/ShuaiTravelAgent/log"
	"github.com/tiammomo/ShuaiTravelAgent/session"
	"github.com/tiammomo/ShuaiTravelAgent/telemetry"
)

var (
	configPath         = flag.String("config", "config.yaml", "Path to the configuration file")
	addr               = flag.String("addr", ":8080", "Listen address for the public HTTP/SSE surface")
	agentAddr          = flag.String("agent-addr", "http://localhost:9000", "Base URL of the Agent RPC process")
	logLevel           = flag.String("level", "info", "Log level (debug, info, warn, error, fatal)")
	agentClientTimeout = flag.Duration("agent-timeout", 120*time.Second, "Timeout for a single Agent RPC call")
)

func main() {
	flag.Parse()
	log.SetLevel(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("gateway: load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Start(ctx, telemetry.WithServiceName("travel-agent-gateway"))
	if err != nil {
		log.Fatalf("gateway: start telemetry: %v", err)
	}
	defer shutdownTracing(context.Background())

	agentClient := transporthttp.NewClient(*agentAddr, *agentClientTimeout)
	stores := session.NewStore(24*time.Hour, cfg.DefaultModel)

	gw := gateway.New(agentClient, stores, cfg)

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: gw.Handler(),
	}

	go func() {
		log.Infof("gateway: listening on %s, agent at %s", *addr, *agentAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("gateway: server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("gateway: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("gateway: shutdown error: %v", err)
	}
}
