package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfromnewground/modelcontextprotocol/internal/config"
	"github.com/robfromnewground/modelcontextprotocol/internal/dispatch"
	"github.com/robfromnewground/modelcontextprotocol/internal/hub"
	"github.com/robfromnewground/modelcontextprotocol/internal/server"
	"github.com/robfromnewground/modelcontextprotocol/internal/tools"
	"github.com/robfromnewground/modelcontextprotocol/internal/upstream"
	"github.com/robfromnewground/modelcontextprotocol/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting %s...", dispatch.ServerName)
	log.Printf("Port: %d", cfg.Port)
	log.Printf("Upstream URL: %s", cfg.UpstreamBaseURL)

	// Initialize session hub
	sessionHub := hub.NewHub()

	// Initialize upstream client and tool registry
	client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.APIKey, cfg.UpstreamTimeout)
	registry := tools.NewRegistry()

	// Initialize dispatcher
	dispatcher := dispatch.NewDispatcher(sessionHub, registry, client)

	// Initialize HTTP server with SSE and WebSocket transports
	srv := server.NewServer(sessionHub, dispatcher)
	wsServer := ws.NewServer(cfg, sessionHub, dispatcher)
	srv.RegisterWebSocket(wsServer.HandleWebSocket)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %d", cfg.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	// Stop accepting new sessions and sweep the registry, then drain the
	// HTTP server.
	sessionHub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Server stopped")
}
