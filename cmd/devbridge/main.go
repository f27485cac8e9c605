package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opensandbox/ptyctl/internal/devbridge"
)

func main() {
	port := envInt("DEVBRIDGE_PORT", 3000)
	token := os.Getenv("DEVBRIDGE_TOKEN")
	if token == "" {
		token = os.Getenv("PTYCTL_API_TOKEN")
	}
	if token == "" {
		log.Println("devbridge: no token set, authentication disabled")
	}

	var backend devbridge.Backend
	switch mode := envOrDefault("DEVBRIDGE_BACKEND", "shell"); mode {
	case "shell":
		backend = &devbridge.ShellBackend{
			Shell: os.Getenv("DEVBRIDGE_SHELL"),
			Cols:  envInt("DEVBRIDGE_COLS", 120),
			Rows:  envInt("DEVBRIDGE_ROWS", 40),
		}
	case "emulator":
		backend = devbridge.NewEmulator()
	default:
		log.Fatalf("devbridge: unknown backend %q (want shell or emulator)", mode)
	}

	server := devbridge.New(backend, token)
	server.BufferLimit = envInt("DEVBRIDGE_BUFFER_LIMIT", 1<<20)
	server.ReadChunks = envInt("DEVBRIDGE_READ_CHUNKS", 0)
	if os.Getenv("DEVBRIDGE_LOG_REQUESTS") == "true" {
		server.EnableRequestLog()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	addr := fmt.Sprintf(":%d", port)
	go func() {
		log.Printf("devbridge: listening on %s", addr)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("devbridge: %v", err)
		}
	}()

	<-quit
	log.Println("devbridge: shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("devbridge: error closing server: %v", err)
	}
	server.CloseAll()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("devbridge: invalid %s %q: %v", key, v, err)
	}
	return n
}
