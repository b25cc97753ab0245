/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the blood allocation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Create API handler and background sweeper
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port             HTTP server port (default: 8080)
  -db               SQLite database path (default: bloodbank.db)
                    Use ":memory:" for an in-memory database
  -sweep-interval   How often the inventory sweep runs (default: 1h)
  -reservation-ttl  Age after which an uncommitted reservation is
                    force-released (default: 30m)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper and close the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/bloodbank.db"

  # Run with in-memory database and aggressive sweeps
  ./server -db=":memory:" -sweep-interval=1m -reservation-ttl=5m

SEE ALSO:
  - api/server.go: Router configuration
  - api/sweeper.go: Background housekeeping
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crossmatch/blood-engine/api"
	"github.com/crossmatch/blood-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "bloodbank.db", "SQLite database path")
	sweepInterval := flag.Duration("sweep-interval", time.Hour, "inventory sweep interval")
	reservationTTL := flag.Duration("reservation-ttl", 30*time.Minute, "uncommitted reservation TTL")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler and router
	handler := api.NewHandler(store)
	router := api.NewRouter(handler)

	// Background housekeeping: expiry marking + stale reservation release
	sweeper := api.NewSweeper(store)
	sweeper.CheckInterval = *sweepInterval
	sweeper.ReservationTTL = *reservationTTL
	sweeper.Start()
	defer sweeper.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Blood allocation engine listening on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
