// Command sapiod runs the HTTP/WS API server over the compiler and
// binder, loading its configuration from the environment (optionally via
// a .env file).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/sapio-lang/sapio/api"
	"github.com/sapio-lang/sapio/binder"
	"github.com/sapio-lang/sapio/txstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("sapiod: .env not found or unreadable, using process environment: %v", err)
	}

	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("sapiod: starting")

	server := api.NewServerWithTxIndex(openTxIndex())

	go func() {
		addr := getEnv("SAPIO_API_ADDR", ":8080")
		if err := server.Start(addr); err != nil {
			log.Fatalf("sapiod: api server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("sapiod: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("sapiod: shutdown error: %v", err)
	}
	log.Println("sapiod: shutdown complete")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openTxIndex wires a persistent txstore.PostgresTxIndex when DATABASE_URL
// is configured; absent that variable, binds fall back to the stateless
// in-memory index. Returns a nil interface (not a typed nil) in that case,
// so api.NewServerWithTxIndex sees a true nil and falls back correctly.
func openTxIndex() binder.TxIndex {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Println("sapiod: DATABASE_URL not set, binds use a fresh in-memory index per request")
		return nil
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("sapiod: failed to connect to database: %v", err)
	}

	idx := txstore.NewPostgresTxIndex(db, context.Background())
	if err := idx.Migrate(); err != nil {
		log.Fatalf("sapiod: failed to migrate txstore schema: %v", err)
	}
	log.Println("sapiod: bound transaction index backed by postgres")
	return idx
}
