package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"presence/internal/account"
	"presence/internal/config"
	"presence/internal/queue"
	"presence/internal/session"
	"presence/internal/store"
)

// Worker consumes session-displacement messages and revokes the
// credentials of the session that was pushed out, so a login on a new
// device reliably kills the old one.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:sessions")
	}

	repo := account.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != session.TypeDisplaced {
			continue
		}

		evt, err := session.DecodeDisplaced(msg.Body)
		if err != nil {
			log.Printf("bad displacement message: %v", err)
			continue
		}

		n, err := repo.RevokeDisplacedSessions(ctx, evt.AccountID, evt.NewToken)
		if err != nil {
			log.Printf("revoke for account %s failed: %v", evt.AccountID, err)
			continue
		}
		log.Printf("account %s: revoked %d refresh token(s) of displaced session", evt.AccountID, n)
	}

	log.Println("worker stopped")
}
