package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telemed/internal/config"
	"telemed/internal/db"
	"telemed/internal/handlers"
	"telemed/internal/notify"
	"telemed/internal/payments"
	"telemed/internal/services"
	"telemed/internal/store"
	"telemed/internal/websocket"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	users := store.NewUserStore(database)
	providers := store.NewProviderStore(database)
	transactions := store.NewTransactionStore(database)
	events := store.NewEventStore(database)
	sessions := store.NewSessionStore(database)
	conversations := store.NewConversationStore(database)
	prescriptions := store.NewPrescriptionStore(database)
	admin := store.NewAdminStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()

	processor := payments.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorSecret)
	queue := notify.NewQueue(rdb, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom)

	escrow := services.NewEscrowService(txRunner, users, transactions, events)
	consultations := services.NewConsultationService(txRunner, sessions, conversations, prescriptions, providers, users, escrow, hub, queue)
	withdrawals := services.NewWithdrawalService(txRunner, users, users, transactions, events, processor, queue)
	funding := services.NewFundingService(txRunner, users, users, transactions, events, processor, hub, queue, cfg.WebhookSecret)
	reconciler := services.NewReconciler(transactions, withdrawals, cfg.ReconcileInterval, cfg.ReconcileStartDelay)

	background, stopBackground := context.WithCancel(context.Background())
	go queue.Work(background)
	go reconciler.Run(background)

	handler := handlers.New(database, txRunner, cfg, users, providers, transactions, events, admin, consultations, withdrawals, funding, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("telemed API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
