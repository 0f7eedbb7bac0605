package handlers

import (
	"net/http"

	"telemed/internal/config"
	"telemed/internal/db"
	"telemed/internal/middleware"
	"telemed/internal/store"
	"telemed/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Handler struct {
	flowDB        store.Selecter
	txRunner      db.TxRunner
	cfg           config.Config
	users         UserStore
	providers     ProviderStore
	transactions  TransactionStore
	events        EventStore
	admin         AdminStore
	consultations ConsultationService
	withdrawals   WithdrawalService
	funding       FundingService
	hub           *websocket.Hub
}

func New(flowDB store.Selecter, txRunner db.TxRunner, cfg config.Config, users UserStore, providers ProviderStore, transactions TransactionStore, events EventStore, admin AdminStore, consultations ConsultationService, withdrawals WithdrawalService, funding FundingService, hub *websocket.Hub) *Handler {
	return &Handler{
		flowDB:        flowDB,
		txRunner:      txRunner,
		cfg:           cfg,
		users:         users,
		providers:     providers,
		transactions:  transactions,
		events:        events,
		admin:         admin,
		consultations: consultations,
		withdrawals:   withdrawals,
		funding:       funding,
		hub:           hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(middleware.Auth(h.cfg.JWTSecret)).Get("/me", h.Me)
	})
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/wallet", h.GetWallet)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/wallet/fund", h.FundWallet)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/wallet/fund/verify", h.VerifyFunding)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/transactions", h.ListTransactions)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/transactions/{id}/events", h.TransactionEvents)

	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/consultations", h.BookConsultation)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/consultations", h.ListConsultations)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/consultations/active", h.ActiveConsultation)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/consultations/{id}", h.GetConsultation)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/consultations/{id}/start", h.StartConsultation)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/consultations/{id}/complete", h.CompleteConsultation)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/consultations/{id}/cancel", h.CancelConsultation)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/consultations/{id}/messages", h.SendMessage)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/consultations/{id}/messages", h.ListMessages)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/consultations/{id}/prescriptions", h.CreatePrescription)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/consultations/{id}/prescriptions", h.ListPrescriptions)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/prescriptions/{id}/complete", h.CompletePrescription)

	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/providers/{id}/specialties", h.ListSpecialties)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Put("/providers/specialties", h.SetSpecialties)

	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/withdrawals", h.RequestWithdrawal)

	router.Post("/webhooks/paystack", h.PaystackWebhook)
	router.Get("/ws/sessions", h.WSSessions)

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Use(middleware.RequireAdmin(h.admin))
		r.Post("/withdrawals/{id}/approve", h.ApproveWithdrawal)
		r.Post("/withdrawals/{id}/finalize", h.FinalizeWithdrawal)
		r.Post("/withdrawals/{id}/check", h.CheckWithdrawal)
		r.Get("/withdrawals/pending", h.ListPendingWithdrawals)
		r.Get("/withdrawals/verification-needed", h.ListVerificationNeeded)
		r.Post("/wallets/adjust", h.AdjustWallet)
		r.Post("/users/suspend", h.SuspendUser)
		r.Post("/promote", h.PromoteAdmin)
		r.Get("/money-flow", h.MoneyFlow)
		r.Get("/users/{email}/transactions", h.UserTransactions)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
