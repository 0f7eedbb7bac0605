package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telemed/internal/auth"
	"telemed/internal/config"
	"telemed/internal/payments"
	"telemed/internal/services"
	"telemed/internal/store"
	"telemed/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubFlowDB struct {
	selectFn func(ctx context.Context, dest any, query string, args ...any) error
}

func (s stubFlowDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	if s.selectFn == nil {
		return nil
	}
	return s.selectFn(ctx, dest, query, args...)
}

type stubUserStore struct {
	createFn       func(ctx context.Context, tx store.Execer, id, username, email, passwordHash, role string) error
	getByEmailFn   func(ctx context.Context, email string) (store.User, error)
	getByIDFn      func(ctx context.Context, userID string) (store.User, error)
	balanceFn      func(ctx context.Context, userID string) (int64, error)
	creditFn       func(ctx context.Context, tx store.Execer, userID string, amount int64) error
	debitFn        func(ctx context.Context, tx store.Execer, userID string, amount int64) (int64, error)
	setSuspendedFn func(ctx context.Context, tx store.Execer, userID string, suspended bool) (int64, error)
}

func (s stubUserStore) Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash, role string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, username, email, passwordHash, role)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (store.User, error) {
	if s.getByEmailFn == nil {
		return store.User{}, nil
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (store.User, error) {
	if s.getByIDFn == nil {
		return store.User{ID: userID}, nil
	}
	return s.getByIDFn(ctx, userID)
}

func (s stubUserStore) Balance(ctx context.Context, userID string) (int64, error) {
	if s.balanceFn == nil {
		return 0, nil
	}
	return s.balanceFn(ctx, userID)
}

func (s stubUserStore) Credit(ctx context.Context, tx store.Execer, userID string, amount int64) error {
	if s.creditFn == nil {
		return nil
	}
	return s.creditFn(ctx, tx, userID, amount)
}

func (s stubUserStore) Debit(ctx context.Context, tx store.Execer, userID string, amount int64) (int64, error) {
	if s.debitFn == nil {
		return 1, nil
	}
	return s.debitFn(ctx, tx, userID, amount)
}

func (s stubUserStore) SetSuspended(ctx context.Context, tx store.Execer, userID string, suspended bool) (int64, error) {
	if s.setSuspendedFn == nil {
		return 1, nil
	}
	return s.setSuspendedFn(ctx, tx, userID, suspended)
}

type stubProviderStore struct {
	createProfileFn   func(ctx context.Context, tx store.Execer, userID, kind, about string) error
	upsertSpecialtyFn func(ctx context.Context, tx store.Execer, id, providerID, name string, fee int64) error
	listSpecialtiesFn func(ctx context.Context, providerID string) ([]store.Specialty, error)
}

func (s stubProviderStore) CreateProfile(ctx context.Context, tx store.Execer, userID, kind, about string) error {
	if s.createProfileFn == nil {
		return nil
	}
	return s.createProfileFn(ctx, tx, userID, kind, about)
}

func (s stubProviderStore) UpsertSpecialty(ctx context.Context, tx store.Execer, id, providerID, name string, fee int64) error {
	if s.upsertSpecialtyFn == nil {
		return nil
	}
	return s.upsertSpecialtyFn(ctx, tx, id, providerID, name, fee)
}

func (s stubProviderStore) ListSpecialties(ctx context.Context, providerID string) ([]store.Specialty, error) {
	if s.listSpecialtiesFn == nil {
		return nil, nil
	}
	return s.listSpecialtiesFn(ctx, providerID)
}

type stubTransactionStore struct {
	createFn       func(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	getByIDFn      func(ctx context.Context, transactionID string) (store.Transaction, error)
	listByUserFn   func(ctx context.Context, userID, txType string, limit, offset int) ([]store.Transaction, error)
	listByStatusFn func(ctx context.Context, txType, status string, limit int) ([]store.Transaction, error)
	listVerifyFn   func(ctx context.Context) ([]store.Transaction, error)
}

func (s stubTransactionStore) Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, input)
}

func (s stubTransactionStore) GetByID(ctx context.Context, transactionID string) (store.Transaction, error) {
	if s.getByIDFn == nil {
		return store.Transaction{ID: transactionID}, nil
	}
	return s.getByIDFn(ctx, transactionID)
}

func (s stubTransactionStore) ListByUser(ctx context.Context, userID, txType string, limit, offset int) ([]store.Transaction, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID, txType, limit, offset)
}

func (s stubTransactionStore) ListByStatus(ctx context.Context, txType, status string, limit int) ([]store.Transaction, error) {
	if s.listByStatusFn == nil {
		return nil, nil
	}
	return s.listByStatusFn(ctx, txType, status, limit)
}

func (s stubTransactionStore) ListVerificationNeeded(ctx context.Context) ([]store.Transaction, error) {
	if s.listVerifyFn == nil {
		return nil, nil
	}
	return s.listVerifyFn(ctx)
}

type stubEventStore struct {
	appendFn func(ctx context.Context, tx store.Execer, transactionID string, actorID *string, fromStatus, toStatus, detail string) error
	listFn   func(ctx context.Context, transactionID string) ([]map[string]any, error)
}

func (s stubEventStore) Append(ctx context.Context, tx store.Execer, transactionID string, actorID *string, fromStatus, toStatus, detail string) error {
	if s.appendFn == nil {
		return nil
	}
	return s.appendFn(ctx, tx, transactionID, actorID, fromStatus, toStatus, detail)
}

func (s stubEventStore) ListByTransaction(ctx context.Context, transactionID string) ([]map[string]any, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, transactionID)
}

type stubAdminStore struct {
	isAdminFn     func(ctx context.Context, userID string) (bool, error)
	promoteFn     func(ctx context.Context, tx store.Execer, userID string) error
	hasAnyAdminFn func(ctx context.Context) (bool, error)
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if s.isAdminFn == nil {
		return false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) Promote(ctx context.Context, tx store.Execer, userID string) error {
	if s.promoteFn == nil {
		return nil
	}
	return s.promoteFn(ctx, tx, userID)
}

func (s stubAdminStore) HasAnyAdmin(ctx context.Context) (bool, error) {
	if s.hasAnyAdminFn == nil {
		return true, nil
	}
	return s.hasAnyAdminFn(ctx)
}

type stubConsultations struct {
	bookFn          func(ctx context.Context, req services.BookRequest) (services.BookedSession, error)
	startFn         func(ctx context.Context, doctorID, sessionID string) error
	completeFn      func(ctx context.Context, doctorID, sessionID string) (string, error)
	cancelFn        func(ctx context.Context, actorID, sessionID string) error
	prescribeFn     func(ctx context.Context, req services.PrescribeRequest) (string, error)
	sendMessageFn   func(ctx context.Context, senderID, sessionID, body string) error
	getFn           func(ctx context.Context, userID, sessionID string) (store.Session, error)
	listForUserFn   func(ctx context.Context, userID string, limit, offset int) ([]store.Session, error)
	mostRecentFn    func(ctx context.Context, userID string) (store.Session, error)
	prescriptionsFn func(ctx context.Context, userID, sessionID string) ([]store.Prescription, error)
}

func (s stubConsultations) Book(ctx context.Context, req services.BookRequest) (services.BookedSession, error) {
	if s.bookFn == nil {
		return services.BookedSession{}, nil
	}
	return s.bookFn(ctx, req)
}

func (s stubConsultations) Start(ctx context.Context, doctorID, sessionID string) error {
	if s.startFn == nil {
		return nil
	}
	return s.startFn(ctx, doctorID, sessionID)
}

func (s stubConsultations) Complete(ctx context.Context, doctorID, sessionID string) (string, error) {
	if s.completeFn == nil {
		return "completed", nil
	}
	return s.completeFn(ctx, doctorID, sessionID)
}

func (s stubConsultations) Cancel(ctx context.Context, actorID, sessionID string) error {
	if s.cancelFn == nil {
		return nil
	}
	return s.cancelFn(ctx, actorID, sessionID)
}

func (s stubConsultations) Prescribe(ctx context.Context, req services.PrescribeRequest) (string, error) {
	if s.prescribeFn == nil {
		return "rx-1", nil
	}
	return s.prescribeFn(ctx, req)
}

func (s stubConsultations) CompletePrescription(ctx context.Context, prescriptionID string) error {
	return nil
}

func (s stubConsultations) SendMessage(ctx context.Context, senderID, sessionID, body string) error {
	if s.sendMessageFn == nil {
		return nil
	}
	return s.sendMessageFn(ctx, senderID, sessionID, body)
}

func (s stubConsultations) Messages(ctx context.Context, userID, sessionID string, limit, offset int) ([]map[string]any, error) {
	return nil, nil
}

func (s stubConsultations) Get(ctx context.Context, userID, sessionID string) (store.Session, error) {
	if s.getFn == nil {
		return store.Session{ID: sessionID}, nil
	}
	return s.getFn(ctx, userID, sessionID)
}

func (s stubConsultations) ListForUser(ctx context.Context, userID string, limit, offset int) ([]store.Session, error) {
	if s.listForUserFn == nil {
		return nil, nil
	}
	return s.listForUserFn(ctx, userID, limit, offset)
}

func (s stubConsultations) MostRecentActive(ctx context.Context, userID string) (store.Session, error) {
	if s.mostRecentFn == nil {
		return store.Session{}, services.ErrSessionNotFound
	}
	return s.mostRecentFn(ctx, userID)
}

func (s stubConsultations) Prescriptions(ctx context.Context, userID, sessionID string) ([]store.Prescription, error) {
	if s.prescriptionsFn == nil {
		return nil, nil
	}
	return s.prescriptionsFn(ctx, userID, sessionID)
}

type stubWithdrawals struct {
	requestFn  func(ctx context.Context, req services.WithdrawalRequest) (string, error)
	approveFn  func(ctx context.Context, adminID, transactionID string) error
	finalizeFn func(ctx context.Context, userID, transactionID, otp string) error
	checkFn    func(ctx context.Context, adminID, transactionID string) error
}

func (s stubWithdrawals) Request(ctx context.Context, req services.WithdrawalRequest) (string, error) {
	if s.requestFn == nil {
		return "wd-1", nil
	}
	return s.requestFn(ctx, req)
}

func (s stubWithdrawals) Approve(ctx context.Context, adminID, transactionID string) error {
	if s.approveFn == nil {
		return nil
	}
	return s.approveFn(ctx, adminID, transactionID)
}

func (s stubWithdrawals) Finalize(ctx context.Context, userID, transactionID, otp string) error {
	if s.finalizeFn == nil {
		return nil
	}
	return s.finalizeFn(ctx, userID, transactionID, otp)
}

func (s stubWithdrawals) CheckStatus(ctx context.Context, adminID, transactionID string) error {
	if s.checkFn == nil {
		return nil
	}
	return s.checkFn(ctx, adminID, transactionID)
}

type stubFunding struct {
	initiateFn func(ctx context.Context, userID string, amount int64) (payments.ChargeAuthorization, error)
	webhookFn  func(ctx context.Context, body []byte, signature string) error
	verifyFn   func(ctx context.Context, userID, reference string) error
}

func (s stubFunding) Initiate(ctx context.Context, userID string, amount int64) (payments.ChargeAuthorization, error) {
	if s.initiateFn == nil {
		return payments.ChargeAuthorization{AuthorizationURL: "https://checkout.example/abc", Reference: "ref-1"}, nil
	}
	return s.initiateFn(ctx, userID, amount)
}

func (s stubFunding) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if s.webhookFn == nil {
		return nil
	}
	return s.webhookFn(ctx, body, signature)
}

func (s stubFunding) Verify(ctx context.Context, userID, reference string) error {
	if s.verifyFn == nil {
		return nil
	}
	return s.verifyFn(ctx, userID, reference)
}

type handlerDeps struct {
	flowDB        store.Selecter
	txRunner      fakeTxRunner
	users         UserStore
	providers     ProviderStore
	transactions  TransactionStore
	events        EventStore
	admin         AdminStore
	consultations ConsultationService
	withdrawals   WithdrawalService
	funding       FundingService
}

func newTestHandler(deps handlerDeps) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
	}
	if deps.flowDB == nil {
		deps.flowDB = stubFlowDB{}
	}
	if deps.users == nil {
		deps.users = stubUserStore{}
	}
	if deps.providers == nil {
		deps.providers = stubProviderStore{}
	}
	if deps.transactions == nil {
		deps.transactions = stubTransactionStore{}
	}
	if deps.events == nil {
		deps.events = stubEventStore{}
	}
	if deps.admin == nil {
		deps.admin = stubAdminStore{}
	}
	if deps.consultations == nil {
		deps.consultations = stubConsultations{}
	}
	if deps.withdrawals == nil {
		deps.withdrawals = stubWithdrawals{}
	}
	if deps.funding == nil {
		deps.funding = stubFunding{}
	}
	return New(deps.flowDB, deps.txRunner, cfg, deps.users, deps.providers, deps.transactions,
		deps.events, deps.admin, deps.consultations, deps.withdrawals, deps.funding, websocket.NewHub())
}

func doRequest(t *testing.T, h *Handler, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		token, err := auth.GenerateToken("secret", userID, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}
