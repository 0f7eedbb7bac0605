package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"

	"telemed/internal/auth"
	"telemed/internal/store"

	"github.com/lib/pq"
)

func TestRegisterPatient(t *testing.T) {
	var createdRole string
	profileCreated := false
	users := stubUserStore{
		createFn: func(_ context.Context, _ store.Execer, _, username, email, _, role string) error {
			createdRole = role
			return nil
		},
	}
	providers := stubProviderStore{
		createProfileFn: func(context.Context, store.Execer, string, string, string) error {
			profileCreated = true
			return nil
		},
	}
	h := newTestHandler(handlerDeps{users: users, providers: providers})
	rr := doRequest(t, h, http.MethodPost, "/auth/register",
		`{"username":"pat","email":"pat@example.com","password":"secret123","role":"patient"}`, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if createdRole != "patient" {
		t.Fatalf("expected patient role, got %q", createdRole)
	}
	if profileCreated {
		t.Fatal("patients must not get a provider profile")
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp["token"] == "" {
		t.Fatalf("expected a token, got %s", rr.Body.String())
	}
}

func TestRegisterDoctorCreatesProfileAndSpecialties(t *testing.T) {
	profileCreated := false
	var specialties []string
	var fees []int64
	providers := stubProviderStore{
		createProfileFn: func(_ context.Context, _ store.Execer, _, kind, _ string) error {
			if kind != "doctor" {
				t.Fatalf("expected doctor profile, got %q", kind)
			}
			profileCreated = true
			return nil
		},
		upsertSpecialtyFn: func(_ context.Context, _ store.Execer, _, _, name string, fee int64) error {
			specialties = append(specialties, name)
			fees = append(fees, fee)
			return nil
		},
	}
	h := newTestHandler(handlerDeps{providers: providers})
	rr := doRequest(t, h, http.MethodPost, "/auth/register",
		`{"username":"doc","email":"doc@example.com","password":"secret123","role":"doctor","about":"cardiologist","specialties":[{"name":"cardiology","fee":"30.00"}]}`, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !profileCreated {
		t.Fatal("provider profile was not created")
	}
	if len(specialties) != 1 || specialties[0] != "cardiology" || fees[0] != 3000 {
		t.Fatalf("unexpected specialties: %v %v", specialties, fees)
	}
}

func TestRegisterFirstUserBecomesAdmin(t *testing.T) {
	promoted := false
	admin := stubAdminStore{
		hasAnyAdminFn: func(context.Context) (bool, error) { return false, nil },
		promoteFn: func(context.Context, store.Execer, string) error {
			promoted = true
			return nil
		},
	}
	h := newTestHandler(handlerDeps{admin: admin})
	rr := doRequest(t, h, http.MethodPost, "/auth/register",
		`{"username":"first","email":"first@example.com","password":"secret123","role":"patient"}`, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !promoted {
		t.Fatal("first user must be promoted to admin")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	users := stubUserStore{
		createFn: func(context.Context, store.Execer, string, string, string, string, string) error {
			return &pq.Error{Code: "23505"}
		},
	}
	h := newTestHandler(handlerDeps{users: users})
	rr := doRequest(t, h, http.MethodPost, "/auth/register",
		`{"username":"dup","email":"dup@example.com","password":"secret123","role":"patient"}`, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRegisterRejectsBadRole(t *testing.T) {
	h := newTestHandler(handlerDeps{})
	rr := doRequest(t, h, http.MethodPost, "/auth/register",
		`{"username":"bad","email":"bad@example.com","password":"secret123","role":"plumber"}`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLoginWrongPassword(t *testing.T) {
	hash, err := auth.HashPassword("correct-password")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	users := stubUserStore{
		getByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "user-1", PasswordHash: hash}, nil
		},
	}
	h := newTestHandler(handlerDeps{users: users})
	rr := doRequest(t, h, http.MethodPost, "/auth/login",
		`{"email":"user@example.com","password":"wrong-password"}`, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	users := stubUserStore{
		getByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{}, sql.ErrNoRows
		},
	}
	h := newTestHandler(handlerDeps{users: users})
	rr := doRequest(t, h, http.MethodPost, "/auth/login",
		`{"email":"nobody@example.com","password":"whatever123"}`, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLoginSuspendedAccount(t *testing.T) {
	hash, err := auth.HashPassword("correct-password")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	users := stubUserStore{
		getByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "user-1", PasswordHash: hash, IsSuspended: true}, nil
		},
	}
	h := newTestHandler(handlerDeps{users: users})
	rr := doRequest(t, h, http.MethodPost, "/auth/login",
		`{"email":"user@example.com","password":"correct-password"}`, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMeRequiresAuth(t *testing.T) {
	h := newTestHandler(handlerDeps{})
	rr := doRequest(t, h, http.MethodGet, "/auth/me", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestMeReturnsProfile(t *testing.T) {
	users := stubUserStore{
		getByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Username: "pat", Email: "pat@example.com", Role: "patient", WalletBalance: 5000}, nil
		},
	}
	h := newTestHandler(handlerDeps{users: users})
	rr := doRequest(t, h, http.MethodGet, "/auth/me", "", "user-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp["wallet_balance"] != "50.00" {
		t.Fatalf("expected formatted balance, got %v", resp["wallet_balance"])
	}
}
