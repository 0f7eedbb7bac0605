package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"telemed/internal/services"
)

func TestRequestWithdrawal(t *testing.T) {
	var got services.WithdrawalRequest
	withdrawals := stubWithdrawals{
		requestFn: func(_ context.Context, req services.WithdrawalRequest) (string, error) {
			got = req
			return "wd-1", nil
		},
	}
	h := newTestHandler(handlerDeps{withdrawals: withdrawals})
	rr := doRequest(t, h, http.MethodPost, "/withdrawals",
		`{"amount":"50.00","account_number":"0123456789","bank_name":"Test Bank","bank_code":"058"}`, "user-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "user-1" || got.Amount != 5000 || got.AccountNumber != "0123456789" {
		t.Fatalf("unexpected request: %#v", got)
	}
}

func TestRequestWithdrawalRejectsBadAccountNumber(t *testing.T) {
	h := newTestHandler(handlerDeps{})
	rr := doRequest(t, h, http.MethodPost, "/withdrawals",
		`{"amount":"50.00","account_number":"12345","bank_name":"Test Bank","bank_code":"058"}`, "user-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRequestWithdrawalRequiresBankDetails(t *testing.T) {
	h := newTestHandler(handlerDeps{})
	rr := doRequest(t, h, http.MethodPost, "/withdrawals",
		`{"amount":"50.00","account_number":"0123456789"}`, "user-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRequestWithdrawalInsufficientBalance(t *testing.T) {
	withdrawals := stubWithdrawals{
		requestFn: func(context.Context, services.WithdrawalRequest) (string, error) {
			return "", services.ErrInsufficientBalance
		},
	}
	h := newTestHandler(handlerDeps{withdrawals: withdrawals})
	rr := doRequest(t, h, http.MethodPost, "/withdrawals",
		`{"amount":"50.00","account_number":"0123456789","bank_name":"Test Bank","bank_code":"058"}`, "user-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRequestWithdrawalNonProvider(t *testing.T) {
	withdrawals := stubWithdrawals{
		requestFn: func(context.Context, services.WithdrawalRequest) (string, error) {
			return "", services.ErrNotProvider
		},
	}
	h := newTestHandler(handlerDeps{withdrawals: withdrawals})
	rr := doRequest(t, h, http.MethodPost, "/withdrawals",
		`{"amount":"50.00","account_number":"0123456789","bank_name":"Test Bank","bank_code":"058"}`, "user-1")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestFinalizeWithdrawalRejectsNonAdmins(t *testing.T) {
	h := newTestHandler(handlerDeps{admin: adminOnly()})
	rr := doRequest(t, h, http.MethodPost, "/admin/withdrawals/wd-1/finalize", `{"otp":"123456"}`, "user-1")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestFinalizeWithdrawalRequiresOTP(t *testing.T) {
	h := newTestHandler(handlerDeps{admin: adminOnly()})
	rr := doRequest(t, h, http.MethodPost, "/admin/withdrawals/wd-1/finalize", `{"otp":""}`, "admin-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestFinalizeWithdrawalStillPending(t *testing.T) {
	withdrawals := stubWithdrawals{
		finalizeFn: func(context.Context, string, string, string) error {
			return services.ErrStillPending
		},
	}
	h := newTestHandler(handlerDeps{admin: adminOnly(), withdrawals: withdrawals})
	rr := doRequest(t, h, http.MethodPost, "/admin/withdrawals/wd-1/finalize", `{"otp":"123456"}`, "admin-1")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp["status"] != "verification_needed" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestFinalizeWithdrawalTransferFailed(t *testing.T) {
	withdrawals := stubWithdrawals{
		finalizeFn: func(context.Context, string, string, string) error {
			return services.ErrTransferFailed
		},
	}
	h := newTestHandler(handlerDeps{admin: adminOnly(), withdrawals: withdrawals})
	rr := doRequest(t, h, http.MethodPost, "/admin/withdrawals/wd-1/finalize", `{"otp":"123456"}`, "admin-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestFinalizeWithdrawalSuccess(t *testing.T) {
	var gotAdmin, gotTx string
	withdrawals := stubWithdrawals{
		finalizeFn: func(_ context.Context, adminID, transactionID, _ string) error {
			gotAdmin, gotTx = adminID, transactionID
			return nil
		},
	}
	h := newTestHandler(handlerDeps{admin: adminOnly(), withdrawals: withdrawals})
	rr := doRequest(t, h, http.MethodPost, "/admin/withdrawals/wd-1/finalize", `{"otp":"123456"}`, "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotAdmin != "admin-1" || gotTx != "wd-1" {
		t.Fatalf("unexpected call: admin=%s tx=%s", gotAdmin, gotTx)
	}
}
