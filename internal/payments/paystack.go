package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OTPOutcome classifies the processor's answer to an OTP submission.
// Ambiguous means the transfer may still settle and must be reconciled
// through TransferStatus rather than marked failed.
type OTPOutcome int

const (
	OutcomeSuccess OTPOutcome = iota
	OutcomeFailed
	OutcomeAmbiguous
)

type OTPResult struct {
	Outcome OTPOutcome
	Reason  string
}

type ChargeAuthorization struct {
	AuthorizationURL string
	Reference        string
}

type ChargeVerification struct {
	Paid          bool
	Amount        int64
	CustomerEmail string
}

var ErrProcessor = errors.New("payment processor error")

type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Charge(ctx context.Context, email string, amountMinor int64) (ChargeAuthorization, error) {
	body, err := c.call(ctx, http.MethodPost, "/transaction/initialize", map[string]any{
		"email":  email,
		"amount": amountMinor,
	})
	if err != nil {
		return ChargeAuthorization{}, err
	}
	var parsed struct {
		Data struct {
			AuthorizationURL string `json:"authorization_url"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ChargeAuthorization{}, fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	return ChargeAuthorization{
		AuthorizationURL: parsed.Data.AuthorizationURL,
		Reference:        parsed.Data.Reference,
	}, nil
}

func (c *Client) VerifyCharge(ctx context.Context, reference string) (ChargeVerification, error) {
	body, err := c.call(ctx, http.MethodGet, "/transaction/verify/"+reference, nil)
	if err != nil {
		return ChargeVerification{}, err
	}
	var parsed struct {
		Data struct {
			Status   string `json:"status"`
			Amount   int64  `json:"amount"`
			Customer struct {
				Email string `json:"email"`
			} `json:"customer"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ChargeVerification{}, fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	return ChargeVerification{
		Paid:          parsed.Data.Status == "success",
		Amount:        parsed.Data.Amount,
		CustomerEmail: parsed.Data.Customer.Email,
	}, nil
}

func (c *Client) ValidateAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	body, err := c.call(ctx, http.MethodGet, fmt.Sprintf("/bank/resolve?account_number=%s&bank_code=%s", accountNumber, bankCode), nil)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Data struct {
			AccountName string `json:"account_name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	return parsed.Data.AccountName, nil
}

func (c *Client) CreateTransferRecipient(ctx context.Context, accountName, accountNumber, bankCode string) (string, error) {
	body, err := c.call(ctx, http.MethodPost, "/transferrecipient", map[string]any{
		"type":           "nuban",
		"name":           accountName,
		"account_number": accountNumber,
		"bank_code":      bankCode,
		"currency":       "NGN",
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Data struct {
			RecipientCode string `json:"recipient_code"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	return parsed.Data.RecipientCode, nil
}

func (c *Client) InitiateTransfer(ctx context.Context, amountMinor int64, recipientCode, reason string) (string, error) {
	body, err := c.call(ctx, http.MethodPost, "/transfer", map[string]any{
		"source":    "balance",
		"amount":    amountMinor,
		"recipient": recipientCode,
		"reason":    reason,
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Data struct {
			TransferCode string `json:"transfer_code"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	return parsed.Data.TransferCode, nil
}

// SubmitOTP finalizes a transfer. Transport failures and replies that still
// mention the OTP leave the transfer in an unknown state, so those come back
// Ambiguous instead of Failed.
func (c *Client) SubmitOTP(ctx context.Context, otp, transferCode string) OTPResult {
	payload, _ := json.Marshal(map[string]string{
		"otp":           otp,
		"transfer_code": transferCode,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfer/finalize_transfer", bytes.NewReader(payload))
	if err != nil {
		return OTPResult{Outcome: OutcomeAmbiguous, Reason: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return OTPResult{Outcome: OutcomeAmbiguous, Reason: err.Error()}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var parsed struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &parsed)
	if resp.StatusCode >= 500 {
		return OTPResult{Outcome: OutcomeAmbiguous, Reason: parsed.Message}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && parsed.Status {
		return OTPResult{Outcome: OutcomeSuccess, Reason: parsed.Message}
	}
	if strings.Contains(strings.ToLower(parsed.Message), "otp") {
		return OTPResult{Outcome: OutcomeAmbiguous, Reason: parsed.Message}
	}
	return OTPResult{Outcome: OutcomeFailed, Reason: parsed.Message}
}

// TransferStatus reports the settled state of a transfer: "success",
// "failed", or "pending" for anything the processor has not resolved yet.
func (c *Client) TransferStatus(ctx context.Context, transferCode string) (string, error) {
	body, err := c.call(ctx, http.MethodGet, "/transfer/"+transferCode, nil)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	switch parsed.Data.Status {
	case "success":
		return "success", nil
	case "failed", "reversed":
		return "failed", nil
	default:
		return "pending", nil
	}
}

func (c *Client) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &parsed)
		if parsed.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrProcessor, parsed.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrProcessor, resp.StatusCode)
	}
	return body, nil
}
