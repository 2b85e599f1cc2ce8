package ledger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"payout-core/pkg/logging"

	"github.com/shopspring/decimal"
)

// HTTPLedger posts entries to the bookkeeping service over HTTP with an
// HMAC-SHA256 signature header.
type HTTPLedger struct {
	url        string
	secret     string
	httpClient *http.Client
}

// NewHTTPLedger creates a ledger client for the given endpoint
func NewHTTPLedger(url, secret string) *HTTPLedger {
	return &HTTPLedger{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type postingPayload struct {
	TransactionID  string `json:"transaction_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Kind           string `json:"kind"`
	IdempotencyKey string `json:"idempotency_key"`
	Timestamp      string `json:"timestamp"`
}

// Post sends a ledger entry, retrying transient failures on a short
// schedule before giving up.
func (l *HTTPLedger) Post(ctx context.Context, transactionID string, amount decimal.Decimal, currency string, kind Kind, idempotencyKey string) error {
	payload := postingPayload{
		TransactionID:  transactionID,
		Amount:         amount.StringFixed(2),
		Currency:       currency,
		Kind:           string(kind),
		IdempotencyKey: idempotencyKey,
		Timestamp:      time.Now().Format(time.RFC3339),
	}

	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		lastErr = l.send(ctx, payload)
		if lastErr == nil {
			if attempt > 0 {
				logging.Infof("Ledger post succeeded after retry - transaction: %s, attempt: %d",
					transactionID, attempt+1)
			}
			return nil
		}
		if attempt < len(retryDelays) {
			select {
			case <-time.After(retryDelays[attempt]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("ledger post failed after %d attempts: %w", len(retryDelays)+1, lastErr)
}

// send performs a single signed request
func (l *HTTPLedger) send(ctx context.Context, payload postingPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PayoutCore-Ledger/1.0")
	if l.secret != "" {
		req.Header.Set("X-Payout-Signature", l.sign(jsonData))
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// sign generates an HMAC-SHA256 signature for the payload
func (l *HTTPLedger) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(l.secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
