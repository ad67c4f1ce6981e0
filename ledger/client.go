// Package ledger provides lightweight HTTP access to the external distributed
// ledger gateway used for balances, transaction lookups, and transfers. The
// ledger is authoritative for settlement truth; this package never caches.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction status values reported by the gateway.
const (
	TxConfirmed = "confirmed"
	TxFailed    = "failed"
	TxPending   = "pending"
)

// ErrTransactionNotFound is returned when the gateway has no record of a
// transaction signature.
var ErrTransactionNotFound = fmt.Errorf("ledger transaction not found")

// Client talks to the ledger gateway over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client using LEDGER_API_BASE or the devnet default.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("LEDGER_API_BASE")
	}
	if baseURL == "" {
		baseURL = "https://ledger.taskblitz.dev/devnet/api"
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Balance is an account balance snapshot.
type Balance struct {
	Address  string          `json:"address"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// TransferLeg is one credited/debited party within a ledger transaction.
type TransferLeg struct {
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// Transaction is a settled or pending ledger transaction.
type Transaction struct {
	Signature string        `json:"signature"`
	Status    string        `json:"status"`
	BlockTime time.Time     `json:"block_time"`
	Transfers []TransferLeg `json:"transfers"`
}

// CreditedTo sums the amounts credited to the given address across all legs.
func (t Transaction) CreditedTo(address string) decimal.Decimal {
	total := decimal.Zero
	for _, leg := range t.Transfers {
		if leg.Destination == address {
			total = total.Add(leg.Amount)
		}
	}
	return total
}

// TransferRequest asks the gateway to move funds between wallets.
type TransferRequest struct {
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Memo        string          `json:"memo,omitempty"`
}

// TransferResult identifies the submitted transfer.
type TransferResult struct {
	Signature string `json:"signature"`
	Status    string `json:"status"`
}

// GetBalance returns the current balance for an address.
func (c *Client) GetBalance(ctx context.Context, address string) (Balance, error) {
	var bal Balance
	if err := c.getJSON(ctx, fmt.Sprintf("%s/accounts/%s/balance", c.baseURL, address), &bal); err != nil {
		return Balance{}, fmt.Errorf("fetch balance: %w", err)
	}
	return bal, nil
}

// GetTransaction looks up a transaction by signature. Returns
// ErrTransactionNotFound when the gateway reports 404.
func (c *Client) GetTransaction(ctx context.Context, signature string) (Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/transactions/%s", c.baseURL, signature), nil)
	if err != nil {
		return Transaction{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Transaction{}, fmt.Errorf("fetch transaction: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Transaction{}, ErrTransactionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Transaction{}, fmt.Errorf("fetch transaction: status %d: %s", resp.StatusCode, string(body))
	}
	var tx Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return Transaction{}, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// Transfer submits a transfer through the gateway and returns its signature.
func (c *Client) Transfer(ctx context.Context, tr TransferRequest) (TransferResult, error) {
	body, err := json.Marshal(tr)
	if err != nil {
		return TransferResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return TransferResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return TransferResult{}, fmt.Errorf("submit transfer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return TransferResult{}, fmt.Errorf("submit transfer: status %d: %s", resp.StatusCode, string(respBody))
	}
	var res TransferResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return TransferResult{}, fmt.Errorf("decode transfer result: %w", err)
	}
	return res, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
