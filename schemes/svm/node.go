package svm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// Node is the chain access the Solana adapter needs.
type Node interface {
	// TokenBalance returns the owner's total balance of a mint across
	// their token accounts, in atomic units.
	TokenBalance(ctx context.Context, owner, mint string) (*big.Int, error)

	// Simulate dry-runs the signed transaction against current chain
	// state. ok=false with a reason means the chain would reject it; a
	// non-nil error means the simulation itself could not run.
	Simulate(ctx context.Context, txBase64 string) (ok bool, reason string, err error)

	// Broadcast submits the base64 signed transaction and returns its
	// signature.
	Broadcast(ctx context.Context, txBase64 string) (string, error)

	// Confirmed reports whether a signature reached confirmed commitment.
	Confirmed(ctx context.Context, signature string) (bool, error)
}

// HTTPNode talks to a Solana JSON-RPC endpoint.
type HTTPNode struct {
	endpoint string
	client   *http.Client
}

// NewHTTPNode builds a node client.
func NewHTTPNode(endpoint string) *HTTPNode {
	return &HTTPNode{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *HTTPNode) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("svm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("svm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("svm: %s: %w", method, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("svm: %s returned %d", method, res.StatusCode)
	}

	var rpc struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rpc); err != nil {
		return fmt.Errorf("svm: decode %s response: %w", method, err)
	}
	if rpc.Error != nil {
		return fmt.Errorf("svm: %s failed: %d %s", method, rpc.Error.Code, rpc.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpc.Result, out); err != nil {
			return fmt.Errorf("svm: decode %s result: %w", method, err)
		}
	}
	return nil
}

// TokenBalance sums the owner's parsed token accounts for the mint.
func (n *HTTPNode) TokenBalance(ctx context.Context, owner, mint string) (*big.Int, error) {
	var out struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								Amount string `json:"amount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	params := []interface{}{
		owner,
		map[string]interface{}{"mint": mint},
		map[string]interface{}{"encoding": "jsonParsed"},
	}
	if err := n.call(ctx, "getTokenAccountsByOwner", params, &out); err != nil {
		return nil, err
	}

	total := big.NewInt(0)
	for _, acct := range out.Value {
		amount, ok := new(big.Int).SetString(acct.Account.Data.Parsed.Info.TokenAmount.Amount, 10)
		if ok {
			total.Add(total, amount)
		}
	}
	return total, nil
}

// Simulate runs simulateTransaction with signature checks off, so a
// transaction still awaiting the facilitator's fee payer signature can be
// vetted too.
func (n *HTTPNode) Simulate(ctx context.Context, txBase64 string) (bool, string, error) {
	var out struct {
		Value struct {
			Err json.RawMessage `json:"err"`
		} `json:"value"`
	}
	params := []interface{}{
		txBase64,
		map[string]interface{}{
			"encoding":               "base64",
			"sigVerify":              false,
			"replaceRecentBlockhash": true,
		},
	}
	if err := n.call(ctx, "simulateTransaction", params, &out); err != nil {
		return false, "", err
	}
	if len(out.Value.Err) > 0 && string(out.Value.Err) != "null" {
		return false, string(out.Value.Err), nil
	}
	return true, "", nil
}

// Broadcast submits the signed transaction without preflight simulation;
// verification already vetted it and a failed preflight would mask the
// chain's own error.
func (n *HTTPNode) Broadcast(ctx context.Context, txBase64 string) (string, error) {
	if _, err := base64.StdEncoding.DecodeString(txBase64); err != nil {
		return "", fmt.Errorf("svm: transaction is not valid base64: %w", err)
	}

	var signature string
	params := []interface{}{
		txBase64,
		map[string]interface{}{"encoding": "base64", "skipPreflight": true},
	}
	if err := n.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// Confirmed checks the signature status.
func (n *HTTPNode) Confirmed(ctx context.Context, signature string) (bool, error) {
	var out struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	params := []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": true},
	}
	if err := n.call(ctx, "getSignatureStatuses", params, &out); err != nil {
		return false, err
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return false, nil
	}
	status := out.Value[0]
	if len(status.Err) > 0 && string(status.Err) != "null" {
		return false, fmt.Errorf("svm: transaction %s failed: %s", signature, status.Err)
	}
	return status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized", nil
}
