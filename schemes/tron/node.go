package tron

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// transferSelector is the 4-byte selector of transfer(address,uint256).
const transferSelector = "a9059cbb"

// Node is the chain access the TRON adapter needs. The facilitator never
// signs on TRON; the client delivers a fully signed transaction.
type Node interface {
	// Balance returns the TRC-20 balance of an owner.
	Balance(ctx context.Context, contract, owner string) (*big.Int, error)

	// IsActivated reports whether an account exists on chain. TRON
	// accounts must be activated before they can transfer tokens.
	IsActivated(ctx context.Context, address string) (bool, error)

	// CheckTransaction confirms the signed transaction actually encodes
	// the declared transfer. Returns a reason string when it does not.
	CheckTransaction(ctx context.Context, p *ExactPayload) (ok bool, reason string, err error)

	// Broadcast submits the signed transaction and returns its txID.
	Broadcast(ctx context.Context, signedTransaction string) (string, error)

	// Confirmed reports whether a transaction succeeded on chain.
	Confirmed(ctx context.Context, txID string) (bool, error)
}

// HTTPNode talks to a TRON full node's HTTP API (TronGrid-compatible).
type HTTPNode struct {
	endpoint string
	client   *http.Client
	apiKey   string
}

// NewHTTPNode builds a node client. The API key is optional.
func NewHTTPNode(endpoint, apiKey string) *HTTPNode {
	return &HTTPNode{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		apiKey:   apiKey,
	}
}

func (n *HTTPNode) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("tron: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("tron: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", n.apiKey)
	}

	res, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("tron: %s: %w", path, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("tron: %s returned %d", path, res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("tron: decode %s response: %w", path, err)
	}
	return nil
}

// Balance calls balanceOf through triggerconstantcontract.
func (n *HTTPNode) Balance(ctx context.Context, contract, owner string) (*big.Int, error) {
	ownerHex, err := AddressToHex(owner)
	if err != nil {
		return nil, err
	}
	contractHex, err := AddressToHex(contract)
	if err != nil {
		return nil, err
	}

	// The parameter is the owner address left-padded to 32 bytes, without
	// the 0x41 network prefix.
	param := strings.Repeat("0", 24) + ownerHex[2:]

	var out struct {
		ConstantResult []string `json:"constant_result"`
		Result         struct {
			Result bool `json:"result"`
		} `json:"result"`
	}
	body := map[string]interface{}{
		"owner_address":     ownerHex,
		"contract_address":  contractHex,
		"function_selector": "balanceOf(address)",
		"parameter":         param,
	}
	if err := n.post(ctx, "/wallet/triggerconstantcontract", body, &out); err != nil {
		return nil, err
	}
	if !out.Result.Result || len(out.ConstantResult) == 0 {
		return nil, fmt.Errorf("tron: balanceOf call failed")
	}

	balance, ok := new(big.Int).SetString(strings.TrimLeft(out.ConstantResult[0], "0x"), 16)
	if !ok {
		balance = big.NewInt(0)
	}
	return balance, nil
}

// IsActivated checks account existence via getaccount.
func (n *HTTPNode) IsActivated(ctx context.Context, address string) (bool, error) {
	addrHex, err := AddressToHex(address)
	if err != nil {
		return false, err
	}
	var out map[string]interface{}
	body := map[string]interface{}{"address": addrHex}
	if err := n.post(ctx, "/wallet/getaccount", body, &out); err != nil {
		return false, err
	}
	// An unactivated account comes back as an empty object.
	_, ok := out["address"]
	return ok, nil
}

// signedTransaction is the TronWeb-style signed transaction JSON the client
// submits inside the payload.
type signedTransaction struct {
	TxID    string `json:"txID"`
	RawData struct {
		Contract []struct {
			Type      string `json:"type"`
			Parameter struct {
				Value struct {
					Data            string `json:"data"`
					OwnerAddress    string `json:"owner_address"`
					ContractAddress string `json:"contract_address"`
				} `json:"value"`
			} `json:"parameter"`
		} `json:"contract"`
		Expiration    int64  `json:"expiration"`
		RefBlockBytes string `json:"ref_block_bytes"`
		RefBlockHash  string `json:"ref_block_hash"`
		Timestamp     int64  `json:"timestamp"`
	} `json:"raw_data"`
	Signature []string `json:"signature"`
}

// CheckTransaction cross-checks the embedded transaction against the
// declared authorization: sender, contract, calldata and expiration must
// all agree. Signature authenticity is enforced by the chain at broadcast.
func (n *HTTPNode) CheckTransaction(_ context.Context, p *ExactPayload) (bool, string, error) {
	var tx signedTransaction
	if err := json.Unmarshal([]byte(p.SignedTransaction), &tx); err != nil {
		return false, "signed transaction is not valid JSON", nil
	}
	if len(tx.Signature) == 0 {
		return false, "transaction carries no signature", nil
	}
	if len(tx.RawData.Contract) != 1 || tx.RawData.Contract[0].Type != "TriggerSmartContract" {
		return false, "transaction is not a single TriggerSmartContract", nil
	}

	value := tx.RawData.Contract[0].Parameter.Value
	if !AddressesEqual(value.OwnerAddress, p.Authorization.From) {
		return false, "transaction sender does not match authorization", nil
	}
	if !AddressesEqual(value.ContractAddress, p.Authorization.ContractAddress) {
		return false, "transaction contract does not match authorization", nil
	}
	if tx.RawData.Expiration != p.Authorization.Expiration {
		return false, "transaction expiration does not match authorization", nil
	}

	to, amount, err := decodeTransferCall(value.Data)
	if err != nil {
		return false, "transaction calldata is not a TRC-20 transfer", nil
	}
	if !AddressesEqual(to, p.Authorization.To) {
		return false, "transfer recipient does not match authorization", nil
	}
	declared, ok := new(big.Int).SetString(p.Authorization.Amount, 10)
	if !ok || amount.Cmp(declared) != 0 {
		return false, "transfer amount does not match authorization", nil
	}
	return true, "", nil
}

// Broadcast submits the raw signed transaction.
func (n *HTTPNode) Broadcast(ctx context.Context, signedTx string) (string, error) {
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(signedTx), &body); err != nil {
		return "", fmt.Errorf("tron: signed transaction is not valid JSON: %w", err)
	}

	var out struct {
		Result  bool   `json:"result"`
		TxID    string `json:"txid"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := n.post(ctx, "/wallet/broadcasttransaction", body, &out); err != nil {
		return "", err
	}
	if !out.Result {
		msg := out.Message
		if decoded, err := hex.DecodeString(msg); err == nil {
			msg = string(decoded)
		}
		return "", fmt.Errorf("tron: broadcast rejected: %s %s", out.Code, msg)
	}
	if out.TxID != "" {
		return out.TxID, nil
	}
	var tx signedTransaction
	if err := json.Unmarshal([]byte(signedTx), &tx); err == nil && tx.TxID != "" {
		return tx.TxID, nil
	}
	return "", fmt.Errorf("tron: broadcast returned no transaction id")
}

// Confirmed checks the transaction receipt.
func (n *HTTPNode) Confirmed(ctx context.Context, txID string) (bool, error) {
	var out struct {
		ID      string `json:"id"`
		Receipt struct {
			Result string `json:"result"`
		} `json:"receipt"`
	}
	body := map[string]interface{}{"value": txID}
	if err := n.post(ctx, "/wallet/gettransactioninfobyid", body, &out); err != nil {
		return false, err
	}
	if out.ID == "" {
		return false, nil
	}
	if out.Receipt.Result != "" && out.Receipt.Result != "SUCCESS" {
		return false, fmt.Errorf("tron: transaction %s failed with %s", txID, out.Receipt.Result)
	}
	return true, nil
}

// decodeTransferCall parses transfer(address,uint256) calldata.
func decodeTransferCall(data string) (to string, amount *big.Int, err error) {
	raw := strings.TrimPrefix(strings.ToLower(data), "0x")
	if len(raw) != 8+64+64 || !strings.HasPrefix(raw, transferSelector) {
		return "", nil, fmt.Errorf("not a transfer call")
	}

	// The recipient is the last 20 bytes of the first argument, re-prefixed
	// with TRON's 0x41 network byte.
	to = "41" + raw[8+24:8+64]
	amount, ok := new(big.Int).SetString(raw[8+64:], 16)
	if !ok {
		return "", nil, fmt.Errorf("bad amount word")
	}
	return to, amount, nil
}
