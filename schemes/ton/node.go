package ton

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

// Node is the chain access the TON adapter needs.
type Node interface {
	// JettonBalance returns the owner's balance of the given jetton.
	JettonBalance(ctx context.Context, owner, jettonMaster string) (*big.Int, error)

	// IsDeployed reports whether the wallet contract exists on chain. An
	// undeployed wallet cannot send jettons.
	IsDeployed(ctx context.Context, address string) (bool, error)

	// Seqno returns the wallet's current sequence number.
	Seqno(ctx context.Context, address string) (int64, error)

	// CheckMessage confirms the signed BOC carries the declared transfer:
	// same wallet, seqno, validity, recipient and amount. Returns a reason
	// string when it does not.
	CheckMessage(ctx context.Context, p *ExactPayload) (ok bool, reason string, err error)

	// SendMessage submits the signed external message and returns its hash.
	SendMessage(ctx context.Context, signedBoc string) (string, error)
}

// HTTPNode talks to a toncenter-compatible HTTP API.
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

type rpcResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (n *HTTPNode) call(ctx context.Context, method string, params map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"id":      "1",
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("ton: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+"/api/v2/jsonRPC", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ton: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("X-API-Key", n.apiKey)
	}

	res, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("ton: %s: %w", method, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("ton: %s returned %d", method, res.StatusCode)
	}

	var rpc rpcResponse
	if err := json.NewDecoder(res.Body).Decode(&rpc); err != nil {
		return fmt.Errorf("ton: decode %s response: %w", method, err)
	}
	if !rpc.OK {
		return fmt.Errorf("ton: %s failed: %s", method, rpc.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rpc.Result, out); err != nil {
			return fmt.Errorf("ton: decode %s result: %w", method, err)
		}
	}
	return nil
}

type getMethodResult struct {
	ExitCode int             `json:"exit_code"`
	Stack    [][]interface{} `json:"stack"`
}

func (n *HTTPNode) runGetMethod(ctx context.Context, address, method string, stack [][]interface{}) (*getMethodResult, error) {
	if stack == nil {
		stack = [][]interface{}{}
	}
	var out getMethodResult
	err := n.call(ctx, "runGetMethod", map[string]interface{}{
		"address": address,
		"method":  method,
		"stack":   stack,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		return nil, fmt.Errorf("ton: %s on %s exited with %d", method, address, out.ExitCode)
	}
	return &out, nil
}

func stackNum(res *getMethodResult, idx int) (*big.Int, error) {
	if idx >= len(res.Stack) || len(res.Stack[idx]) < 2 {
		return nil, fmt.Errorf("ton: stack entry %d missing", idx)
	}
	s, ok := res.Stack[idx][1].(string)
	if !ok {
		return nil, fmt.Errorf("ton: stack entry %d is not a number", idx)
	}
	num, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("ton: stack entry %d is not hex: %q", idx, s)
	}
	return num, nil
}

// JettonBalance resolves the owner's jetton wallet and reads its balance.
func (n *HTTPNode) JettonBalance(ctx context.Context, owner, jettonMaster string) (*big.Int, error) {
	wallet, err := n.jettonWalletAddress(ctx, owner, jettonMaster)
	if err != nil {
		return nil, err
	}

	deployed, err := n.IsDeployed(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if !deployed {
		// A wallet that was never funded has no contract and zero balance.
		return big.NewInt(0), nil
	}

	res, err := n.runGetMethod(ctx, wallet, "get_wallet_data", nil)
	if err != nil {
		return nil, err
	}
	return stackNum(res, 0)
}

func (n *HTTPNode) jettonWalletAddress(ctx context.Context, owner, jettonMaster string) (string, error) {
	var packed struct {
		Address string `json:"b64"`
	}
	if err := n.call(ctx, "packAddress", map[string]interface{}{"address": owner}, &packed.Address); err != nil {
		return "", err
	}

	res, err := n.runGetMethod(ctx, jettonMaster, "get_wallet_address", [][]interface{}{
		{"tvm.Slice", packed.Address},
	})
	if err != nil {
		return "", err
	}
	if len(res.Stack) == 0 || len(res.Stack[0]) < 2 {
		return "", fmt.Errorf("ton: get_wallet_address returned no address")
	}
	cell, ok := res.Stack[0][1].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("ton: unexpected get_wallet_address stack shape")
	}
	addr, _ := cell["address"].(string)
	if addr == "" {
		return "", fmt.Errorf("ton: get_wallet_address returned no address")
	}
	return addr, nil
}

// IsDeployed checks the account state.
func (n *HTTPNode) IsDeployed(ctx context.Context, address string) (bool, error) {
	var out struct {
		State string `json:"state"`
	}
	if err := n.call(ctx, "getAddressInformation", map[string]interface{}{"address": address}, &out); err != nil {
		return false, err
	}
	return out.State == "active", nil
}

// Seqno reads the wallet's sequence number. An undeployed wallet is at 0.
func (n *HTTPNode) Seqno(ctx context.Context, address string) (int64, error) {
	deployed, err := n.IsDeployed(ctx, address)
	if err != nil {
		return 0, err
	}
	if !deployed {
		return 0, nil
	}

	res, err := n.runGetMethod(ctx, address, "seqno", nil)
	if err != nil {
		return 0, err
	}
	num, err := stackNum(res, 0)
	if err != nil {
		return 0, err
	}
	return num.Int64(), nil
}

// CheckMessage parses the signed external message and binds every transfer
// field inside it to the declared authorization. The message is what the
// chain executes, so an authorization that disagrees with it describes a
// different payment than the one being made.
func (n *HTTPNode) CheckMessage(ctx context.Context, p *ExactPayload) (bool, string, error) {
	raw, err := base64.StdEncoding.DecodeString(p.SignedBoc)
	if err != nil {
		return false, "signedBoc is not valid base64", nil
	}
	msg, err := parseExternalMessage(raw)
	if err != nil {
		return false, err.Error(), nil
	}

	from, err := parseTonAddress(p.Authorization.From)
	if err != nil {
		return false, "authorization sender address is not parseable", nil
	}
	if !msg.wallet.equal(from) {
		return false, "message is not addressed to the declared sender wallet", nil
	}
	if msg.seqno != p.Authorization.Seqno {
		return false, "message seqno does not match authorization", nil
	}
	if msg.validUntil != p.Authorization.ValidUntil {
		return false, "message validity window does not match authorization", nil
	}

	to, err := parseTonAddress(p.Authorization.To)
	if err != nil {
		return false, "authorization recipient address is not parseable", nil
	}
	if !msg.recipient.equal(to) {
		return false, "jetton recipient does not match authorization", nil
	}

	declared, ok := new(big.Int).SetString(p.Authorization.JettonAmount, 10)
	if !ok || msg.amount.Cmp(declared) != 0 {
		return false, "jetton amount does not match authorization", nil
	}

	// The internal message must target the sender's wallet for the declared
	// jetton master. Resolving that wallet is a chain read; a transport
	// failure skips the check rather than rejecting a valid payment.
	if wallet, err := n.jettonWalletAddress(ctx, p.Authorization.From, p.Authorization.JettonMaster); err == nil {
		if expected, err := parseTonAddress(wallet); err == nil && !msg.jettonWallet.equal(expected) {
			return false, "message does not target the sender's jetton wallet", nil
		}
	}
	return true, "", nil
}

// SendMessage submits the external message.
func (n *HTTPNode) SendMessage(ctx context.Context, signedBoc string) (string, error) {
	var out struct {
		Hash string `json:"hash"`
	}
	if err := n.call(ctx, "sendBocReturnHash", map[string]interface{}{"boc": signedBoc}, &out); err != nil {
		return "", err
	}
	if out.Hash == "" {
		return "", fmt.Errorf("ton: sendBoc returned no message hash")
	}
	return out.Hash, nil
}
