package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client reads chain state during verification. Implementations must bound
// their calls with the caller's context; balance lookups are best-effort.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner string) (*big.Int, error)
	AuthorizationUsed(ctx context.Context, token, authorizer string, nonce [32]byte) (bool, error)
	PermitNonce(ctx context.Context, token, owner string) (*big.Int, error)
	Simulate(ctx context.Context, from, to string, data []byte) error
}

// Signer broadcasts facilitator-signed transactions and awaits inclusion.
type Signer interface {
	Address() string
	SendTransaction(ctx context.Context, to string, data []byte) (string, error)
	WaitMined(ctx context.Context, txHash string) error
}

const erc20ABI = `
[
  {
    "name": "balanceOf",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{ "name": "account", "type": "address" }],
    "outputs": [{ "name": "", "type": "uint256" }]
  },
  {
    "name": "authorizationState",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      { "name": "authorizer", "type": "address" },
      { "name": "nonce", "type": "bytes32" }
    ],
    "outputs": [{ "name": "", "type": "bool" }]
  },
  {
    "name": "nonces",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{ "name": "owner", "type": "address" }],
    "outputs": [{ "name": "", "type": "uint256" }]
  },
  {
    "name": "transferWithAuthorization",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "from", "type": "address" },
      { "name": "to", "type": "address" },
      { "name": "value", "type": "uint256" },
      { "name": "validAfter", "type": "uint256" },
      { "name": "validBefore", "type": "uint256" },
      { "name": "nonce", "type": "bytes32" },
      { "name": "v", "type": "uint8" },
      { "name": "r", "type": "bytes32" },
      { "name": "s", "type": "bytes32" }
    ],
    "outputs": []
  }
]
`

const routerABI = `
[
  {
    "name": "executeUptoTransfer",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "token", "type": "address" },
      { "name": "from", "type": "address" },
      { "name": "to", "type": "address" },
      { "name": "maxAmount", "type": "uint256" },
      { "name": "settleAmount", "type": "uint256" },
      { "name": "deadline", "type": "uint256" },
      { "name": "v", "type": "uint8" },
      { "name": "r", "type": "bytes32" },
      { "name": "s", "type": "bytes32" }
    ],
    "outputs": []
  }
]
`

var (
	parsedERC20ABI  abi.ABI
	parsedRouterABI abi.ABI
)

func init() {
	var err error
	parsedERC20ABI, err = abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(fmt.Sprintf("evm: bad erc20 abi: %v", err))
	}
	parsedRouterABI, err = abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		panic(fmt.Sprintf("evm: bad router abi: %v", err))
	}
}

// RPCClient implements Client and Signer over a JSON-RPC endpoint.
type RPCClient struct {
	client *ethclient.Client
	key    *ecdsa.PrivateKey
	from   common.Address
}

// NewRPCClient dials an endpoint. The private key is optional; without it
// the client can verify but not settle.
func NewRPCClient(rpcURL, privateKeyHex string) (*RPCClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}

	c := &RPCClient{client: client}
	if privateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("evm: invalid private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *RPCClient) Close() {
	c.client.Close()
}

func (c *RPCClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.client.ChainID(ctx)
}

func (c *RPCClient) TokenBalance(ctx context.Context, token, owner string) (*big.Int, error) {
	out, err := c.call(ctx, token, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	if err := parsedERC20ABI.UnpackIntoInterface(&balance, "balanceOf", out); err != nil {
		return nil, fmt.Errorf("evm: unpack balanceOf: %w", err)
	}
	return balance, nil
}

func (c *RPCClient) AuthorizationUsed(ctx context.Context, token, authorizer string, nonce [32]byte) (bool, error) {
	out, err := c.call(ctx, token, "authorizationState", common.HexToAddress(authorizer), nonce)
	if err != nil {
		return false, err
	}
	var used bool
	if err := parsedERC20ABI.UnpackIntoInterface(&used, "authorizationState", out); err != nil {
		return false, fmt.Errorf("evm: unpack authorizationState: %w", err)
	}
	return used, nil
}

func (c *RPCClient) PermitNonce(ctx context.Context, token, owner string) (*big.Int, error) {
	out, err := c.call(ctx, token, "nonces", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	var nonce *big.Int
	if err := parsedERC20ABI.UnpackIntoInterface(&nonce, "nonces", out); err != nil {
		return nil, fmt.Errorf("evm: unpack nonces: %w", err)
	}
	return nonce, nil
}

func (c *RPCClient) Simulate(ctx context.Context, from, to string, data []byte) error {
	contract := common.HexToAddress(to)
	msg := ethereum.CallMsg{
		From: common.HexToAddress(from),
		To:   &contract,
		Data: data,
	}
	if _, err := c.client.CallContract(ctx, msg, nil); err != nil {
		return fmt.Errorf("evm: simulation reverted: %w", err)
	}
	return nil
}

func (c *RPCClient) call(ctx context.Context, contract, method string, args ...interface{}) ([]byte, error) {
	data, err := parsedERC20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	to := common.HexToAddress(contract)
	return c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// Address returns the facilitator's signing address.
func (c *RPCClient) Address() string {
	return c.from.Hex()
}

// SendTransaction builds, signs and broadcasts a transaction from the
// facilitator key and returns its hash.
func (c *RPCClient) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("evm: no signing key configured")
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("evm: chain id: %w", err)
	}
	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("evm: pending nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("evm: gas price: %w", err)
	}

	contract := common.HexToAddress(to)
	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &contract,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("evm: gas estimate: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("evm: sign tx: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("evm: broadcast: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// WaitMined polls for the transaction receipt until the context expires and
// returns an error unless the transaction succeeded.
func (c *RPCClient) WaitMined(ctx context.Context, txHash string) error {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("evm: transaction %s reverted", txHash)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("evm: confirmation wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// PackTransferWithAuthorization builds the calldata settling an exact
// payment through EIP-3009.
func PackTransferWithAuthorization(auth ExactAuthorization, v uint8, r, s [32]byte) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid value %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(defaultZero(auth.ValidAfter), 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore %q", auth.ValidBefore)
	}
	nonce, err := HexToBytes32(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}

	return parsedERC20ABI.Pack(
		"transferWithAuthorization",
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		value,
		validAfter,
		validBefore,
		nonce,
		v,
		r,
		s,
	)
}

// PackExecuteUptoTransfer builds the router calldata settling an upto
// payment: permit, then a settle-amount-bounded transferFrom.
func PackExecuteUptoTransfer(token, from, to string, maxAmount, settleAmount, deadline *big.Int, v uint8, r, s [32]byte) ([]byte, error) {
	return parsedRouterABI.Pack(
		"executeUptoTransfer",
		common.HexToAddress(token),
		common.HexToAddress(from),
		common.HexToAddress(to),
		maxAmount,
		settleAmount,
		deadline,
		v,
		r,
		s,
	)
}
