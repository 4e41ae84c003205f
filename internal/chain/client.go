package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/cheth/backend/internal/config"
)

// Client talks JSON-RPC to the node hosting the ChessBetting escrow contract.
// Transactions are submitted from the node-managed operator account.
type Client struct {
	rpcURL       string
	contract     string
	operator     string
	httpClient   *http.Client
	receiptPoll  time.Duration
	receiptPolls int
}

// ErrReceiptTimeout is returned when a submitted transaction never lands a receipt.
var ErrReceiptTimeout = errors.New("transaction receipt not available")

// ErrTxReverted is returned for a mined transaction with failure status.
var ErrTxReverted = errors.New("transaction reverted")

// Function selectors and event topics, keccak-derived once at startup.
var (
	selCreateGame    = selector("createGame(uint256)")
	selEscrow        = selector("escrow(uint256)")
	selDeclareResult = selector("declareResult(uint256,address)")
	topicGameCreated = eventTopic("GameCreated(uint256,address,uint256)")
)

func NewClient(cfg *config.Config) *Client {
	return &Client{
		rpcURL:       cfg.ChainRPCURL,
		contract:     cfg.ContractAddress,
		operator:     cfg.OperatorAddress,
		httpClient:   &http.Client{Timeout: time.Duration(cfg.ChainTimeoutSeconds) * time.Second},
		receiptPoll:  time.Duration(cfg.ReceiptPollSeconds) * time.Second,
		receiptPolls: cfg.ReceiptMaxPolls,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type txReceipt struct {
	Status          string  `json:"status"`
	TransactionHash string  `json:"transactionHash"`
	Logs            []txLog `json:"logs"`
}

type txLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

func (c *Client) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc %s failed with status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// sendTransaction submits calldata to the contract and waits for the receipt.
func (c *Client) sendTransaction(ctx context.Context, data string) (*txReceipt, error) {
	params := map[string]string{
		"from": c.operator,
		"to":   c.contract,
		"data": data,
	}

	raw, err := c.call(ctx, "eth_sendTransaction", params)
	if err != nil {
		return nil, err
	}

	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return nil, fmt.Errorf("decode tx hash: %w", err)
	}

	for i := 0; i < c.receiptPolls; i++ {
		raw, err := c.call(ctx, "eth_getTransactionReceipt", txHash)
		if err != nil {
			return nil, err
		}
		if string(raw) != "null" {
			var receipt txReceipt
			if err := json.Unmarshal(raw, &receipt); err != nil {
				return nil, fmt.Errorf("decode receipt: %w", err)
			}
			if receipt.TransactionHash == "" {
				receipt.TransactionHash = txHash
			}
			if receipt.Status != "0x1" {
				return &receipt, fmt.Errorf("%w: tx %s", ErrTxReverted, txHash)
			}
			return &receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.receiptPoll):
		}
	}

	return nil, fmt.Errorf("%w: tx %s after %d polls", ErrReceiptTimeout, txHash, c.receiptPolls)
}

// CreateGame calls the contract's createGame and decodes the on-chain game id
// from the GameCreated event in the receipt.
func (c *Client) CreateGame(ctx context.Context, wagerWei *big.Int) (int64, string, error) {
	data := "0x" + selCreateGame + padUint(wagerWei)

	receipt, err := c.sendTransaction(ctx, data)
	if err != nil {
		return 0, "", err
	}

	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 || !strings.EqualFold(l.Topics[0], topicGameCreated) {
			continue
		}
		id, err := decodeGameID(l)
		if err != nil {
			return 0, "", err
		}
		log.Printf("[CHAIN] GameCreated: contract_game_id=%d tx=%s", id, receipt.TransactionHash)
		return id, receipt.TransactionHash, nil
	}

	return 0, "", fmt.Errorf("GameCreated event not found in receipt for tx %s", receipt.TransactionHash)
}

// Escrow reads the escrowed amount for an on-chain game via eth_call.
func (c *Client) Escrow(ctx context.Context, contractGameID int64) (*big.Int, error) {
	params := map[string]string{
		"to":   c.contract,
		"data": "0x" + selEscrow + padUint(big.NewInt(contractGameID)),
	}

	raw, err := c.call(ctx, "eth_call", params, "latest")
	if err != nil {
		return nil, err
	}

	var result string
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode eth_call result: %w", err)
	}

	result = strings.TrimPrefix(result, "0x")
	if result == "" {
		return nil, errors.New("empty escrow result")
	}

	amount, ok := new(big.Int).SetString(result, 16)
	if !ok {
		return nil, fmt.Errorf("invalid escrow result %q", result)
	}
	return amount, nil
}

// DeclareResult settles the escrow to the winner's address.
func (c *Client) DeclareResult(ctx context.Context, contractGameID int64, winnerAddress string) (string, error) {
	addr, err := padAddress(winnerAddress)
	if err != nil {
		return "", err
	}
	data := "0x" + selDeclareResult + padUint(big.NewInt(contractGameID)) + addr

	receipt, err := c.sendTransaction(ctx, data)
	if err != nil {
		return "", err
	}

	log.Printf("[CHAIN] declareResult confirmed: contract_game_id=%d winner=%s tx=%s",
		contractGameID, winnerAddress, receipt.TransactionHash)
	return receipt.TransactionHash, nil
}

// decodeGameID extracts the uint256 game id: indexed ids land in topics[1],
// otherwise the first word of the log data.
func decodeGameID(l txLog) (int64, error) {
	var word string
	if len(l.Topics) > 1 {
		word = strings.TrimPrefix(l.Topics[1], "0x")
	} else {
		data := strings.TrimPrefix(l.Data, "0x")
		if len(data) < 64 {
			return 0, fmt.Errorf("GameCreated log data too short: %q", l.Data)
		}
		word = data[:64]
	}

	id, ok := new(big.Int).SetString(word, 16)
	if !ok {
		return 0, fmt.Errorf("invalid game id word %q", word)
	}
	return id.Int64(), nil
}

func selector(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return hex.EncodeToString(h.Sum(nil)[:4])
}

func eventTopic(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// padUint ABI-encodes an unsigned integer as a 32-byte word.
func padUint(v *big.Int) string {
	return fmt.Sprintf("%064x", v)
}

// padAddress ABI-encodes a hex address as a 32-byte word.
func padAddress(address string) (string, error) {
	addr := strings.TrimPrefix(strings.ToLower(address), "0x")
	if len(addr) != 40 {
		return "", fmt.Errorf("invalid address %q", address)
	}
	if _, err := hex.DecodeString(addr); err != nil {
		return "", fmt.Errorf("invalid address %q: %w", address, err)
	}
	return strings.Repeat("0", 24) + addr, nil
}

var weiPerEther = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// EtherToWei converts a wager amount in ether to wei.
func EtherToWei(amount float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(amount), weiPerEther).Int(nil)
	return wei
}

// WeiToEther converts a wei amount to ether for bookkeeping.
func WeiToEther(wei *big.Int) float64 {
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther).Float64()
	return out
}
