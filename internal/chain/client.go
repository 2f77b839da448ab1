package chain

import (
	"context"
	"crypto/ecdsa"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"XOS-Runner/internal/clock"
	xerrors "XOS-Runner/internal/errors"
	"XOS-Runner/pkg/logger"
)

// Backend is the subset of *ethclient.Client the package uses.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial connects to rpcURL, through proxyURL when set. Dialing is attempted
// up to attempts times.
func Dial(ctx context.Context, rpcURL, proxyURL string, attempts int, sleep clock.SleepFunc) (*ethclient.Client, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置 RPC 地址")
	}
	if attempts <= 0 {
		attempts = 1
	}
	if sleep == nil {
		sleep = clock.Sleep
	}

	var opts []gethrpc.ClientOption
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "代理地址无效")
		}
		httpClient := &http.Client{
			Timeout:   60 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyURL(u)},
		}
		opts = append(opts, gethrpc.WithHTTPClient(httpClient))
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		rpcClient, err := gethrpc.DialOptions(ctx, rpcURL, opts...)
		if err == nil {
			eth := ethclient.NewClient(rpcClient)
			if _, err = eth.ChainID(ctx); err == nil {
				return eth, nil
			}
			eth.Close()
		}
		lastErr = err
		logger.L().Warn("连接 RPC 失败",
			slog.Int("attempt", i),
			slog.Int("attempts", attempts),
			slog.Any("error", err))
		if i < attempts {
			if err := sleep(ctx, time.Second); err != nil {
				return nil, err
			}
		}
	}
	return nil, xerrors.Wrap(xerrors.CodeTransientNetwork, lastErr, "无法连接 RPC")
}

// Client reads balances and sends transactions for one wallet.
type Client struct {
	backend Backend
	chainID *big.Int
	defs    Definitions
	sleep   clock.SleepFunc
	logger  *slog.Logger

	receiptPoll    time.Duration
	receiptTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithSleep replaces the wait function used for pacing and receipt polling.
func WithSleep(sleep clock.SleepFunc) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReceiptTimeout bounds how long a transaction is awaited.
func WithReceiptTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.receiptTimeout = d
		}
	}
}

// NewClient wraps backend.
func NewClient(backend Backend, chainID int64, defs Definitions, opts ...Option) *Client {
	c := &Client{
		backend:        backend,
		chainID:        big.NewInt(chainID),
		defs:           defs,
		sleep:          clock.Sleep,
		logger:         logger.L(),
		receiptPoll:    2 * time.Second,
		receiptTimeout: 3 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Definitions returns the contract and token addresses in use.
func (c *Client) Definitions() Definitions {
	return c.defs
}

// NativeBalance returns the XOS balance in wei.
func (c *Client) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOnchainFailure, err, "查询余额失败")
	}
	return bal, nil
}

// TokenBalance returns balanceOf(owner) on token.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "balanceOf", owner)
}

// Allowance returns allowance(owner, spender) on token.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "allowance", owner, spender)
}

func (c *Client) callUint(ctx context.Context, token common.Address, method string, args ...any) (*big.Int, error) {
	data, err := erc20.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOnchainFailure, err, "编码 "+method+" 失败")
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOnchainFailure, err, method+" 调用失败")
	}
	values, err := erc20.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return nil, xerrors.Wrap(xerrors.CodeOnchainFailure, err, method+" 返回值无效")
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeOnchainFailure, method+" 返回值类型错误")
	}
	return v, nil
}

// Balance is one formatted balance line.
type Balance struct {
	Symbol string
	Amount string
}

// Balances reads the native balance and every configured token. A failed
// read shows as "0" and is logged.
func (c *Client) Balances(ctx context.Context, owner common.Address) []Balance {
	out := make([]Balance, 0, len(c.defs.Tokens)+1)
	native, err := c.NativeBalance(ctx, owner)
	if err != nil {
		c.logger.Warn("查询 XOS 余额失败", slog.Any("error", err))
		out = append(out, Balance{Symbol: "XOS", Amount: "0"})
	} else {
		out = append(out, Balance{Symbol: "XOS", Amount: FormatUnits(native, 18)})
	}
	for _, tok := range c.defs.Tokens {
		bal, err := c.TokenBalance(ctx, common.HexToAddress(tok.Address), owner)
		if err != nil {
			c.logger.Warn("查询代币余额失败", slog.String("token", tok.Symbol), slog.Any("error", err))
			out = append(out, Balance{Symbol: tok.Symbol, Amount: "0"})
			continue
		}
		out = append(out, Balance{Symbol: tok.Symbol, Amount: FormatUnits(bal, tok.Decimals)})
	}
	return out
}

// txRequest describes one contract call to sign and send.
type txRequest struct {
	to          common.Address
	value       *big.Int
	data        []byte
	fallbackGas uint64
}

// send signs and broadcasts req with an EIP-1559 fee, then waits for the
// receipt. The gas estimate is raised by 20%; when estimation fails the
// fallback gas is used.
func (c *Client) send(ctx context.Context, key *ecdsa.PrivateKey, req txRequest) (*types.Receipt, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	value := req.value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOnchainFailure, err, "获取 nonce 失败")
	}
	tipCap, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOnchainFailure, err, "获取小费失败")
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOnchainFailure, err, "获取最新区块失败")
	}
	feeCap := new(big.Int).Set(tipCap)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &req.to, Value: value, Data: req.data})
	if err != nil {
		if req.fallbackGas == 0 {
			return nil, xerrors.Wrap(xerrors.CodeOnchainFailure, err, "估算 gas 失败")
		}
		c.logger.Warn("估算 gas 失败，使用默认值", slog.Uint64("gas", req.fallbackGas), slog.Any("error", err))
		gas = req.fallbackGas
	} else {
		gas = gas * 12 / 10
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &req.to,
		Value:     value,
		Data:      req.data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOnchainFailure, err, "签名交易失败")
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOnchainFailure, err, "发送交易失败")
	}
	c.logger.Info("交易已发送", slog.String("tx", signed.Hash().Hex()))
	return c.waitReceipt(ctx, signed.Hash())
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, xerrors.New(xerrors.CodeOnchainFailure, fmt.Sprintf("交易 %s 执行失败", hash.Hex()))
			}
			return receipt, nil
		}
		if err != nil && !stdErrors.Is(err, ethereum.NotFound) {
			c.logger.Debug("查询回执失败", slog.Any("error", err))
		}
		if err := c.sleep(ctx, c.receiptPoll); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("等待交易 %s 回执超时", hash.Hex()),
				xerrors.WithScope(xerrors.ScopeRequest))
		}
	}
}
