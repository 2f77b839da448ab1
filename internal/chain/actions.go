package chain

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "XOS-Runner/internal/errors"
	"XOS-Runner/pkg/logger"
)

const (
	registrationDuration = 31536000
	poolFee              = 500
)

var (
	registrationFee        = ParseEther("0.05")
	registrationMinBalance = ParseEther("0.1")
	swapMinBalance         = ParseEther("0.0001")
	swapGasReserve         = ParseEther("0.015")
)

// SwapPlan controls RunSwaps. Targets are token symbols, or "wrap" and
// "unwrap" for WXOS deposits and withdrawals.
type SwapPlan struct {
	Targets      []string
	CountRange   [2]int
	PercentRange [2]float64
	DelayRange   [2]time.Duration
}

// Operator performs the optional on-chain steps of a session.
type Operator struct {
	client   *Client
	explorer string
	intn     func(n int) int
	float    func() float64
}

// NewOperator creates an operator. explorer prefixes transaction hashes in logs.
func NewOperator(client *Client, explorer string) *Operator {
	return &Operator{client: client, explorer: explorer, intn: rand.IntN, float: rand.Float64}
}

// WithSessionLogger returns a copy of the operator that logs through l and
// shares the same backend.
func (o *Operator) WithSessionLogger(l *slog.Logger) *Operator {
	if l == nil {
		return o
	}
	client := *o.client
	client.logger = l
	cp := *o
	cp.client = &client
	return &cp
}

// Balances delegates to the client.
func (o *Operator) Balances(ctx context.Context, owner string) []Balance {
	return o.client.Balances(ctx, common.HexToAddress(owner))
}

// RandomDomain returns an 8 to 12 character name starting with a letter.
func (o *Operator) RandomDomain() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	const chars = letters + "0123456789"
	n := 8 + o.intn(5)
	var b strings.Builder
	b.WriteByte(letters[o.intn(len(letters))])
	for i := 1; i < n; i++ {
		b.WriteByte(chars[o.intn(len(chars))])
	}
	return b.String()
}

// RegisterIdentity registers a random .xos name for the wallet.
func (o *Operator) RegisterIdentity(ctx context.Context, key *ecdsa.PrivateKey) error {
	owner := crypto.PubkeyToAddress(key.PublicKey)
	balance, err := o.client.NativeBalance(ctx, owner)
	if err != nil {
		return err
	}
	if balance.Cmp(registrationMinBalance) < 0 {
		return xerrors.New(xerrors.CodeOnchainFailure,
			fmt.Sprintf("余额不足，注册至少需要 0.1 XOS，当前 %s XOS", FormatUnits(balance, 18)))
	}

	defs := o.client.Definitions().Contracts
	domain := o.RandomDomain()
	data, err := registrar.Pack("registerWithConfig",
		domain,
		owner,
		big.NewInt(registrationDuration),
		common.HexToAddress(defs.Resolver),
		owner,
		true,
		common.Address{},
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeOnchainFailure, err, "编码注册调用失败")
	}

	o.client.logger.Info("注册域名", slog.String("domain", domain+".xos"))
	receipt, err := o.client.send(ctx, key, txRequest{
		to:          common.HexToAddress(defs.DIDRegistrar),
		value:       registrationFee,
		data:        data,
		fallbackGas: 300000,
	})
	if err != nil {
		return err
	}
	logger.Success(o.client.logger, "域名注册成功",
		slog.String("domain", domain+".xos"),
		slog.String("tx", o.explorer+receipt.TxHash.Hex()))
	return nil
}

// RunSwaps executes plan. A failed swap is logged and the next one is tried;
// running out of XOS ends the whole plan.
func (o *Operator) RunSwaps(ctx context.Context, key *ecdsa.PrivateKey, plan SwapPlan) error {
	for _, target := range plan.Targets {
		count := o.between(plan.CountRange[0], plan.CountRange[1])
		if count <= 0 {
			continue
		}
		var err error
		switch strings.ToLower(target) {
		case "wrap":
			err = o.wrap(ctx, key, count, plan)
		case "unwrap":
			err = o.unwrap(ctx, key, count, plan)
		default:
			err = o.swap(ctx, key, target, count, plan)
		}
		if err != nil {
			if xerrors.CodeOf(err) == xerrors.CodeInvalidArgument || ctx.Err() != nil {
				return err
			}
			o.client.logger.Warn("链上操作中止", slog.String("target", target), slog.Any("error", err))
			if stdErrors.Is(err, errInsufficient) {
				return nil
			}
		}
	}
	return nil
}

var errInsufficient = xerrors.New(xerrors.CodeOnchainFailure, "XOS 余额不足")

func (o *Operator) swap(ctx context.Context, key *ecdsa.PrivateKey, symbol string, count int, plan SwapPlan) error {
	defs := o.client.Definitions()
	tokenOut, ok := defs.Token(symbol)
	if !ok || strings.EqualFold(symbol, "WXOS") {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的兑换目标: %s", symbol))
	}
	usdc, _ := defs.Token("USDC")
	owner := crypto.PubkeyToAddress(key.PublicKey)
	wxosAddr := common.HexToAddress(defs.Contracts.WXOS)
	routerAddr := common.HexToAddress(defs.Contracts.Router)
	direct := strings.EqualFold(symbol, "USDC")

	for i := 1; i <= count; i++ {
		if err := o.client.sleep(ctx, o.delay(plan.DelayRange)); err != nil {
			return err
		}
		balance, err := o.client.NativeBalance(ctx, owner)
		if err != nil {
			o.client.logger.Warn("查询余额失败", slog.Any("error", err))
			continue
		}
		if balance.Cmp(swapMinBalance) < 0 {
			return errInsufficient
		}
		amount := PercentOf(balance, o.percent(plan.PercentRange))
		if amount.Sign() == 0 {
			continue
		}
		if need := new(big.Int).Add(amount, swapGasReserve); balance.Cmp(need) < 0 {
			o.client.logger.Warn("余额不足以支付兑换和 gas",
				slog.String("need", FormatUnits(need, 18)),
				slog.String("have", FormatUnits(balance, 18)))
			continue
		}

		if err := o.ensureAllowance(ctx, key, wxosAddr, routerAddr, amount); err != nil {
			o.client.logger.Warn("授权失败", slog.Any("error", err))
			continue
		}

		var call []byte
		if direct {
			call, err = encodeExactInputSingle(wxosAddr, common.HexToAddress(tokenOut.Address), owner, amount)
		} else {
			call, err = encodeExactInput(
				encodePath(wxosAddr, common.HexToAddress(usdc.Address), common.HexToAddress(tokenOut.Address)),
				owner, amount)
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeOnchainFailure, err, "编码兑换调用失败")
		}
		data, err := router.Pack("multicall", [][]byte{call})
		if err != nil {
			return xerrors.Wrap(xerrors.CodeOnchainFailure, err, "编码 multicall 失败")
		}

		fallback := uint64(300000)
		if direct {
			fallback = 200000
		}
		o.client.logger.Info("兑换",
			slog.String("amount", FormatUnits(amount, 18)),
			slog.String("to", tokenOut.Symbol),
			slog.String("progress", fmt.Sprintf("%d/%d", i, count)))
		receipt, err := o.client.send(ctx, key, txRequest{to: routerAddr, value: amount, data: data, fallbackGas: fallback})
		if err != nil {
			o.client.logger.Warn("兑换失败", slog.Any("error", err))
			continue
		}
		logger.Success(o.client.logger, "兑换成功", slog.String("tx", o.explorer+receipt.TxHash.Hex()))
	}
	return nil
}

func (o *Operator) ensureAllowance(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) error {
	owner := crypto.PubkeyToAddress(key.PublicKey)
	allowance, err := o.client.Allowance(ctx, token, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	data, err := erc20.Pack("approve", spender, amount)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeOnchainFailure, err, "编码 approve 失败")
	}
	_, err = o.client.send(ctx, key, txRequest{to: token, data: data, fallbackGas: 100000})
	return err
}

func (o *Operator) wrap(ctx context.Context, key *ecdsa.PrivateKey, count int, plan SwapPlan) error {
	owner := crypto.PubkeyToAddress(key.PublicKey)
	wxosAddr := common.HexToAddress(o.client.Definitions().Contracts.WXOS)
	for i := 1; i <= count; i++ {
		balance, err := o.client.NativeBalance(ctx, owner)
		if err != nil {
			return err
		}
		if balance.Cmp(swapMinBalance) < 0 {
			return errInsufficient
		}
		amount := PercentOf(balance, o.percent(plan.PercentRange))
		if amount.Sign() == 0 {
			continue
		}
		data, _ := wxos.Pack("deposit")
		receipt, err := o.client.send(ctx, key, txRequest{to: wxosAddr, value: amount, data: data, fallbackGas: 100000})
		if err != nil {
			return err
		}
		logger.Success(o.client.logger, "包装成功",
			slog.String("progress", fmt.Sprintf("%d/%d", i, count)),
			slog.String("tx", o.explorer+receipt.TxHash.Hex()))
	}
	return nil
}

func (o *Operator) unwrap(ctx context.Context, key *ecdsa.PrivateKey, count int, plan SwapPlan) error {
	owner := crypto.PubkeyToAddress(key.PublicKey)
	wxosAddr := common.HexToAddress(o.client.Definitions().Contracts.WXOS)
	for i := 1; i <= count; i++ {
		balance, err := o.client.TokenBalance(ctx, wxosAddr, owner)
		if err != nil {
			return err
		}
		if balance.Cmp(swapMinBalance) < 0 {
			return xerrors.New(xerrors.CodeOnchainFailure, "WXOS 余额不足")
		}
		amount := PercentOf(balance, o.percent(plan.PercentRange))
		if amount.Sign() == 0 {
			continue
		}
		data, err := wxos.Pack("withdraw", amount)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeOnchainFailure, err, "编码 withdraw 失败")
		}
		receipt, err := o.client.send(ctx, key, txRequest{to: wxosAddr, data: data, fallbackGas: 100000})
		if err != nil {
			return err
		}
		logger.Success(o.client.logger, "解包成功",
			slog.String("progress", fmt.Sprintf("%d/%d", i, count)),
			slog.String("tx", o.explorer+receipt.TxHash.Hex()))
	}
	return nil
}

func (o *Operator) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + o.intn(hi-lo+1)
}

func (o *Operator) percent(r [2]float64) float64 {
	if r[1] <= r[0] {
		return r[0]
	}
	return r[0] + o.float()*(r[1]-r[0])
}

func (o *Operator) delay(r [2]time.Duration) time.Duration {
	if r[1] <= r[0] {
		return r[0]
	}
	return r[0] + time.Duration(o.intn(int(r[1]-r[0])+1))
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

type exactInputParams struct {
	Path             []byte
	Recipient        common.Address
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

// encodeExactInputSingle orders the pool tokens by address, as the router
// pair is keyed by the lower address.
func encodeExactInputSingle(wxosAddr, tokenOut, recipient common.Address, amount *big.Int) ([]byte, error) {
	in, out := wxosAddr, tokenOut
	if bytes.Compare(wxosAddr.Bytes(), tokenOut.Bytes()) > 0 {
		in, out = tokenOut, wxosAddr
	}
	return router.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           in,
		TokenOut:          out,
		Fee:               big.NewInt(poolFee),
		Recipient:         recipient,
		AmountIn:          amount,
		AmountOutMinimum:  new(big.Int),
		SqrtPriceLimitX96: new(big.Int),
	})
}

func encodeExactInput(path []byte, recipient common.Address, amount *big.Int) ([]byte, error) {
	return router.Pack("exactInput", exactInputParams{
		Path:             path,
		Recipient:        recipient,
		AmountIn:         amount,
		AmountOutMinimum: new(big.Int),
	})
}

// encodePath packs token addresses with a fee tier between each hop.
func encodePath(tokens ...common.Address) []byte {
	out := make([]byte, 0, len(tokens)*23)
	fee := uint32(poolFee)
	for i, tok := range tokens {
		if i > 0 {
			out = append(out, byte(fee>>16), byte(fee>>8), byte(fee))
		}
		out = append(out, tok.Bytes()...)
	}
	return out
}
