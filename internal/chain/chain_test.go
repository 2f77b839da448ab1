package chain

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"XOS-Runner/internal/clock"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeBackend struct {
	mu          sync.Mutex
	balance     *big.Int
	tokenValue  *big.Int
	allowance   *big.Int
	callErr     map[common.Address]error
	estimate    uint64
	estimateErr error
	sent        []*types.Transaction
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := f.callErr[*msg.To]; err != nil {
		return nil, err
	}
	v := f.tokenValue
	if bytes.Equal(msg.Data[:4], erc20.Methods["allowance"].ID) {
		v = f.allowance
	}
	if v == nil {
		v = new(big.Int)
	}
	return common.LeftPadBytes(v.Bytes(), 32), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estimateErr
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(2_000_000_000)}, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}, nil
}

func newTestOperator(t *testing.T, backend *fakeBackend) (*Operator, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.HexToECDSA(testKey)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	client := NewClient(backend, 1267, DefaultDefinitions(), WithSleep(clock.NoSleep))
	op := NewOperator(client, "https://explorer/tx/")
	op.intn = func(int) int { return 0 }
	op.float = func() float64 { return 0 }
	return op, key
}

func TestUnits(t *testing.T) {
	oneAndHalf := new(big.Int).Mul(big.NewInt(15), big.NewInt(100_000_000_000_000_000))
	if got := FormatUnits(oneAndHalf, 18); got != "1.5000" {
		t.Fatalf("FormatUnits = %q", got)
	}
	if got := FormatUnits(big.NewInt(1_234_567), 6); got != "1.2346" {
		t.Fatalf("FormatUnits 6 decimals = %q", got)
	}
	if got := ParseEther("0.05"); got.String() != "50000000000000000" {
		t.Fatalf("ParseEther = %s", got)
	}
	got := PercentOf(ParseEther("1"), 2.5)
	if got.String() != "25000000000000000" {
		t.Fatalf("PercentOf = %s", got)
	}
	if got := PercentOf(ParseEther("0.001"), 1); got.Sign() != 0 {
		t.Fatalf("amounts below 0.0001 should truncate to zero, got %s", got)
	}
}

func TestBalancesFallsBackToZero(t *testing.T) {
	bnb := common.HexToAddress("0x83dfbe02dc1b1db11bc13a8fc7fd011e2dbbd7c0")
	backend := &fakeBackend{
		balance:    ParseEther("2"),
		tokenValue: ParseEther("0.5"),
		callErr:    map[common.Address]error{bnb: errors.New("execution reverted")},
	}
	op, key := newTestOperator(t, backend)

	balances := op.Balances(context.Background(), crypto.PubkeyToAddress(key.PublicKey).Hex())
	if len(balances) != 6 {
		t.Fatalf("expected XOS plus 5 tokens, got %d", len(balances))
	}
	if balances[0].Symbol != "XOS" || balances[0].Amount != "2.0000" {
		t.Fatalf("unexpected native balance: %+v", balances[0])
	}
	for _, b := range balances[1:] {
		want := "0.5000"
		if b.Symbol == "BNB" {
			want = "0"
		}
		if b.Amount != want {
			t.Fatalf("%s = %q, want %q", b.Symbol, b.Amount, want)
		}
	}
}

func TestRegisterIdentityRequiresBalance(t *testing.T) {
	backend := &fakeBackend{balance: ParseEther("0.09")}
	op, key := newTestOperator(t, backend)

	if err := op.RegisterIdentity(context.Background(), key); err == nil {
		t.Fatalf("expected insufficient balance error")
	}
	if len(backend.sent) != 0 {
		t.Fatalf("no transaction should be sent, got %d", len(backend.sent))
	}
}

func TestRegisterIdentitySendsFee(t *testing.T) {
	backend := &fakeBackend{balance: ParseEther("1"), estimateErr: errors.New("no estimate")}
	op, key := newTestOperator(t, backend)

	if err := op.RegisterIdentity(context.Background(), key); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Value().Cmp(registrationFee) != 0 {
		t.Fatalf("value = %s", tx.Value())
	}
	if tx.Gas() != 300000 {
		t.Fatalf("expected fallback gas, got %d", tx.Gas())
	}
	if *tx.To() != common.HexToAddress(DefaultDefinitions().Contracts.DIDRegistrar) {
		t.Fatalf("unexpected target %s", tx.To().Hex())
	}
	if !bytes.Equal(tx.Data()[:4], registrar.Methods["registerWithConfig"].ID) {
		t.Fatalf("unexpected selector %x", tx.Data()[:4])
	}
}

func TestRandomDomain(t *testing.T) {
	op, _ := newTestOperator(t, &fakeBackend{balance: new(big.Int)})
	op.intn = func(n int) int { return n - 1 }
	d := op.RandomDomain()
	if len(d) != 12 {
		t.Fatalf("expected 12 characters, got %q", d)
	}
	if d[0] < 'a' || d[0] > 'z' {
		t.Fatalf("domain must start with a letter: %q", d)
	}
}

func TestWrapUsesEstimateWithMargin(t *testing.T) {
	backend := &fakeBackend{balance: ParseEther("1"), estimate: 50000}
	op, key := newTestOperator(t, backend)

	plan := SwapPlan{Targets: []string{"wrap"}, CountRange: [2]int{2, 2}, PercentRange: [2]float64{10, 10}}
	if err := op.RunSwaps(context.Background(), key, plan); err != nil {
		t.Fatalf("run swaps: %v", err)
	}
	if len(backend.sent) != 2 {
		t.Fatalf("expected two deposits, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Gas() != 60000 {
		t.Fatalf("gas = %d, want 60000", tx.Gas())
	}
	if tx.Value().Cmp(ParseEther("0.1")) != 0 {
		t.Fatalf("value = %s", tx.Value())
	}
	if !bytes.Equal(tx.Data(), wxos.Methods["deposit"].ID) {
		t.Fatalf("unexpected calldata %x", tx.Data())
	}
	if tx.GasFeeCap().Cmp(big.NewInt(5_000_000_000)) != 0 {
		t.Fatalf("fee cap = %s", tx.GasFeeCap())
	}
	if backend.sent[1].Nonce() != 1 {
		t.Fatalf("second deposit nonce = %d", backend.sent[1].Nonce())
	}
}

func TestSwapStopsWhenBalanceTooLow(t *testing.T) {
	backend := &fakeBackend{balance: big.NewInt(1000), estimate: 50000}
	op, key := newTestOperator(t, backend)

	plan := SwapPlan{Targets: []string{"USDC", "BONK"}, CountRange: [2]int{3, 3}, PercentRange: [2]float64{5, 5}}
	if err := op.RunSwaps(context.Background(), key, plan); err != nil {
		t.Fatalf("run swaps: %v", err)
	}
	if len(backend.sent) != 0 {
		t.Fatalf("no swap should be sent, got %d", len(backend.sent))
	}
}

func TestSwapUSDCUsesMulticall(t *testing.T) {
	backend := &fakeBackend{balance: ParseEther("1"), allowance: ParseEther("100"), estimate: 100000}
	op, key := newTestOperator(t, backend)

	plan := SwapPlan{Targets: []string{"USDC"}, CountRange: [2]int{1, 1}, PercentRange: [2]float64{10, 10}}
	if err := op.RunSwaps(context.Background(), key, plan); err != nil {
		t.Fatalf("run swaps: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected swap only, got %d transactions", len(backend.sent))
	}
	tx := backend.sent[0]
	if *tx.To() != common.HexToAddress(DefaultDefinitions().Contracts.Router) {
		t.Fatalf("swap must go to the router, got %s", tx.To().Hex())
	}
	if !bytes.Equal(tx.Data()[:4], router.Methods["multicall"].ID) {
		t.Fatalf("unexpected selector %x", tx.Data()[:4])
	}
}

func TestSwapApprovesWhenAllowanceLow(t *testing.T) {
	backend := &fakeBackend{balance: ParseEther("1"), estimate: 100000}
	op, key := newTestOperator(t, backend)

	plan := SwapPlan{Targets: []string{"JUP"}, CountRange: [2]int{1, 1}, PercentRange: [2]float64{10, 10}}
	if err := op.RunSwaps(context.Background(), key, plan); err != nil {
		t.Fatalf("run swaps: %v", err)
	}
	if len(backend.sent) != 2 {
		t.Fatalf("expected approve and swap, got %d", len(backend.sent))
	}
	if !bytes.Equal(backend.sent[0].Data()[:4], erc20.Methods["approve"].ID) {
		t.Fatalf("first transaction should be approve")
	}
}

func TestUnknownSwapTargetRejected(t *testing.T) {
	op, key := newTestOperator(t, &fakeBackend{balance: ParseEther("1")})
	plan := SwapPlan{Targets: []string{"DOGE"}, CountRange: [2]int{1, 1}}
	if err := op.RunSwaps(context.Background(), key, plan); err == nil {
		t.Fatalf("expected error for unknown token")
	}
}

func TestEncodePath(t *testing.T) {
	a := common.HexToAddress("0x0000000000000000000000000000000000000001")
	b := common.HexToAddress("0x0000000000000000000000000000000000000002")
	c := common.HexToAddress("0x0000000000000000000000000000000000000003")
	path := encodePath(a, b, c)
	if len(path) != 66 {
		t.Fatalf("path length = %d, want 66", len(path))
	}
	if !bytes.Equal(path[20:23], []byte{0x00, 0x01, 0xf4}) {
		t.Fatalf("fee tier bytes = %x", path[20:23])
	}
	if !bytes.Equal(path[43:46], []byte{0x00, 0x01, 0xf4}) {
		t.Fatalf("second fee tier bytes = %x", path[43:46])
	}
}

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	content := `contracts:
  router: "0x1111111111111111111111111111111111111111"
tokens:
  - symbol: USDC
    address: "0xb2c1c007421f0eb5f4b3b3f38723c309bb208d7d"
  - symbol: TEST
    address: "0x2222222222222222222222222222222222222222"
    decimals: 6
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if defs.Contracts.Router != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("router override lost: %s", defs.Contracts.Router)
	}
	if defs.Contracts.WXOS != DefaultDefinitions().Contracts.WXOS {
		t.Fatalf("missing contract should use default")
	}
	usdc, ok := defs.Token("usdc")
	if !ok || usdc.Decimals != 18 {
		t.Fatalf("decimals should default to 18: %+v", usdc)
	}
	if tok, _ := defs.Token("TEST"); tok.Decimals != 6 {
		t.Fatalf("explicit decimals lost: %+v", tok)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(bad, []byte("tokens:\n  - symbol: X\n    address: nope\n"), 0o600)
	if _, err := LoadDefinitions(bad); err == nil {
		t.Fatalf("expected invalid address error")
	}
}
