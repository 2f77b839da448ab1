package chain

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Definitions 描述 XOS 测试网上用到的合约与代币，对应 configs/tokens.yaml。
type Definitions struct {
	Contracts Contracts         `yaml:"contracts"`
	Tokens    []TokenDefinition `yaml:"tokens"`
}

// Contracts 是固定合约地址。
type Contracts struct {
	WXOS         string `yaml:"wxos"`
	Router       string `yaml:"router"`
	DIDRegistrar string `yaml:"did_registrar"`
	Resolver     string `yaml:"resolver"`
}

// TokenDefinition 描述一个 ERC-20 代币。
type TokenDefinition struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
}

// DefaultDefinitions 返回内置的测试网地址。
func DefaultDefinitions() Definitions {
	return Definitions{
		Contracts: Contracts{
			WXOS:         "0x0aab67cf6f2e99847b9a95dec950b250d648c1bb",
			Router:       "0xdc7d6b58c89a554b3fdc4b5b10de9b4dbf39fb40",
			DIDRegistrar: "0xb8692493fe9baec1152b396188a8e6f0cfa4e4e7",
			Resolver:     "0x17b1bfd1e30f374dbd821f2f52e277bc47829ceb",
		},
		Tokens: []TokenDefinition{
			{Symbol: "USDC", Address: "0xb2c1c007421f0eb5f4b3b3f38723c309bb208d7d", Decimals: 18},
			{Symbol: "WXOS", Address: "0x0aab67cf6f2e99847b9a95dec950b250d648c1bb", Decimals: 18},
			{Symbol: "BNB", Address: "0x83dfbe02dc1b1db11bc13a8fc7fd011e2dbbd7c0", Decimals: 18},
			{Symbol: "JUP", Address: "0x26b597804318824a2e88cd717376f025e6bb2219", Decimals: 18},
			{Symbol: "BONK", Address: "0x00309602f7977d45322279c4dd5cf61d16fd061b", Decimals: 18},
		},
	}
}

// LoadDefinitions 解析 YAML 文件，路径为空时返回内置定义。未填写的合约
// 地址使用内置值。
func LoadDefinitions(path string) (Definitions, error) {
	defaults := DefaultDefinitions()
	if strings.TrimSpace(path) == "" {
		return defaults, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取代币配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析代币配置失败: %w", err)
	}
	if defs.Contracts.WXOS == "" {
		defs.Contracts.WXOS = defaults.Contracts.WXOS
	}
	if defs.Contracts.Router == "" {
		defs.Contracts.Router = defaults.Contracts.Router
	}
	if defs.Contracts.DIDRegistrar == "" {
		defs.Contracts.DIDRegistrar = defaults.Contracts.DIDRegistrar
	}
	if defs.Contracts.Resolver == "" {
		defs.Contracts.Resolver = defaults.Contracts.Resolver
	}
	if len(defs.Tokens) == 0 {
		defs.Tokens = defaults.Tokens
	}
	return defs, defs.validate()
}

func (d Definitions) validate() error {
	for name, addr := range map[string]string{
		"wxos":          d.Contracts.WXOS,
		"router":        d.Contracts.Router,
		"did_registrar": d.Contracts.DIDRegistrar,
		"resolver":      d.Contracts.Resolver,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("合约 %s 地址无效: %q", name, addr)
		}
	}
	for i := range d.Tokens {
		tok := &d.Tokens[i]
		if tok.Symbol == "" || !common.IsHexAddress(tok.Address) {
			return fmt.Errorf("第 %d 个代币定义无效", i+1)
		}
		if tok.Decimals <= 0 {
			tok.Decimals = 18
		}
	}
	return nil
}

// Token 按符号查找代币，忽略大小写。
func (d Definitions) Token(symbol string) (TokenDefinition, bool) {
	for _, tok := range d.Tokens {
		if strings.EqualFold(tok.Symbol, symbol) {
			return tok, true
		}
	}
	return TokenDefinition{}, false
}
