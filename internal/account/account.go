package account

import (
	"bufio"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "XOS-Runner/internal/errors"
	"XOS-Runner/internal/proxy"
)

// Account 是调度的基本单位，创建后不可变。地址是账号的唯一标识。
type Account struct {
	Index      int
	Address    string
	PrivateKey *ecdsa.PrivateKey
	ProxyURL   string
}

// Label 返回日志中使用的短标识。
func (a Account) Label() string {
	return fmt.Sprintf("%d", a.Index+1)
}

// ParseKey 解析十六进制私钥，缺少 0x 前缀时自动补齐。
func ParseKey(raw string) (*ecdsa.PrivateKey, string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	key, err := crypto.HexToECDSA(raw[2:])
	if err != nil {
		return nil, "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "私钥格式无效")
	}
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// ReadLines 读取按行分隔的文件，忽略空行与 # 注释。
func ReadLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// ParseProxies 逐行规范化代理地址，第 i 行对应第 i 个账号。
func ParseProxies(lines []string) ([]string, error) {
	proxies := make([]string, 0, len(lines))
	for i, line := range lines {
		u, err := proxy.Normalize(line)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("第 %d 个代理无效: %s", i+1, proxy.Redact(line)))
		}
		proxies = append(proxies, u)
	}
	return proxies, nil
}

// Build 将私钥与代理组合成账号列表。代理模式下第 i 个账号使用
// proxies[i % len(proxies)]。
func Build(keys, proxies []string, useProxy bool) ([]Account, error) {
	if len(keys) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未找到任何私钥")
	}
	if useProxy && len(proxies) < len(keys) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("代理数量 (%d) 少于私钥数量 (%d)", len(proxies), len(keys)))
	}

	accounts := make([]Account, 0, len(keys))
	seen := make(map[string]int, len(keys))
	for i, raw := range keys {
		key, address, err := ParseKey(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("第 %d 个私钥无效", i+1))
		}
		if prev, ok := seen[address]; ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("第 %d 个私钥与第 %d 个重复: %s", i+1, prev+1, address))
		}
		seen[address] = i

		acc := Account{Index: i, Address: address, PrivateKey: key}
		if useProxy {
			acc.ProxyURL = proxies[i%len(proxies)]
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// Load 从文件读取私钥与代理并构建账号列表。
func Load(keysPath, proxyPath string, useProxy bool) ([]Account, error) {
	keys, err := ReadLines(keysPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取私钥文件失败")
	}
	var proxies []string
	if useProxy {
		lines, err := ReadLines(proxyPath)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取代理文件失败")
		}
		if proxies, err = ParseProxies(lines); err != nil {
			return nil, err
		}
	}
	return Build(keys, proxies, useProxy)
}

// SameAddress 比较两个地址是否相同，忽略大小写与校验和格式。
func SameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}
