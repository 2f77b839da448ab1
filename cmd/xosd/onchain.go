package main

import (
	"context"
	"log/slog"

	"XOS-Runner/internal/account"
	"XOS-Runner/internal/chain"
	"XOS-Runner/internal/config"
	xerrors "XOS-Runner/internal/errors"
	"XOS-Runner/internal/session"
	"XOS-Runner/pkg/logger"
)

const rpcDialAttempts = 3

// sharedOperator 连接不经代理的 RPC，供未开启 use_for_rpc 的会话共用。
// 连接失败时返回 nil，链上步骤随之跳过。
func sharedOperator(ctx context.Context, cfg *config.Config, defs chain.Definitions) (*chain.Operator, func()) {
	if cfg.Proxy.Enabled && cfg.Proxy.UseForRPC {
		return nil, func() {}
	}
	eth, err := chain.Dial(ctx, cfg.Chain.RPCURL, "", rpcDialAttempts, nil)
	if err != nil {
		logger.L().Warn("RPC 不可用，链上步骤将被跳过", slog.Any("error", err))
		return nil, func() {}
	}
	client := chain.NewClient(eth, cfg.Chain.ChainID, defs)
	return chain.NewOperator(client, cfg.Chain.ExplorerURL), eth.Close
}

func onchainFactory(cfg *config.Config, defs chain.Definitions, shared *chain.Operator) session.OnchainFactory {
	return func(ctx context.Context, acc account.Account, l *slog.Logger) (session.Onchain, func(), error) {
		if cfg.Proxy.Enabled && cfg.Proxy.UseForRPC {
			eth, err := chain.Dial(ctx, cfg.Chain.RPCURL, acc.ProxyURL, rpcDialAttempts, nil)
			if err != nil {
				return nil, nil, err
			}
			client := chain.NewClient(eth, cfg.Chain.ChainID, defs, chain.WithLogger(l))
			return chain.NewOperator(client, cfg.Chain.ExplorerURL), eth.Close, nil
		}
		if shared == nil {
			return nil, nil, xerrors.New(xerrors.CodeTransientNetwork, "RPC 不可用")
		}
		return shared.WithSessionLogger(l), nil, nil
	}
}
