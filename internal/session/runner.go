package session

import (
	"context"

	"XOS-Runner/internal/account"
)

// Factory 为每个账号每一轮创建新的 Session，实现 scheduler.Runner。
type Factory struct {
	Deps     Deps
	Settings Settings
	Options  []Option
}

// Run 执行 acc 的一轮会话。
func (f Factory) Run(ctx context.Context, acc account.Account) Result {
	return New(acc, f.Deps, f.Settings, f.Options...).Run(ctx)
}
