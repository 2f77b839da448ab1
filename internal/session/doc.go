// Package session 实现单个账号一轮完整的执行流程：
//
//	绑定 UA/代理 → 登录 → 同步资料与余额 → 签到 → 抽奖 → 水龙头 → 链上操作
//
// 步骤严格按顺序执行。登录失败、资料获取失败或代理不可达会中止本轮，
// 其余步骤的失败只记录日志。所有等待都可通过 context 取消。
package session
