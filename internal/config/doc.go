// Package config 负责加载 XOS-Runner 的 JSON 配置文件，填充默认值，并从
// .env 与环境变量中叠加推荐码、验证码密钥和 RPC 地址等敏感配置。
package config
