// Package kvstore 提供按地址保存令牌与 UA 绑定的键值存储。文件实现由单个
// 进程内所有者持有并原子地重写文件；Redis 与 MySQL 实现按键写入。
package kvstore
