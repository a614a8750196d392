// Package config 集中管理守护进程的启动配置：主配置为 JSON，
// 链、钱包与策略分别使用独立的 YAML 文件描述，其中策略文件
// 支持热加载。
package config
