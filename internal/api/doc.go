// Package api 暴露 REST 接口：代理通过它提交意图，
// 运维通过它查询执行记录与统计。
package api
