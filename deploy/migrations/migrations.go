// Package migrations 内嵌数据库迁移脚本，按文件名顺序应用。
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
)

// Files 暴露所有 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS

// Apply 按文件名升序执行全部迁移。脚本必须幂等
// （CREATE TABLE IF NOT EXISTS 等），这里不维护版本表。
func Apply(db *sql.DB) error {
	entries, err := Files.ReadDir(".")
	if err != nil {
		return fmt.Errorf("读取迁移目录失败: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("读取迁移 %s 失败: %w", name, err)
		}
		for _, stmt := range strings.Split(string(content), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("执行迁移 %s 失败: %w", name, err)
			}
		}
	}
	return nil
}
