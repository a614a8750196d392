package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"AgentGuard-Chain/pkg/logger"
)

// Watcher 监听配置文件变化并触发回调，用于策略的热加载。
// 回调在去抖窗口（500ms）后执行，短时间内的连续写入只触发一次。
type Watcher struct {
	watcher *fsnotify.Watcher
	paths   []string
	onEvent func()
}

// NewWatcher 为给定路径创建文件监听器。不存在的路径会被跳过。
func NewWatcher(paths []string, onEvent func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听器失败: %w", err)
	}

	var watched []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := fw.Add(p); err != nil {
			fw.Close()
			return nil, fmt.Errorf("监听 %q 失败: %w", p, err)
		}
		watched = append(watched, p)
	}

	return &Watcher{watcher: fw, paths: watched, onEvent: onEvent}, nil
}

// Paths 返回实际处于监听中的路径。
func (w *Watcher) Paths() []string {
	out := make([]string, len(w.paths))
	copy(out, w.paths)
	return out
}

// Run 阻塞处理文件事件，直到 ctx 被取消。
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					logger.L().Info("配置文件变更，触发热加载", slog.String("path", event.Name))
					w.onEvent()
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.L().Warn("文件监听器错误", slog.Any("error", err))
		}
	}
}
