package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	defaultRotateSizeMB  = 64
	defaultRotateKeep    = 5
	defaultRotateAgeDays = 14
	// 回滚文件的后缀格式，固定宽度保证按字典序即按时间序。
	backupTimeLayout = "20060102T150405.000"
)

// rotatingWriter 把日志追加写入单个文件，超过体积上限后把当前文件
// 改名为带时间戳后缀的备份并重新打开新文件。备份按数量与保存期清理。
type rotatingWriter struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	written   int64
	limit     int64
	keep      int
	retention time.Duration
}

func newRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rotatingWriter, error) {
	if path == "" {
		return nil, errors.New("轮转日志缺少文件路径")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultRotateSizeMB
	}
	if maxBackups <= 0 {
		maxBackups = defaultRotateKeep
	}
	if maxAgeDays <= 0 {
		maxAgeDays = defaultRotateAgeDays
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	w := &rotatingWriter{
		path:      path,
		limit:     int64(maxSizeMB) << 20,
		keep:      maxBackups,
		retention: time.Duration(maxAgeDays) * 24 * time.Hour,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	if w.written+int64(len(p)) > w.limit {
		if err := w.roll(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.written = 0
	return err
}

func (w *rotatingWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开日志文件 %s 失败: %w", w.path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("读取日志文件状态失败: %w", err)
	}
	w.file = file
	w.written = info.Size()
	return nil
}

// roll 把当前文件改名为时间戳备份并重新打开新文件。
func (w *rotatingWriter) roll() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	backup := w.path + "." + time.Now().UTC().Format(backupTimeLayout)
	if err := os.Rename(w.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("轮转日志文件失败: %w", err)
	}
	w.written = 0
	if err := w.open(); err != nil {
		return err
	}
	w.prune()
	return nil
}

// prune 删除超出保留数量或超过保存期的备份。
// 清理失败不影响写入，下次轮转会再次尝试。
func (w *rotatingWriter) prune() {
	backups, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}
	sort.Strings(backups)
	cutoff := time.Now().Add(-w.retention)
	for i, backup := range backups {
		if len(backups)-i > w.keep {
			_ = os.Remove(backup)
			continue
		}
		info, err := os.Stat(backup)
		if err != nil {
			continue
		}
		if w.retention > 0 && info.ModTime().Before(cutoff) {
			_ = os.Remove(backup)
		}
	}
}
