package registry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir 扫描目录并将识别出的描述文件逐个载入注册表。
// 每个合法文件对应一条记录；解析失败或缺少必填字段的文件被跳过，
// 不会产生部分记录。目录不存在仅记录告警，注册表保持为空。
// 返回成功载入的记录数量。
func (r *Registry) LoadDir(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Warn("上下文目录不存在，注册表为空启动", slog.String("dir", dir))
		} else {
			r.log.Warn("读取上下文目录失败", slog.String("dir", dir), slog.Any("error", err))
		}
		return 0
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		record, ok := r.parseFile(path)
		if !ok {
			continue
		}
		r.mu.Lock()
		if _, exists := r.records[record.ID]; !exists {
			r.order = append(r.order, record.ID)
		}
		r.records[record.ID] = record
		r.mu.Unlock()
		loaded++
	}

	r.log.Info("上下文描述加载完成", slog.String("dir", dir), slog.Int("loaded", loaded))
	return loaded
}

// parseFile 按扩展名选择反序列化格式。无法识别的扩展名静默跳过；
// 解析失败或校验不通过的文件记录告警后跳过。
func (r *Registry) parseFile(path string) (Record, bool) {
	var unmarshal func([]byte, any) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		unmarshal = json.Unmarshal
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	default:
		return Record{}, false
	}

	content, err := os.ReadFile(path)
	if err != nil {
		r.log.Warn("读取上下文描述失败", slog.String("path", path), slog.Any("error", err))
		return Record{}, false
	}

	var record Record
	if err := unmarshal(content, &record); err != nil {
		r.log.Warn("解析上下文描述失败", slog.String("path", path), slog.Any("error", err))
		return Record{}, false
	}
	if err := record.Validate(); err != nil {
		r.log.Warn("上下文描述缺少必填字段，已跳过", slog.String("path", path), slog.Any("error", err))
		return Record{}, false
	}
	record.Type, _ = ParseType(string(record.Type))
	return record, true
}
