package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriterRequiresPath(t *testing.T) {
	if _, err := newRotatingWriter("", 1, 1, 1); err == nil {
		t.Fatalf("expected empty path to be rejected")
	}
}

func TestRotatingWriterResumesSizeOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	first, err := newRotatingWriter(path, 1, 2, 30)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if _, err := first.Write([]byte("entry-one\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := newRotatingWriter(path, 1, 2, 30)
	if err != nil {
		t.Fatalf("reopen writer: %v", err)
	}
	defer second.Close()
	if second.written != int64(len("entry-one\n")) {
		t.Fatalf("expected resumed size %d, got %d", len("entry-one\n"), second.written)
	}
}

func TestRotatingWriterRollsAndPrunes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	w, err := newRotatingWriter(path, 1, 2, 30)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()
	// 压低上限让测试在少量写入内触发轮转。
	w.limit = 64

	line := strings.Repeat("a", 40) + "\n"
	for i := 0; i < 5; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		// 备份名以毫秒时间戳结尾，确保相邻轮转不会重名。
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("active file missing after rotation: %v", err)
	}
	backups, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(backups) == 0 || len(backups) > 2 {
		t.Fatalf("expected 1-2 retained backups, got %v", backups)
	}
}
