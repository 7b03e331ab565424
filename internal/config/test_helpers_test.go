package config

import (
	"os"
	"path/filepath"
	"testing"
)

// writeConfigFile 在临时目录写入 TOML 内容并返回文件路径。
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}
