package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fansqz/trace-debugger/constants"
	e "github.com/fansqz/trace-debugger/error"
	"github.com/fansqz/trace-debugger/utils"
	"github.com/sirupsen/logrus"
)

// LanguageOf 根据文件后缀判断语言
func LanguageOf(path string) (constants.LanguageType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return constants.LanguagePython, nil
	case ".go":
		return constants.LanguageGo, nil
	default:
		return "", fmt.Errorf("%w: %s", e.ErrLanguageNotSupported, filepath.Ext(path))
	}
}

// TrailingStatement 追加在临时文件末尾的语句，使调试器能够单步越过原文件的最后一行
// go的最后一条语句位于main函数中，不需要追加
func TrailingStatement(languageType constants.LanguageType) string {
	switch languageType {
	case constants.LanguagePython:
		return "pass"
	default:
		return ""
	}
}

// TempFiles 在工作目录下创建源文件的临时副本
type TempFiles struct {
	WorkDir string
}

func NewTempFiles(workDir string) *TempFiles {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "trace-debugger")
	}
	return &TempFiles{WorkDir: workDir}
}

func (t *TempFiles) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return content, nil
}

// CreateTempFile 将内容写入 <WorkDir>/<uuid>/<文件名>，返回临时文件的绝对路径
func (t *TempFiles) CreateTempFile(ctx context.Context, path string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	languageType, err := LanguageOf(path)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(t.WorkDir, utils.GetUUID())
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	tempFile := filepath.Join(dir, filepath.Base(path))
	if err = os.WriteFile(tempFile, appendTrailing(content, TrailingStatement(languageType)), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	logrus.Infof("[TempFiles] CreateTempFile, file = %s", tempFile)
	return tempFile, nil
}

// Remove 删除临时文件所在的目录
func (t *TempFiles) Remove(tempFile string) error {
	dir := filepath.Dir(tempFile)
	if filepath.Clean(filepath.Dir(dir)) != filepath.Clean(t.absWorkDir()) {
		return fmt.Errorf("%s is not a temp file", tempFile)
	}
	return os.RemoveAll(dir)
}

func (t *TempFiles) absWorkDir() string {
	dir, err := filepath.Abs(t.WorkDir)
	if err != nil {
		return t.WorkDir
	}
	return dir
}

func appendTrailing(content []byte, statement string) []byte {
	if statement == "" {
		return content
	}
	var buf bytes.Buffer
	buf.Write(content)
	if len(content) > 0 && content[len(content)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString(statement)
	buf.WriteByte('\n')
	return buf.Bytes()
}
