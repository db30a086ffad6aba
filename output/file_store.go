package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fansqz/trace-debugger/backend"
	e "github.com/fansqz/trace-debugger/error"
	"github.com/sirupsen/logrus"
)

const traceFileSuffix = ".trace.json"

// FileStore 将trace保存为json文件
type FileStore struct {
	// Dir 为空时保存在源文件所在目录
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// TracePath trace文件的路径，main.py 对应 main.trace.json
func (s *FileStore) TracePath(sourcePath string) string {
	dir := s.Dir
	if dir == "" {
		dir = filepath.Dir(sourcePath)
	}
	base := filepath.Base(sourcePath)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+traceFileSuffix)
}

// Write 先写入临时文件再重命名，保证不会留下写了一半的trace
func (s *FileStore) Write(ctx context.Context, trace *backend.BackendTrace, sourcePath string) (string, error) {
	if sourcePath == "" {
		return "", e.ErrFileUndefined
	}
	destPath := s.TracePath(sourcePath)
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to ensure trace directory: %w", err)
	}
	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal trace: %w", err)
	}

	// 临时文件和目标文件在同一目录，保证rename是原子的
	tmpFile, err := os.CreateTemp(dir, "tmp-*"+traceFileSuffix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err = tmpFile.Write(data); err != nil {
		return "", fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return "", fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err = tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	// windows下rename不能覆盖已存在的文件
	if _, err = os.Stat(destPath); err == nil {
		if err = os.Remove(destPath); err != nil {
			return "", fmt.Errorf("failed to remove existing trace: %w", err)
		}
	}
	if err = os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}
	logrus.Infof("[FileStore] trace saved, path = %s", destPath)
	return destPath, nil
}

func (s *FileStore) Load(ctx context.Context, location string) (*backend.BackendTrace, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", e.ErrTraceNotFound, location)
		}
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	trace := &backend.BackendTrace{}
	if err = json.Unmarshal(data, trace); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace: %w", err)
	}
	return trace, nil
}

// List Dir下保存的trace文件，最近保存的在前
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	type traceFile struct {
		path    string
		modTime time.Time
	}
	files := make([]traceFile, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, traceFileSuffix) || strings.HasPrefix(name, "tmp-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, traceFile{path: filepath.Join(dir, name), modTime: info.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})
	locations := make([]string, 0, len(files))
	for _, f := range files {
		locations = append(locations, f.path)
	}
	return locations, nil
}
