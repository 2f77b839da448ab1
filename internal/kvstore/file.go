package kvstore

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	xerrors "XOS-Runner/internal/errors"
	"XOS-Runner/pkg/logger"
)

// FileStore 将全部键值保存在一个 JSON 对象文件中。
type FileStore struct {
	path string

	mu   sync.Mutex
	data map[string]string
}

// NewFileStore 读取已有文件。文件不存在或内容损坏时从空表开始。
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "存储文件路径为空")
	}
	s := &FileStore{path: path, data: make(map[string]string)}

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(content) > 0 {
			if err := json.Unmarshal(content, &s.data); err != nil {
				logger.L().Warn("存储文件损坏，已重置", slog.String("path", path), slog.Any("error", err))
				s.data = make(map[string]string)
			}
		}
	case stdErrors.Is(err, os.ErrNotExist):
	default:
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取存储文件失败")
	}
	return s, nil
}

// Get 返回 key 对应的值。
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Put 覆盖写入并立即落盘。
func (s *FileStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.writeLocked()
}

// Flush 将当前内容重新写入文件。
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked()
}

// Close 实现 Store。
func (s *FileStore) Close() error {
	return s.Flush(context.Background())
}

// size 返回当前条目数量。
func (s *FileStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// writeLocked 先写临时文件再 rename，读者不会看到半写的文件。
func (s *FileStore) writeLocked() error {
	content, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化存储内容失败")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建存储目录失败")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建临时文件失败")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入临时文件失败")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭临时文件失败")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "替换存储文件失败")
	}
	return nil
}
