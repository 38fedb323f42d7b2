package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/wfunc/retro-relay/internal/logger"
	"go.etcd.io/bbolt"
)

const savestateBucket = "savestates"

// ErrNotFound 请求的存档不存在
var ErrNotFound = errors.New("blob not found")

// ErrCorrupted 存档内容与其键的哈希不一致
var ErrCorrupted = errors.New("blob content does not match key")

// Store 基于BoltDB的内容寻址存档库
//
// 键为存档内容的SHA-256十六进制摘要，相同内容写入多次只保存一份。
type Store struct {
	db *bbolt.DB
}

// Open 打开指定路径的存档库
func Open(path string, timeout time.Duration) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open blob db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close 关闭底层数据库
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put 写入存档数据，返回内容键
//
// 同一内容重复写入是幂等的，总是返回相同的键。
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.db == nil {
		return "", fmt.Errorf("blob store is not configured")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("blob data is required")
	}

	key := Key(data)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(savestateBucket))
		if bucket == nil {
			return fmt.Errorf("savestate bucket is missing")
		}
		// 内容寻址：键已存在说明内容相同，无需重写
		if bucket.Get([]byte(key)) != nil {
			return nil
		}
		return bucket.Put([]byte(key), data)
	})

	logger.LogBlobOperation("put", key, len(data), err)
	if err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}

	return key, nil
}

// Get 读取存档数据，并校验内容与键的哈希一致
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("blob store is not configured")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("blob key is required")
	}

	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(savestateBucket))
		if bucket == nil {
			return fmt.Errorf("savestate bucket is missing")
		}
		payload := bucket.Get([]byte(key))
		if payload == nil {
			return ErrNotFound
		}
		// View事务返回的切片仅在事务内有效，必须复制
		data = make([]byte, len(payload))
		copy(data, payload)
		return nil
	})

	logger.LogBlobOperation("get", key, len(data), err)
	if err != nil {
		return nil, err
	}

	if Key(data) != key {
		return nil, ErrCorrupted
	}

	return data, nil
}

// Exists 检查存档是否存在
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.db == nil {
		return false, fmt.Errorf("blob store is not configured")
	}
	if strings.TrimSpace(key) == "" {
		return false, nil
	}

	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(savestateBucket))
		if bucket == nil {
			return fmt.Errorf("savestate bucket is missing")
		}
		exists = bucket.Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		return false, err
	}

	return exists, nil
}

// Count 返回存档条目数量
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("blob store is not configured")
	}

	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(savestateBucket))
		if bucket == nil {
			return fmt.Errorf("savestate bucket is missing")
		}
		count = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Key 计算数据的内容键（SHA-256十六进制摘要）
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(savestateBucket))
		if err != nil {
			return fmt.Errorf("create savestate bucket: %w", err)
		}
		return nil
	})
}
