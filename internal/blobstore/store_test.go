package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "savestates.db")
	store, err := Open(path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// 测试写入和读取
func TestStorePutGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	data := []byte("savestate payload v1")
	key, err := store.Put(ctx, data)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	// 键应该是内容的SHA-256十六进制摘要
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), key)
	assert.Len(t, key, 64)

	loaded, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
}

// 测试相同内容重复写入的幂等性
func TestStorePutIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	data := []byte("identical content")

	key1, err := store.Put(ctx, data)
	require.NoError(t, err)

	key2, err := store.Put(ctx, data)
	require.NoError(t, err)

	assert.Equal(t, key1, key2)

	// 只保存一份
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// 测试不同内容生成不同的键
func TestStorePutDistinctContent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	key1, err := store.Put(ctx, []byte("state one"))
	require.NoError(t, err)

	key2, err := store.Put(ctx, []byte("state two"))
	require.NoError(t, err)

	assert.NotEqual(t, key1, key2)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// 测试读取不存在的键
func TestStoreGetNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), Key([]byte("never stored")))
	require.ErrorIs(t, err, ErrNotFound)
}

// 测试空数据写入被拒绝
func TestStorePutEmptyData(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Put(context.Background(), nil)
	require.Error(t, err)

	_, err = store.Put(context.Background(), []byte{})
	require.Error(t, err)
}

// 测试空键读取被拒绝
func TestStoreGetEmptyKey(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "")
	require.Error(t, err)

	_, err = store.Get(context.Background(), "   ")
	require.Error(t, err)
}

// 测试已取消的上下文
func TestStoreCanceledContext(t *testing.T) {
	store := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, []byte("data"))
	require.Error(t, err)

	_, err = store.Get(ctx, Key([]byte("data")))
	require.Error(t, err)

	_, err = store.Exists(ctx, Key([]byte("data")))
	require.Error(t, err)
}

// 测试存在性检查
func TestStoreExists(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	data := []byte("present")
	key, err := store.Put(ctx, data)
	require.NoError(t, err)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, Key([]byte("absent")))
	require.NoError(t, err)
	assert.False(t, exists)

	// 空键视为不存在
	exists, err = store.Exists(ctx, "")
	require.NoError(t, err)
	assert.False(t, exists)
}

// 测试重新打开后数据仍然可读
func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "savestates.db")
	ctx := context.Background()

	store, err := Open(path, time.Second)
	require.NoError(t, err)

	data := []byte("survives reopen")
	key, err := store.Put(ctx, data)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path, time.Second)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
}

// 测试打开空路径
func TestStoreOpenEmptyPath(t *testing.T) {
	_, err := Open("", time.Second)
	require.Error(t, err)

	_, err = Open("   ", time.Second)
	require.Error(t, err)
}

// 测试二进制数据的完整保真
func TestStoreBinaryData(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// 模拟器存档是任意二进制，包含零字节和高位字节
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i * 31)
	}

	key, err := store.Put(ctx, data)
	require.NoError(t, err)

	loaded, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
}

// 测试Key函数的确定性
func TestKeyDeterministic(t *testing.T) {
	data := []byte("deterministic")
	assert.Equal(t, Key(data), Key(data))
	assert.NotEqual(t, Key(data), Key([]byte("different")))
	assert.Len(t, Key(data), 64)
}
