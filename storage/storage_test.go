package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/dagflow/storage"
)

func TestHeapFactoryRoundTrip(t *testing.T) {
	f := storage.NewFactory(storage.HEAP)
	w, err := f.NewWriter()
	require.NoError(t, err)

	require.NoError(t, w.Write(1))
	require.NoError(t, w.WriteBatch([]interface{}{2, 3, 4}, 0, 3))
	require.NoError(t, w.Close())

	r, err := w.CreateReader()
	require.NoError(t, err)
	require.Equal(t, int64(4), r.Size64())

	it := r.Iterator()
	defer it.Close()
	buf := make([]interface{}, 4)
	n, err := it.NextN(buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []interface{}{1, 2, 3, 4}, buf)
}

func TestDiskKryoFactoryRoundTrip(t *testing.T) {
	f := storage.NewFactory(storage.DiskKryo, storage.WithDir(t.TempDir()))
	w, err := f.NewWriter()
	require.NoError(t, err)

	require.NoError(t, w.WriteBatch([]interface{}{"a", "b", "c"}, 0, 3))
	require.NoError(t, w.Close())

	r, err := w.CreateReader()
	require.NoError(t, err)
	require.Equal(t, int64(3), r.Size64())
}

func TestDiskKryoEncryptedRequiresKeySize(t *testing.T) {
	f := storage.NewFactory(storage.DiskKryoEncrypted, storage.WithDir(t.TempDir()), storage.WithKey([]byte("too-short")))
	_, err := f.NewWriter()
	require.Error(t, err)
}

func TestDiskKryoCompressedAndEncryptedRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	f := storage.NewFactory(storage.DiskKryoCompressedAndEncrypted, storage.WithDir(t.TempDir()), storage.WithKey(key))
	w, err := f.NewWriter()
	require.NoError(t, err)

	require.NoError(t, w.WriteBatch([]interface{}{1, 2, 3}, 0, 3))
	require.NoError(t, w.Close())

	r, err := w.CreateReader()
	require.NoError(t, err)
	require.Equal(t, int64(3), r.Size64())
}

func TestWriteAfterCloseFails(t *testing.T) {
	f := storage.NewFactory(storage.DiskKryo, storage.WithDir(t.TempDir()))
	w, err := f.NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Error(t, w.Write(1))
}
