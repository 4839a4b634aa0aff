package cachestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgrid/internal/taskerr"
	"github.com/vk/taskgrid/internal/taskkey"
)

func testKey(t *testing.T, typeName string, args ...any) taskkey.Key {
	t.Helper()
	key, err := taskkey.Canonicalize(typeName, args, nil)
	require.NoError(t, err)
	return key
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func TestStoreRoundtrip(t *testing.T) {
	s := newTestStore(t)
	key := testKey(t, "Fetch", "url", 3)

	require.False(t, s.Exists(key))
	require.NoError(t, s.Store(key, map[string]any{"n": 42, "items": []any{"a", "b"}}, -1))
	require.True(t, s.Exists(key))

	v, err := s.Load(key)
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 42, m["n"])
	assert.Equal(t, []any{"a", "b"}, m["items"])
}

func TestLoadMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(testKey(t, "Fetch", "absent"))
	var miss *taskerr.CacheMissError
	require.ErrorAs(t, err, &miss)
}

func TestStorePublishesAtomically(t *testing.T) {
	s := newTestStore(t)
	key := testKey(t, "Fetch", 1)
	require.NoError(t, s.Store(key, "v", -1))

	entries, err := os.ReadDir(filepath.Join(s.Root(), "Fetch", key.Digest()))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"args.json", "result.bin", "data"}, names)
}

func TestStoreOverwrite(t *testing.T) {
	s := newTestStore(t)
	key := testKey(t, "Fetch", 1)
	require.NoError(t, s.Store(key, "first", -1))
	require.NoError(t, s.Store(key, "second", -1))

	v, err := s.Load(key)
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestCompressionLevels(t *testing.T) {
	s := newTestStore(t)
	for i, level := range []int{-1, 1, 9} {
		key := testKey(t, "Blob", i)
		require.NoError(t, s.Store(key, "payload", level))
		v, err := s.Load(key)
		require.NoError(t, err)
		assert.Equal(t, "payload", v)
	}

	key := testKey(t, "Blob", "bad")
	assert.Error(t, s.Store(key, "payload", 42))
}

func TestClearOne(t *testing.T) {
	s := newTestStore(t)
	one := testKey(t, "Fetch", 1)
	two := testKey(t, "Fetch", 2)
	require.NoError(t, s.Store(one, "a", -1))
	require.NoError(t, s.Store(two, "b", -1))

	dir, err := s.TaskDir(one)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("x"), 0o644))

	require.NoError(t, s.ClearOne(one))
	assert.False(t, s.Exists(one))
	assert.NoDirExists(t, dir)
	assert.True(t, s.Exists(two))
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Store(testKey(t, "Fetch", 1), "a", -1))
	require.NoError(t, s.Store(testKey(t, "Fetch", 2), "b", -1))
	other := testKey(t, "Other", 1)
	require.NoError(t, s.Store(other, "c", -1))

	require.NoError(t, s.ClearAll("Fetch"))
	assert.NoDirExists(t, filepath.Join(s.Root(), "Fetch"))
	assert.True(t, s.Exists(other))

	assert.Error(t, s.ClearAll(""))
}

func TestTaskDirPersistsAcrossStores(t *testing.T) {
	s := newTestStore(t)
	key := testKey(t, "Fetch", 1)

	dir, err := s.TaskDir(key)
	require.NoError(t, err)
	scratch := filepath.Join(dir, "scratch.txt")
	require.NoError(t, os.WriteFile(scratch, []byte("keep me"), 0o644))

	require.NoError(t, s.Store(key, "v", -1))
	data, err := os.ReadFile(scratch)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestArgsJSONWritten(t *testing.T) {
	s := newTestStore(t)
	key := testKey(t, "Fetch", map[string]string{"url": "http://example.com"})
	require.NoError(t, s.Store(key, "v", -1))

	data, err := os.ReadFile(filepath.Join(s.Root(), "Fetch", key.Digest(), "args.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "example.com")
}

func TestRoundtripNormalizes(t *testing.T) {
	s := newTestStore(t)
	v, err := s.Roundtrip(map[string]int{"a": 1})
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, m["a"])
}
