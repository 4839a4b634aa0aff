// Package cachestore persists task results and working directories on disk,
// addressed by canonical task key.
//
// Layout, browsable with ordinary filesystem tools:
//
//	root/<type>/<digest>/
//	    args.json    human-readable canonical arguments
//	    result.bin   codec-encoded payload
//	    data/        the task's working directory
//
// A record and its working directory live and die together: ClearOne removes
// both, ClearAll removes the whole per-type subtree. Working directories
// otherwise persist across runs.
package cachestore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/vk/taskgrid/internal/taskerr"
	"github.com/vk/taskgrid/internal/taskkey"
)

const (
	resultFile = "result.bin"
	argsFile   = "args.json"
	dataDir    = "data"
)

// Store is an on-disk, content-addressed cache of task records.
type Store struct {
	root  string
	codec Codec
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string, codec Codec) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory must not be empty")
	}
	if codec == nil {
		codec = NewDefaultCodec()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return &Store{root: dir, codec: codec}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) recordDir(key taskkey.Key) string {
	return filepath.Join(s.root, key.Type, key.Digest())
}

// ensureRecordDir creates the record directory, its data/ subdirectory, and
// the args.json metadata file on first use.
func (s *Store) ensureRecordDir(key taskkey.Key) (string, error) {
	dir := s.recordDir(key)
	if err := os.MkdirAll(filepath.Join(dir, dataDir), 0o755); err != nil {
		return "", fmt.Errorf("creating record directory for %s: %w", key, err)
	}
	argsPath := filepath.Join(dir, argsFile)
	if _, err := os.Stat(argsPath); os.IsNotExist(err) {
		args, err := key.ArgsJSON()
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(argsPath, args, 0o644); err != nil {
			return "", fmt.Errorf("writing args.json for %s: %w", key, err)
		}
	}
	return dir, nil
}

// Exists reports whether a published result record exists for key.
func (s *Store) Exists(key taskkey.Key) bool {
	_, err := os.Stat(filepath.Join(s.recordDir(key), resultFile))
	return err == nil
}

// Load reads and decodes the payload for key. It fails with
// *taskerr.CacheMissError when no record is present.
func (s *Store) Load(key taskkey.Key) (any, error) {
	data, err := os.ReadFile(filepath.Join(s.recordDir(key), resultFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &taskerr.CacheMissError{Key: key.String()}
		}
		return nil, fmt.Errorf("reading record for %s: %w", key, err)
	}
	v, err := s.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding record for %s: %w", key, err)
	}
	return v, nil
}

// Store encodes and publishes the payload for key atomically: the blob is
// written to a uniquely named temp file and renamed into place, so a crash
// never leaves a partially written record visible as present.
func (s *Store) Store(key taskkey.Key, v any, compressLevel int) error {
	dir, err := s.ensureRecordDir(key)
	if err != nil {
		return err
	}
	data, err := s.codec.Encode(v, compressLevel)
	if err != nil {
		return fmt.Errorf("encoding record for %s: %w", key, err)
	}

	tmp := filepath.Join(dir, resultFile+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing record for %s: %w", key, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, resultFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing record for %s: %w", key, err)
	}
	return nil
}

// Roundtrip normalizes a freshly computed value through the codec so that
// downstream consumers observe the same representation whether the value was
// computed this run or loaded from cache.
func (s *Store) Roundtrip(v any) (any, error) {
	data, err := s.codec.Encode(v, -1)
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(data)
}

// ClearOne removes the record for key together with its working directory.
func (s *Store) ClearOne(key taskkey.Key) error {
	if err := os.RemoveAll(s.recordDir(key)); err != nil {
		return fmt.Errorf("clearing record for %s: %w", key, err)
	}
	return nil
}

// ClearAll removes every record of the given task type.
func (s *Store) ClearAll(typeName string) error {
	if typeName == "" {
		return fmt.Errorf("task type must not be empty")
	}
	if err := os.RemoveAll(filepath.Join(s.root, typeName)); err != nil {
		return fmt.Errorf("clearing records for type %s: %w", typeName, err)
	}
	return nil
}

// TaskDir ensures and returns the working directory for key. The directory
// persists across runs until the record is cleared.
func (s *Store) TaskDir(key taskkey.Key) (string, error) {
	dir, err := s.ensureRecordDir(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dataDir), nil
}
