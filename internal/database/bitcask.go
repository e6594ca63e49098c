// Package database stores the resolution history in a bitcask key/value
// store. Values are gzip-compressed JSON.
package database

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go-curseforge-resolver/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the database.
var ErrNotFound = errors.New("key not found")

// gzipMagicBytes are the first two bytes of a gzip stream.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// Record keys start with one of these.
const (
	fileKeyPrefix = "f_"
	itemKeyPrefix = "i_"
)

// Item ids are manifest names, which can be longer than bitcask's default key limit.
const maxKeySize = 512

// DB wraps the bitcask database instance.
type DB struct {
	db *bitcask.Bitcask
	mu sync.RWMutex
}

// Open initializes and returns a DB instance, creating its directory.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path, bitcask.WithMaxKeySize(maxKeySize))
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask database at %s: %w", path, err)
	}
	log.Debugf("Database opened at %s", path)
	return &DB{db: dbInstance}, nil
}

// Close waits for in-flight operations and closes the database.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

// Get retrieves and decompresses the value stored under key.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	value, err := d.db.Get(key)
	d.mu.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}
	return decompressIfGzipped(value)
}

// Put compresses and stores a key-value pair.
func (d *DB) Put(key []byte, value []byte) error {
	compressedValue, err := compressGzip(value, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
	}

	d.mu.Lock()
	err = d.db.Put(key, compressedValue)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("error putting compressed key %s: %w", string(key), err)
	}
	return nil
}

// Delete removes a key from the database. Deleting a missing key returns
// ErrNotFound; bitcask itself would record a tombstone for it.
func (d *DB) Delete(key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.db.Has(key) {
		return ErrNotFound
	}
	if err := d.db.Delete(key); err != nil {
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// Fold calls fn for every key with its decompressed value. Values that
// cannot be read are logged and skipped.
func (d *DB) Fold(fn func(key []byte, value []byte) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.db.Fold(func(key []byte) error {
		rawValue, err := d.db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error getting value for key %s", string(key))
			return nil
		}
		value, err := decompressIfGzipped(rawValue)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error decompressing value for key %s", string(key))
			return nil
		}
		return fn(key, value)
	})
}

// --- Resolution records ---

// PutRecord stores rec under key, normally models.RecordKey of its item.
func (d *DB) PutRecord(key string, rec models.ResolutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error marshalling record %s: %w", key, err)
	}
	return d.Put([]byte(key), data)
}

// GetRecord loads the record stored under key.
func (d *DB) GetRecord(key string) (models.ResolutionRecord, error) {
	var rec models.ResolutionRecord
	data, err := d.Get([]byte(key))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("error unmarshalling record %s: %w", key, err)
	}
	return rec, nil
}

// FoldRecords calls fn for every stored resolution record. Keys that are
// not record keys, and values that do not decode, are skipped.
func (d *DB) FoldRecords(fn func(key string, rec models.ResolutionRecord) error) error {
	return d.Fold(func(key []byte, value []byte) error {
		k := string(key)
		if !strings.HasPrefix(k, fileKeyPrefix) && !strings.HasPrefix(k, itemKeyPrefix) {
			return nil
		}
		var rec models.ResolutionRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			log.WithError(err).Warnf("Skipping unreadable record %s", k)
			return nil
		}
		return fn(k, rec)
	})
}

// --- Compression Helpers ---

// decompressIfGzipped decompresses the value if it is gzipped and returns
// it unchanged otherwise.
func decompressIfGzipped(value []byte) ([]byte, error) {
	if !bytes.HasPrefix(value, gzipMagicBytes) {
		return value, nil
	}
	gReader, err := gzip.NewReader(bytes.NewReader(value))
	if err != nil {
		log.WithError(err).Warn("Error creating gzip reader for value, returning raw data.")
		return value, nil
	}
	defer gReader.Close()

	decompressedValue, err := io.ReadAll(gReader)
	if err != nil {
		log.WithError(err).Warn("Error decompressing value, returning raw data.")
		return value, nil
	}
	return decompressedValue, nil
}

// compressGzip compresses the value with the given gzip level.
func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer for value: %w", err)
	}
	if _, err := gWriter.Write(value); err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data for value: %w", err)
	}
	// Close flushes the gzip footer.
	if err := gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer for value: %w", err)
	}
	return buf.Bytes(), nil
}
