// Package kv provides the durable key-value backends the sync queue persists
// into. Every backend offers the same get/set/delete/list-by-prefix contract.
package kv

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned by Get for an absent key.
	ErrNotFound = errors.New("key not found")
	// ErrQuotaExceeded is returned by Set when the backend is out of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// Entry is a single key-value pair.
type Entry struct {
	Key   string
	Value []byte
}

// Store is a durable key-value store. A successful Set or Delete is durable
// when it returns.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// List returns every entry whose key starts with prefix, ordered by key.
	List(prefix string) ([]Entry, error)
	Close() error
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
}

func hasPrefix(key, prefix string) bool {
	return prefix == "" || strings.HasPrefix(key, prefix)
}
