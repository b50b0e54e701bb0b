package core

// state.go – versioned service state. Three tiers: the per-transaction cache,
// the per-block stash of successful writes, and the persisted trie. Reads
// walk cache → stash → trie; writes only ever touch the cache. An empty
// value is the tombstone marker and reads back as absent.

import (
	"fmt"
)

// GeneralServiceState is the single mutable state owned by the executor for
// the duration of one block. It is not safe for concurrent use; the
// execution worker is its only writer.
type GeneralServiceState struct {
	trie *MPTTrie

	cacheMap map[string][]byte
	stashMap map[string][]byte
}

// NewGeneralServiceState wraps a trie view.
func NewGeneralServiceState(trie *MPTTrie) *GeneralServiceState {
	return &GeneralServiceState{
		trie:     trie,
		cacheMap: make(map[string][]byte),
		stashMap: make(map[string][]byte),
	}
}

// Get returns the newest value for key across the three tiers, or nil if the
// key is absent or tombstoned.
func (s *GeneralServiceState) Get(key []byte) ([]byte, error) {
	if val, ok := s.cacheMap[string(key)]; ok {
		if len(val) == 0 {
			return nil, nil
		}
		return val, nil
	}
	if val, ok := s.stashMap[string(key)]; ok {
		if len(val) == 0 {
			return nil, nil
		}
		return val, nil
	}
	val, err := s.trie.Get(key)
	if err != nil {
		return nil, err
	}
	if len(val) == 0 {
		return nil, nil
	}
	return val, nil
}

// Contains reports whether any tier holds a non-tombstone entry for key.
func (s *GeneralServiceState) Contains(key []byte) (bool, error) {
	val, err := s.Get(key)
	if err != nil {
		return false, err
	}
	return val != nil, nil
}

// Insert stages key→value in the transaction cache. Inserting an empty value
// tombstones the key.
func (s *GeneralServiceState) Insert(key, value []byte) {
	s.cacheMap[string(key)] = value
}

// Delete tombstones key.
func (s *GeneralServiceState) Delete(key []byte) {
	s.Insert(key, nil)
}

// GetAccountValue reads an account-scoped entry; the composite key is the
// digest of the address bytes followed by the encoded inner key.
func (s *GeneralServiceState) GetAccountValue(addr Address, key []byte) ([]byte, error) {
	return s.Get(accountKey(addr, key).Bytes())
}

// SetAccountValue writes an account-scoped entry.
func (s *GeneralServiceState) SetAccountValue(addr Address, key, value []byte) {
	s.Insert(accountKey(addr, key).Bytes(), value)
}

func accountKey(addr Address, key []byte) Hash {
	buf := make([]byte, 0, AddressLen+len(key))
	buf = append(buf, addr.Bytes()...)
	buf = append(buf, key...)
	return Digest(buf)
}

// RevertCache discards the transaction cache; the stash is untouched.
func (s *GeneralServiceState) RevertCache() {
	s.cacheMap = make(map[string][]byte)
}

// Stash promotes the transaction cache into the block stash.
func (s *GeneralServiceState) Stash() {
	for k, v := range s.cacheMap {
		s.stashMap[k] = v
	}
	s.cacheMap = make(map[string][]byte)
}

// Commit drains the stash into the trie and returns the new root. After a
// commit both in-memory tiers are empty.
func (s *GeneralServiceState) Commit() (MerkleRoot, error) {
	for k, v := range s.stashMap {
		if err := s.trie.Insert([]byte(k), v); err != nil {
			return Hash{}, NewProtocolError(KindBinding, fmt.Errorf("commit insert: %w", err))
		}
	}
	s.stashMap = make(map[string][]byte)

	root, err := s.trie.Commit()
	if err != nil {
		return Hash{}, err
	}
	return root, nil
}
