package core

// wal.go – write-ahead log of finalised transactions. One directory per
// height; one file per block hash holding the canonical encoding of the
// committed signed-tx list. Directories below the retention horizon are
// pruned on commit.

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
)

// SignedTxsWAL persists committed transaction sets under a root directory.
type SignedTxsWAL struct {
	path string
}

// NewSignedTxsWAL creates the root directory if needed.
func NewSignedTxsWAL(path string) (*SignedTxsWAL, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, NewProtocolError(KindConsensus, fmt.Errorf("create wal dir: %w", err))
	}
	return &SignedTxsWAL{path: path}, nil
}

func (w *SignedTxsWAL) fileFor(height uint64, blockHash Hash) string {
	return filepath.Join(w.path, strconv.FormatUint(height, 10), clean0x(blockHash.Hex())+".bin")
}

// Save writes the committed tx list for (height, blockHash).
func (w *SignedTxsWAL) Save(height uint64, blockHash Hash, txs []*SignedTransaction) error {
	dir := filepath.Join(w.path, strconv.FormatUint(height, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return NewProtocolError(KindConsensus, fmt.Errorf("create wal height dir: %w", err))
	}

	data := MustEncode(txs)
	if err := os.WriteFile(w.fileFor(height, blockHash), data, 0o644); err != nil {
		return NewProtocolError(KindConsensus, fmt.Errorf("write wal file: %w", err))
	}
	return nil
}

// Load reads the committed tx list back.
func (w *SignedTxsWAL) Load(height uint64, blockHash Hash) ([]*SignedTransaction, error) {
	raw, err := os.ReadFile(w.fileFor(height, blockHash))
	if err != nil {
		return nil, NewProtocolError(KindConsensus, fmt.Errorf("read wal file: %w", err))
	}
	var txs []*SignedTransaction
	if err := Decode(raw, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// Remove prunes every height directory strictly below till.
func (w *SignedTxsWAL) Remove(till uint64) error {
	entries, err := os.ReadDir(w.path)
	if err != nil {
		return NewProtocolError(KindConsensus, fmt.Errorf("read wal dir: %w", err))
	}

	for _, entry := range entries {
		height, err := strconv.ParseUint(entry.Name(), 10, 64)
		if err != nil {
			logrus.Warnf("wal: skip foreign entry %s", entry.Name())
			continue
		}
		if height < till {
			if err := os.RemoveAll(filepath.Join(w.path, entry.Name())); err != nil {
				return NewProtocolError(KindConsensus, fmt.Errorf("prune wal height %d: %w", height, err))
			}
		}
	}
	return nil
}
