package core

import (
	"errors"
	"fmt"
)

// ErrorKind partitions protocol failures by the subsystem that raised them
// and, implicitly, by blast radius: mempool and service errors stay local to
// one transaction, storage and executor errors abort the current block, and
// system errors terminate the process.
type ErrorKind uint8

const (
	KindMempool ErrorKind = iota
	KindStorage
	KindBinding
	KindService
	KindExecutor
	KindConsensus
	KindNetwork
	KindSystem
)

func (k ErrorKind) String() string {
	switch k {
	case KindMempool:
		return "mempool"
	case KindStorage:
		return "storage"
	case KindBinding:
		return "binding"
	case KindService:
		return "service"
	case KindExecutor:
		return "executor"
	case KindConsensus:
		return "consensus"
	case KindNetwork:
		return "network"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// ProtocolError is the single error type that crosses subsystem boundaries.
// The kind discriminator decides retry/abort policy at the driver.
type ProtocolError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("[protocol:%s] %v", e.Kind, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError wraps err with a subsystem kind.
func NewProtocolError(kind ErrorKind, err error) *ProtocolError {
	return &ProtocolError{Kind: kind, Err: err}
}

// ErrorKindOf reports the kind of a wrapped protocol error; service-kind is
// assumed for plain errors raised inside service bodies.
func ErrorKindOf(err error) ErrorKind {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindService
}

//---------------------------------------------------------------------
// Admission (mempool)
//---------------------------------------------------------------------

var (
	// ErrReachLimit rejects admission once the pool holds pool_size entries.
	ErrReachLimit = errors.New("mempool reaches limit")
	// ErrDup rejects a transaction already present in the pool.
	ErrDup = errors.New("tx exists in pool")
	// ErrCheckSig rejects a transaction whose signature does not verify.
	ErrCheckSig = errors.New("tx check_sig failed")
	// ErrCheckHash rejects a transaction whose hash does not match its raw encoding.
	ErrCheckHash = errors.New("tx check_hash failed")
	// ErrInsertCandidate reports a failed order-queue insertion.
	ErrInsertCandidate = errors.New("tx inserts candidate queue failed")
	// ErrTxPersisted rejects replay of an already finalised transaction.
	ErrTxPersisted = errors.New("tx already persisted")
	// ErrTimeout rejects a transaction whose timeout is out of range.
	ErrTimeout = errors.New("tx timeout out of range")
)

//---------------------------------------------------------------------
// Reconciliation
//---------------------------------------------------------------------

var (
	// ErrEnsureBreak reports a pull RPC whose response count differs from
	// the request count. Retried by the driver.
	ErrEnsureBreak = errors.New("pull txs count mismatch")
	// ErrMisMatch reports a missing transaction after reconciliation.
	// Fatal to the current block.
	ErrMisMatch = errors.New("fetch full txs count mismatch")
)

//---------------------------------------------------------------------
// Execution
//---------------------------------------------------------------------

var (
	ErrOutOfCycles       = errors.New("out of cycles")
	ErrNotFoundMethod    = errors.New("method not found")
	ErrNotFoundService   = errors.New("service not found")
	ErrJSONParse         = errors.New("parsing payload to json failed")
	ErrReadonlyViolation = errors.New("write call inside read context")
	ErrCallStackExceeded = errors.New("service call stack exceeded")
	ErrOverflow          = errors.New("u64 overflow")
)

//---------------------------------------------------------------------
// State / storage
//---------------------------------------------------------------------

var (
	ErrCategoryNotFound    = errors.New("storage category not found")
	ErrBatchLengthMismatch = errors.New("batch length dont match")
	ErrNotFound            = errors.New("not found")
	ErrStoreOutRange       = errors.New("array index out of range")
	ErrStoreGetNone        = errors.New("missing map key")
)
