package core

// trie.go – Merkle-Patricia trie over a TrieDB node store. Keys are split
// into hex nibbles with a terminator marker; node bodies are RLP lists and
// node identity is the Keccak-256 digest of the body. Encodings shorter than
// 32 bytes are embedded in their parent instead of being stored, matching
// the canonical MPT rules.

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

type trieNode interface{}

type (
	// branchNode has one child per nibble plus the value slot at index 16.
	branchNode struct {
		children [17]trieNode
	}

	// shortNode covers both extensions (val is a child reference) and
	// leaves (key carries the terminator, val is a valueNode).
	shortNode struct {
		key []byte // hex nibbles, possibly terminated
		val trieNode
	}

	hashNode  []byte
	valueNode []byte
)

func (n *branchNode) copy() *branchNode {
	cp := *n
	return &cp
}

// MPTTrie is a single-writer view over one state root.
type MPTTrie struct {
	db   *TrieDB
	root trieNode
}

// NewMPTTrie opens an empty trie.
func NewMPTTrie(db *TrieDB) *MPTTrie {
	return &MPTTrie{db: db}
}

// NewMPTTrieFromRoot opens the trie rooted at root. The empty hash denotes
// the empty trie.
func NewMPTTrieFromRoot(root Hash, db *TrieDB) (*MPTTrie, error) {
	if root == EmptyHash() || root.IsZero() {
		return &MPTTrie{db: db}, nil
	}
	enc, err := db.Get(root.Bytes())
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, NewProtocolError(KindBinding, fmt.Errorf("state root %s not found", root))
	}
	return &MPTTrie{db: db, root: hashNode(root.Bytes())}, nil
}

// Get returns the value stored under key, or nil.
func (t *MPTTrie) Get(key []byte) ([]byte, error) {
	val, err := t.get(t.root, keybytesToHex(key))
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (t *MPTTrie) get(n trieNode, key []byte) ([]byte, error) {
	switch n := n.(type) {
	case nil:
		return nil, nil
	case valueNode:
		return n, nil
	case *shortNode:
		if len(key) < len(n.key) || !bytes.Equal(n.key, key[:len(n.key)]) {
			return nil, nil
		}
		return t.get(n.val, key[len(n.key):])
	case *branchNode:
		if len(key) == 0 {
			return t.get(n.children[16], key)
		}
		return t.get(n.children[key[0]], key[1:])
	case hashNode:
		resolved, err := t.resolve(n)
		if err != nil {
			return nil, err
		}
		return t.get(resolved, key)
	default:
		return nil, NewProtocolError(KindBinding, fmt.Errorf("invalid trie node %T", n))
	}
}

// Insert stages key→value in the in-memory tree; nothing reaches the node
// store until Commit.
func (t *MPTTrie) Insert(key, value []byte) error {
	newRoot, err := t.insert(t.root, keybytesToHex(key), valueNode(value))
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *MPTTrie) insert(n trieNode, key []byte, value trieNode) (trieNode, error) {
	if len(key) == 0 {
		return value, nil
	}

	switch n := n.(type) {
	case nil:
		return &shortNode{key: key, val: value}, nil

	case *shortNode:
		matchlen := prefixLen(key, n.key)
		if matchlen == len(n.key) {
			nn, err := t.insert(n.val, key[matchlen:], value)
			if err != nil {
				return nil, err
			}
			return &shortNode{key: n.key, val: nn}, nil
		}

		branch := &branchNode{}
		var err error
		branch.children[n.key[matchlen]], err = t.insert(nil, n.key[matchlen+1:], n.val)
		if err != nil {
			return nil, err
		}
		branch.children[key[matchlen]], err = t.insert(nil, key[matchlen+1:], value)
		if err != nil {
			return nil, err
		}

		if matchlen == 0 {
			return branch, nil
		}
		return &shortNode{key: key[:matchlen], val: branch}, nil

	case *branchNode:
		nn, err := t.insert(n.children[key[0]], key[1:], value)
		if err != nil {
			return nil, err
		}
		cp := n.copy()
		cp.children[key[0]] = nn
		return cp, nil

	case hashNode:
		resolved, err := t.resolve(n)
		if err != nil {
			return nil, err
		}
		return t.insert(resolved, key, value)

	default:
		return nil, NewProtocolError(KindBinding, fmt.Errorf("invalid trie node %T", n))
	}
}

// Commit folds the staged tree into node encodings, persists every node of
// at least 32 encoded bytes (plus the root) and returns the new root hash.
func (t *MPTTrie) Commit() (Hash, error) {
	if t.root == nil {
		return EmptyHash(), nil
	}
	if hn, ok := t.root.(hashNode); ok {
		root, err := HashFromBytes(hn)
		if err != nil {
			return Hash{}, err
		}
		return root, nil
	}

	var keys, vals [][]byte
	_, enc, err := t.fold(t.root, &keys, &vals)
	if err != nil {
		return Hash{}, err
	}

	root := Digest(enc)
	keys = append(keys, root.Bytes())
	vals = append(vals, enc)

	if err := t.db.InsertBatch(keys, vals); err != nil {
		return Hash{}, err
	}
	t.db.Flush()

	t.root = hashNode(root.Bytes())
	return root, nil
}

// fold returns the reference a parent embeds for n (raw RLP if short, hash
// string otherwise) together with n's full encoding.
func (t *MPTTrie) fold(n trieNode, keys, vals *[][]byte) (interface{}, []byte, error) {
	switch n := n.(type) {
	case nil:
		return []byte{}, nil, nil
	case hashNode:
		return []byte(n), nil, nil
	case valueNode:
		return []byte(n), nil, nil

	case *shortNode:
		childRef, _, err := t.fold(n.val, keys, vals)
		if err != nil {
			return nil, nil, err
		}
		enc, err := rlp.EncodeToBytes([]interface{}{hexToCompact(n.key), childRef})
		if err != nil {
			return nil, nil, NewProtocolError(KindBinding, fmt.Errorf("encode short node: %w", err))
		}
		return t.refFor(enc, keys, vals), enc, nil

	case *branchNode:
		items := make([]interface{}, 17)
		for i := 0; i < 16; i++ {
			ref, _, err := t.fold(n.children[i], keys, vals)
			if err != nil {
				return nil, nil, err
			}
			items[i] = ref
		}
		if v, ok := n.children[16].(valueNode); ok {
			items[16] = []byte(v)
		} else {
			items[16] = []byte{}
		}
		enc, err := rlp.EncodeToBytes(items)
		if err != nil {
			return nil, nil, NewProtocolError(KindBinding, fmt.Errorf("encode branch node: %w", err))
		}
		return t.refFor(enc, keys, vals), enc, nil

	default:
		return nil, nil, NewProtocolError(KindBinding, fmt.Errorf("invalid trie node %T", n))
	}
}

// refFor embeds encodings under 32 bytes verbatim and hashes the rest,
// scheduling hashed nodes for the commit batch.
func (t *MPTTrie) refFor(enc []byte, keys, vals *[][]byte) interface{} {
	if len(enc) < HashLen {
		return rlp.RawValue(enc)
	}
	h := Digest(enc)
	*keys = append(*keys, h.Bytes())
	*vals = append(*vals, enc)
	return h.Bytes()
}

func (t *MPTTrie) resolve(n hashNode) (trieNode, error) {
	enc, err := t.db.Get([]byte(n))
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, NewProtocolError(KindBinding, fmt.Errorf("missing trie node %x", []byte(n)))
	}
	return decodeTrieNode(enc)
}

//---------------------------------------------------------------------
// Node decoding
//---------------------------------------------------------------------

func decodeTrieNode(buf []byte) (trieNode, error) {
	elems, _, err := rlp.SplitList(buf)
	if err != nil {
		return nil, NewProtocolError(KindBinding, fmt.Errorf("decode trie node: %w", err))
	}
	count, err := rlp.CountValues(elems)
	if err != nil {
		return nil, NewProtocolError(KindBinding, fmt.Errorf("decode trie node: %w", err))
	}

	switch count {
	case 2:
		return decodeShort(elems)
	case 17:
		return decodeBranch(elems)
	default:
		return nil, NewProtocolError(KindBinding, fmt.Errorf("invalid trie node list size %d", count))
	}
}

func decodeShort(elems []byte) (trieNode, error) {
	kbuf, rest, err := rlp.SplitString(elems)
	if err != nil {
		return nil, NewProtocolError(KindBinding, fmt.Errorf("decode short key: %w", err))
	}
	key := compactToHex(kbuf)

	if hasTerm(key) {
		// leaf: the second element is the value string
		val, _, err := rlp.SplitString(rest)
		if err != nil {
			return nil, NewProtocolError(KindBinding, fmt.Errorf("decode leaf value: %w", err))
		}
		return &shortNode{key: key, val: valueNode(val)}, nil
	}

	child, _, err := decodeRef(rest)
	if err != nil {
		return nil, err
	}
	return &shortNode{key: key, val: child}, nil
}

func decodeBranch(elems []byte) (trieNode, error) {
	branch := &branchNode{}
	rest := elems
	for i := 0; i < 16; i++ {
		child, after, err := decodeRef(rest)
		if err != nil {
			return nil, NewProtocolError(KindBinding, fmt.Errorf("decode branch child %d: %w", i, err))
		}
		branch.children[i] = child
		rest = after
	}
	val, _, err := rlp.SplitString(rest)
	if err != nil {
		return nil, NewProtocolError(KindBinding, fmt.Errorf("decode branch value: %w", err))
	}
	if len(val) > 0 {
		branch.children[16] = valueNode(val)
	}
	return branch, nil
}

func decodeRef(buf []byte) (trieNode, []byte, error) {
	kind, val, rest, err := rlp.Split(buf)
	if err != nil {
		return nil, nil, NewProtocolError(KindBinding, fmt.Errorf("decode node ref: %w", err))
	}
	switch {
	case kind == rlp.List:
		// embedded node shorter than 32 bytes
		n, err := decodeTrieNode(buf[:len(buf)-len(rest)])
		return n, rest, err
	case len(val) == 0:
		return nil, rest, nil
	case len(val) == HashLen:
		return hashNode(val), rest, nil
	default:
		return nil, nil, NewProtocolError(KindBinding, fmt.Errorf("invalid node ref of length %d", len(val)))
	}
}

//---------------------------------------------------------------------
// Key encoding helpers
//---------------------------------------------------------------------

// keybytesToHex splits key bytes into nibbles and appends the terminator.
func keybytesToHex(str []byte) []byte {
	l := len(str)*2 + 1
	nibbles := make([]byte, l)
	for i, b := range str {
		nibbles[i*2] = b / 16
		nibbles[i*2+1] = b % 16
	}
	nibbles[l-1] = 16
	return nibbles
}

// hexToCompact packs hex nibbles into the compact (hex-prefix) encoding.
func hexToCompact(hex []byte) []byte {
	terminator := byte(0)
	if hasTerm(hex) {
		terminator = 1
		hex = hex[:len(hex)-1]
	}
	buf := make([]byte, len(hex)/2+1)
	buf[0] = terminator << 5
	if len(hex)&1 == 1 {
		buf[0] |= 1 << 4
		buf[0] |= hex[0]
		hex = hex[1:]
	}
	decodeNibbles(hex, buf[1:])
	return buf
}

// compactToHex reverses hexToCompact.
func compactToHex(compact []byte) []byte {
	if len(compact) == 0 {
		return compact
	}
	base := keybytesToHex(compact)
	if base[0] < 2 {
		base = base[:len(base)-1]
	}
	chop := 2 - base[0]&1
	return base[chop:]
}

func decodeNibbles(nibbles []byte, bytes []byte) {
	for bi, ni := 0, 0; ni < len(nibbles); bi, ni = bi+1, ni+2 {
		bytes[bi] = nibbles[ni]<<4 | nibbles[ni+1]
	}
}

func prefixLen(a, b []byte) int {
	i := 0
	for ; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			break
		}
	}
	return i
}

func hasTerm(s []byte) bool {
	return len(s) > 0 && s[len(s)-1] == 16
}
