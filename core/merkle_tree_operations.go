package core

import (
	"errors"
)

// BuildMerkleTree returns the level-by-level nodes of a Merkle tree built
// from the provided leaves. Each leaf is hashed with Keccak-256. The last
// slice contains the single root hash. Odd levels duplicate their final
// node.
func BuildMerkleTree(leaves [][]byte) ([][]Hash, error) {
	if len(leaves) == 0 {
		return nil, errors.New("no leaves")
	}

	// first level: hashed leaves
	level := make([]Hash, len(leaves))
	for i, l := range leaves {
		level[i] = Digest(l)
	}

	tree := [][]Hash{level}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = Digest(append(level[i][:], level[i+1][:]...))
		}
		tree = append(tree, next)
		level = next
	}

	return tree, nil
}

// MerkleRootOfHashes computes the root over an ordered hash list. The empty
// list maps to the canonical empty hash so that blocks without transactions
// still carry a well-defined order root.
func MerkleRootOfHashes(hashes []Hash) MerkleRoot {
	if len(hashes) == 0 {
		return EmptyHash()
	}
	leaves := make([][]byte, len(hashes))
	for i, h := range hashes {
		leaves[i] = h.Bytes()
	}
	tree, _ := BuildMerkleTree(leaves)
	return tree[len(tree)-1][0]
}

// MerkleRootOfReceipts computes the receipt root over the canonical receipt
// encodings.
func MerkleRootOfReceipts(receipts []*Receipt) MerkleRoot {
	if len(receipts) == 0 {
		return EmptyHash()
	}
	leaves := make([][]byte, len(receipts))
	for i, r := range receipts {
		leaves[i] = MustEncode(r)
	}
	tree, _ := BuildMerkleTree(leaves)
	return tree[len(tree)-1][0]
}

// MerkleProof returns a Merkle proof for the leaf at the given index along
// with the tree's root hash. The proof slice is ordered from leaf level
// upwards.
func MerkleProof(leaves [][]byte, index uint32) ([][]byte, Hash, error) {
	if int(index) >= len(leaves) {
		return nil, Hash{}, errors.New("index out of range")
	}

	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return nil, Hash{}, err
	}

	proof := make([][]byte, 0, len(tree)-1)
	idx := int(index)
	for i := 0; i < len(tree)-1; i++ {
		level := tree[i]
		sibling := idx ^ 1
		if sibling >= len(level) {
			sibling = idx
		}
		proof = append(proof, level[sibling].Bytes())
		idx /= 2
	}
	return proof, tree[len(tree)-1][0], nil
}

// VerifyMerkleProof checks a proof produced by MerkleProof.
func VerifyMerkleProof(leaf []byte, index uint32, proof [][]byte, root Hash) bool {
	acc := Digest(leaf)
	idx := int(index)
	for _, sib := range proof {
		if idx%2 == 0 {
			acc = Digest(append(acc.Bytes(), sib...))
		} else {
			acc = Digest(append(append([]byte{}, sib...), acc.Bytes()...))
		}
		idx /= 2
	}
	return acc == root
}
