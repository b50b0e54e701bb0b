package core

import (
	"fmt"
	"testing"
)

func TestMerkleRootOfHashes(t *testing.T) {
	var hashes []Hash
	for i := 0; i < 7; i++ {
		hashes = append(hashes, Digest([]byte(fmt.Sprintf("leaf-%d", i))))
	}

	root1 := MerkleRootOfHashes(hashes)
	root2 := MerkleRootOfHashes(hashes)
	if root1 != root2 {
		t.Fatal("root not deterministic")
	}

	reordered := append([]Hash{hashes[1], hashes[0]}, hashes[2:]...)
	if MerkleRootOfHashes(reordered) == root1 {
		t.Fatal("root insensitive to leaf order")
	}

	if MerkleRootOfHashes(nil) != EmptyHash() {
		t.Fatal("empty list root is not the canonical empty hash")
	}
}

func TestMerkleProofVerify(t *testing.T) {
	leaves := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e")}

	for i := range leaves {
		proof, root, err := MerkleProof(leaves, uint32(i))
		if err != nil {
			t.Fatalf("proof %d: %v", i, err)
		}
		if !VerifyMerkleProof(leaves[i], uint32(i), proof, root) {
			t.Fatalf("proof %d does not verify", i)
		}
		if VerifyMerkleProof([]byte("forged"), uint32(i), proof, root) {
			t.Fatalf("forged leaf %d verifies", i)
		}
	}
}

func TestMerkleProofOutOfRange(t *testing.T) {
	if _, _, err := MerkleProof([][]byte{[]byte("a")}, 5); err == nil {
		t.Fatal("out-of-range index accepted")
	}
}
