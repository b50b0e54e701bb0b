package core

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func signedTestTx(t *testing.T) *SignedTransaction {
	t.Helper()
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	raw := RawTransaction{
		ChainID:     Digest([]byte("chain")),
		Nonce:       Digest([]byte("nonce")),
		Timeout:     100,
		CyclesPrice: 1,
		CyclesLimit: 10_000,
		Request: TransactionRequest{
			ServiceName: AssetServiceName,
			Method:      "transfer",
			Payload:     `{"value":1}`,
		},
	}
	tx, err := NewSignedTransaction(raw, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func TestSignAndVerify(t *testing.T) {
	tx := signedTestTx(t)

	if err := CheckTransaction(tx); err != nil {
		t.Fatalf("check: %v", err)
	}
	if tx.Raw.Sender != AddressFromPubKey(tx.Pubkey) {
		t.Fatal("sender not derived from pubkey")
	}
	if tx.TxHash != HashRawTransaction(&tx.Raw) {
		t.Fatal("tx hash is not the digest of the raw encoding")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tx *SignedTransaction)
		want   error
	}{
		{"RaisedCycles", func(tx *SignedTransaction) { tx.Raw.CyclesLimit++ }, ErrCheckHash},
		{"SwappedHash", func(tx *SignedTransaction) { tx.TxHash = Digest([]byte("other")) }, ErrCheckHash},
		{"BrokenSig", func(tx *SignedTransaction) { tx.Signature[0] ^= 0xFF }, ErrCheckSig},
		{"ForeignSender", func(tx *SignedTransaction) {
			tx.Raw.Sender = Address{0xEE}
			tx.TxHash = HashRawTransaction(&tx.Raw)
		}, ErrCheckSig},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tx := signedTestTx(t)
			tc.mutate(tx)
			err := CheckTransaction(tx)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEmptyHashValue(t *testing.T) {
	// digest of the canonical empty RLP marker, shared with the empty trie
	want := "0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421"
	if EmptyHash().Hex() != want {
		t.Fatalf("empty hash = %s, want %s", EmptyHash().Hex(), want)
	}
}

func TestHashHexRoundTrip(t *testing.T) {
	h := Digest([]byte("round-trip"))
	parsed, err := HashFromHex(h.Hex())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != h {
		t.Fatalf("round trip lost: %s vs %s", parsed, h)
	}

	// 0x prefix is optional
	parsed, err = HashFromHex(h.Hex()[2:])
	if err != nil || parsed != h {
		t.Fatalf("unprefixed parse: %v", err)
	}
}

func TestAddressDerivation(t *testing.T) {
	h := Digest([]byte("some-pubkey"))
	addr := AddressFromHash(h)
	for i := 0; i < AddressLen; i++ {
		if addr[i] != h[i] {
			t.Fatalf("address is not the truncated digest at byte %d", i)
		}
	}
}
