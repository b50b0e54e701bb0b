package core

// transactions.go – hashing, signing and verification of signed
// transactions. The tx hash is the Keccak-256 digest of the canonical RLP
// encoding of the raw transaction; the signature is a 65-byte secp256k1
// {R||S||V} recoverable signature over that hash.

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// HashRawTransaction digests the canonical encoding of a raw transaction.
func HashRawTransaction(raw *RawTransaction) Hash {
	return Digest(MustEncode(raw))
}

// NewSignedTransaction hashes and signs a raw transaction with the given
// private key. The sender field is overwritten with the address derived from
// the signing key so the invariant pubkey→sender holds by construction.
func NewSignedTransaction(raw RawTransaction, priv *ecdsa.PrivateKey) (*SignedTransaction, error) {
	if priv == nil {
		return nil, errors.New("nil privkey")
	}
	pubkey := crypto.CompressPubkey(&priv.PublicKey)
	raw.Sender = AddressFromPubKey(pubkey)

	txHash := HashRawTransaction(&raw)
	sig, err := crypto.Sign(txHash.Bytes(), priv) // 65-byte {R||S||V}
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	return &SignedTransaction{
		Raw:       raw,
		TxHash:    txHash,
		Pubkey:    pubkey,
		Signature: sig,
	}, nil
}

// VerifyTxHash recomputes the digest of the raw transaction and compares it
// against the carried tx hash.
func VerifyTxHash(tx *SignedTransaction) error {
	expect := HashRawTransaction(&tx.Raw)
	if expect != tx.TxHash {
		return fmt.Errorf("%w: expect %s got %s", ErrCheckHash, expect, tx.TxHash)
	}
	return nil
}

// VerifyTxSignature checks that the signature verifies the tx hash under the
// carried public key and that the public key derives the sender address.
func VerifyTxSignature(tx *SignedTransaction) error {
	if len(tx.Pubkey) == 0 || len(tx.Signature) < 64 {
		return fmt.Errorf("%w: missing or malformed credentials", ErrCheckSig)
	}

	// crypto.VerifySignature wants the 64-byte {R||S} form.
	if !crypto.VerifySignature(tx.Pubkey, tx.TxHash.Bytes(), tx.Signature[:64]) {
		return fmt.Errorf("%w: %s", ErrCheckSig, tx.TxHash)
	}

	if AddressFromPubKey(tx.Pubkey) != tx.Raw.Sender {
		return fmt.Errorf("%w: pubkey does not derive sender %s", ErrCheckSig, tx.Raw.Sender)
	}
	return nil
}

// CheckTransaction runs the full structural admission check: hash integrity
// first, then signature and sender derivation.
func CheckTransaction(tx *SignedTransaction) error {
	if err := VerifyTxHash(tx); err != nil {
		return err
	}
	return VerifyTxSignature(tx)
}

// ParsePrivateKey decodes a hex-encoded secp256k1 private key.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	priv, err := crypto.HexToECDSA(clean0x(hexKey))
	if err != nil {
		return nil, fmt.Errorf("parse privkey: %w", err)
	}
	return priv, nil
}

// PubKeyAddress reports the chain address of a private key.
func PubKeyAddress(priv *ecdsa.PrivateKey) Address {
	return AddressFromPubKey(crypto.CompressPubkey(&priv.PublicKey))
}
