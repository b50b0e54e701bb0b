package core

// util_service.go – built-in utility crypto service: Keccak-256 digests and
// secp256k1 signature verification exposed as read methods.

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// UtilServiceName is the registered name of this service.
const UtilServiceName = "util"

// Util service error codes.
const (
	CodeBadHex uint64 = CodeServiceBase + 40 + iota
	CodeBadSignature
)

// KeccakPayload carries the hex bytes to digest.
type KeccakPayload struct {
	HexStr string `json:"hex_str"`
}

// KeccakResponse carries the digest.
type KeccakResponse struct {
	Result Hash `json:"result"`
}

// SigVerifyPayload carries a digest, a signature and a public key.
type SigVerifyPayload struct {
	Hash   Hash   `json:"hash"`
	Sig    string `json:"sig"`
	PubKey string `json:"pub_key"`
}

// SigVerifyResponse reports the verification outcome.
type SigVerifyResponse struct {
	IsOK bool `json:"is_ok"`
}

// UtilService implements the util module.
type UtilService struct {
	schema *ServiceSchema
}

// NewUtilService constructs the service. The SDK is unused: util is pure
// computation, but it keeps the uniform constructor shape.
func NewUtilService(_ *ServiceSDK) (*UtilService, error) {
	s := &UtilService{}

	schema := NewServiceSchema(UtilServiceName)
	schema.Read("keccak256", 10_000, Handler(s.keccak256))
	schema.Read("verify", 10_000, Handler(s.verify))
	s.schema = schema
	return s, nil
}

// Schema implements Service.
func (s *UtilService) Schema() *ServiceSchema { return s.schema }

func (s *UtilService) keccak256(_ *ServiceContext, payload KeccakPayload) (KeccakResponse, error) {
	data, err := hex.DecodeString(clean0x(payload.HexStr))
	if err != nil {
		return KeccakResponse{}, &ServiceError{Code: CodeBadHex, Message: fmt.Sprintf("bad hex input: %v", err)}
	}
	return KeccakResponse{Result: Digest(data)}, nil
}

func (s *UtilService) verify(_ *ServiceContext, payload SigVerifyPayload) (SigVerifyResponse, error) {
	sig, err := hex.DecodeString(clean0x(payload.Sig))
	if err != nil {
		return SigVerifyResponse{}, &ServiceError{Code: CodeBadHex, Message: fmt.Sprintf("bad sig hex: %v", err)}
	}
	pubkey, err := hex.DecodeString(clean0x(payload.PubKey))
	if err != nil {
		return SigVerifyResponse{}, &ServiceError{Code: CodeBadHex, Message: fmt.Sprintf("bad pubkey hex: %v", err)}
	}
	if len(sig) < 64 {
		return SigVerifyResponse{}, &ServiceError{Code: CodeBadSignature, Message: "signature too short"}
	}

	return SigVerifyResponse{
		IsOK: crypto.VerifySignature(pubkey, payload.Hash.Bytes(), sig[:64]),
	}, nil
}
