package core

// multisig.go – built-in multi-signature account service. An account is a
// weighted owner set with a threshold; permission holds when the weights of
// the approving owners reach the threshold.

import (
	"encoding/json"
	"fmt"
)

// MultiSigServiceName is the registered name of this service.
const MultiSigServiceName = "multi_signature"

// Multi-signature service error codes.
const (
	CodeBadAccountSpec uint64 = CodeServiceBase + 60 + iota
	CodeNotFoundAccount
	CodeBelowThreshold
)

// AccountOwner is one weighted member of a multi-signature account.
type AccountOwner struct {
	Address Address `json:"address"`
	Weight  uint32  `json:"weight"`
}

// MultiSigAccount is the stored account record.
type MultiSigAccount struct {
	Address   Address        `json:"address"`
	Owners    []AccountOwner `json:"owners"`
	Threshold uint32         `json:"threshold"`
	Memo      string         `json:"memo,omitempty"`
}

// GenerateAccountPayload creates a new multi-signature account.
type GenerateAccountPayload struct {
	Owners    []AccountOwner `json:"owners"`
	Threshold uint32         `json:"threshold"`
	Memo      string         `json:"memo,omitempty"`
}

// GetAccountPayload queries an account record.
type GetAccountPayload struct {
	Address Address `json:"address"`
}

// VerifyPermissionPayload checks whether the approving owners carry enough
// weight for the named account.
type VerifyPermissionPayload struct {
	Address   Address   `json:"address"`
	Approvers []Address `json:"approvers"`
}

// VerifyPermissionResponse reports the aggregated weight decision.
type VerifyPermissionResponse struct {
	IsOK   bool   `json:"is_ok"`
	Weight uint32 `json:"weight"`
}

// MultiSigService implements the multi-signature account module.
type MultiSigService struct {
	sdk      *ServiceSDK
	accounts *StoreMap[Address, MultiSigAccount]
	schema   *ServiceSchema
}

// NewMultiSigService constructs the service against its per-block SDK.
func NewMultiSigService(sdk *ServiceSDK) (*MultiSigService, error) {
	accounts, err := AllocOrRecoverMap[Address, MultiSigAccount](sdk, "accounts")
	if err != nil {
		return nil, err
	}

	s := &MultiSigService{sdk: sdk, accounts: accounts}

	schema := NewServiceSchema(MultiSigServiceName)
	schema.Write("generate_account", 21_000, Handler(s.generateAccount))
	schema.Read("get_account", 10_000, Handler(s.getAccount))
	schema.Read("verify_permission", 10_000, Handler(s.verifyPermission))
	s.schema = schema
	return s, nil
}

// Schema implements Service.
func (s *MultiSigService) Schema() *ServiceSchema { return s.schema }

func (s *MultiSigService) generateAccount(ctx *ServiceContext, payload GenerateAccountPayload) (MultiSigAccount, error) {
	if len(payload.Owners) == 0 || payload.Threshold == 0 {
		return MultiSigAccount{}, &ServiceError{Code: CodeBadAccountSpec, Message: "owners and threshold are required"}
	}

	var totalWeight uint32
	for _, owner := range payload.Owners {
		totalWeight += owner.Weight
	}
	if totalWeight < payload.Threshold {
		return MultiSigAccount{}, &ServiceError{
			Code:    CodeBadAccountSpec,
			Message: fmt.Sprintf("total weight %d below threshold %d", totalWeight, payload.Threshold),
		}
	}

	// The account address is derived from the creation payload and the
	// caller, so identical specs from different callers stay distinct.
	raw, err := json.Marshal(&payload)
	if err != nil {
		return MultiSigAccount{}, fmt.Errorf("%w: %v", ErrJSONParse, err)
	}
	addr := AddressFromHash(Digest(append(raw, ctx.Caller().Bytes()...)))

	account := MultiSigAccount{
		Address:   addr,
		Owners:    payload.Owners,
		Threshold: payload.Threshold,
		Memo:      payload.Memo,
	}
	if err := s.accounts.Insert(addr, account); err != nil {
		return MultiSigAccount{}, err
	}
	return account, nil
}

func (s *MultiSigService) getAccount(_ *ServiceContext, payload GetAccountPayload) (MultiSigAccount, error) {
	if !s.accounts.Contains(payload.Address) {
		return MultiSigAccount{}, &ServiceError{Code: CodeNotFoundAccount, Message: fmt.Sprintf("not found account %s", payload.Address)}
	}
	return s.accounts.Get(payload.Address)
}

func (s *MultiSigService) verifyPermission(_ *ServiceContext, payload VerifyPermissionPayload) (VerifyPermissionResponse, error) {
	if !s.accounts.Contains(payload.Address) {
		return VerifyPermissionResponse{}, &ServiceError{Code: CodeNotFoundAccount, Message: fmt.Sprintf("not found account %s", payload.Address)}
	}
	account, err := s.accounts.Get(payload.Address)
	if err != nil {
		return VerifyPermissionResponse{}, err
	}

	seen := make(map[Address]bool, len(payload.Approvers))
	var weight uint32
	for _, approver := range payload.Approvers {
		if seen[approver] {
			continue
		}
		seen[approver] = true
		for _, owner := range account.Owners {
			if owner.Address == approver {
				weight += owner.Weight
				break
			}
		}
	}

	return VerifyPermissionResponse{
		IsOK:   weight >= account.Threshold,
		Weight: weight,
	}, nil
}
