package core

// metadata.go – built-in metadata service: the governed chain parameter set
// plus the admin account allowed to change it.

import (
	"encoding/json"
	"fmt"
)

// MetadataServiceName is the registered name of this service.
const MetadataServiceName = "metadata"

// Metadata service error codes.
const (
	CodeNonAuthorized uint64 = CodeServiceBase + 20 + iota
	CodeMissingMetadata
)

var (
	metadataKey = []byte("metadata")
	adminKey    = []byte("admin")
)

// UpdateMetadataPayload replaces the whole governed parameter set.
type UpdateMetadataPayload struct {
	VerifierList   []Validator `json:"verifier_list"`
	Interval       uint64      `json:"interval"`
	ProposeRatio   uint64      `json:"propose_ratio"`
	PrevoteRatio   uint64      `json:"prevote_ratio"`
	PrecommitRatio uint64      `json:"precommit_ratio"`
}

// UpdateValidatorsPayload replaces the verifier list only.
type UpdateValidatorsPayload struct {
	VerifierList []Validator `json:"verifier_list"`
}

// UpdateIntervalPayload replaces the consensus interval only.
type UpdateIntervalPayload struct {
	Interval uint64 `json:"interval"`
}

// UpdateRatioPayload replaces the consensus timing ratios.
type UpdateRatioPayload struct {
	ProposeRatio   uint64 `json:"propose_ratio"`
	PrevoteRatio   uint64 `json:"prevote_ratio"`
	PrecommitRatio uint64 `json:"precommit_ratio"`
}

// SetAdminPayload hands governance to another account.
type SetAdminPayload struct {
	Admin Address `json:"admin"`
}

// MetadataGenesisPayload seeds the metadata and the initial admin.
type MetadataGenesisPayload struct {
	Metadata Metadata `json:"metadata"`
	Admin    Address  `json:"admin"`
}

// MetadataService implements the metadata module.
type MetadataService struct {
	sdk    *ServiceSDK
	schema *ServiceSchema
}

// NewMetadataService constructs the service against its per-block SDK.
func NewMetadataService(sdk *ServiceSDK) (*MetadataService, error) {
	s := &MetadataService{sdk: sdk}

	schema := NewServiceSchema(MetadataServiceName)
	schema.Genesis(s.initGenesis)
	schema.Read("get_metadata", 21_000, Handler(s.getMetadata))
	schema.Read("get_admin", 21_000, Handler(s.getAdmin))
	schema.Write("update_metadata", 21_000, Handler(s.updateMetadata))
	schema.Write("update_validators", 21_000, Handler(s.updateValidators))
	schema.Write("update_interval", 21_000, Handler(s.updateInterval))
	schema.Write("update_ratio", 21_000, Handler(s.updateRatio))
	schema.Write("set_admin", 21_000, Handler(s.setAdmin))
	s.schema = schema
	return s, nil
}

// Schema implements Service.
func (s *MetadataService) Schema() *ServiceSchema { return s.schema }

func (s *MetadataService) initGenesis(payload JSONString) error {
	var genesis MetadataGenesisPayload
	if err := json.Unmarshal([]byte(payload), &genesis); err != nil {
		return fmt.Errorf("%w: %v", ErrJSONParse, err)
	}
	if err := s.storeMetadata(genesis.Metadata); err != nil {
		return err
	}
	s.sdk.SetValue(adminKey, genesis.Admin.Bytes())
	return nil
}

func (s *MetadataService) getMetadata(_ *ServiceContext, _ struct{}) (Metadata, error) {
	return s.loadMetadata()
}

func (s *MetadataService) getAdmin(_ *ServiceContext, _ struct{}) (Address, error) {
	return s.loadAdmin()
}

func (s *MetadataService) updateMetadata(ctx *ServiceContext, payload UpdateMetadataPayload) (struct{}, error) {
	if err := s.verifyAuthority(ctx.Caller()); err != nil {
		return struct{}{}, err
	}
	metadata, err := s.loadMetadata()
	if err != nil {
		return struct{}{}, err
	}

	metadata.VerifierList = payload.VerifierList
	metadata.Interval = payload.Interval
	metadata.ProposeRatio = payload.ProposeRatio
	metadata.PrevoteRatio = payload.PrevoteRatio
	metadata.PrecommitRatio = payload.PrecommitRatio

	if err := s.storeMetadata(metadata); err != nil {
		return struct{}{}, err
	}
	s.emitJSON(ctx, metadata)
	return struct{}{}, nil
}

func (s *MetadataService) updateValidators(ctx *ServiceContext, payload UpdateValidatorsPayload) (struct{}, error) {
	if err := s.verifyAuthority(ctx.Caller()); err != nil {
		return struct{}{}, err
	}
	metadata, err := s.loadMetadata()
	if err != nil {
		return struct{}{}, err
	}
	metadata.VerifierList = payload.VerifierList
	if err := s.storeMetadata(metadata); err != nil {
		return struct{}{}, err
	}
	s.emitJSON(ctx, payload)
	return struct{}{}, nil
}

func (s *MetadataService) updateInterval(ctx *ServiceContext, payload UpdateIntervalPayload) (struct{}, error) {
	if err := s.verifyAuthority(ctx.Caller()); err != nil {
		return struct{}{}, err
	}
	metadata, err := s.loadMetadata()
	if err != nil {
		return struct{}{}, err
	}
	metadata.Interval = payload.Interval
	if err := s.storeMetadata(metadata); err != nil {
		return struct{}{}, err
	}
	s.emitJSON(ctx, payload)
	return struct{}{}, nil
}

func (s *MetadataService) updateRatio(ctx *ServiceContext, payload UpdateRatioPayload) (struct{}, error) {
	if err := s.verifyAuthority(ctx.Caller()); err != nil {
		return struct{}{}, err
	}
	metadata, err := s.loadMetadata()
	if err != nil {
		return struct{}{}, err
	}
	metadata.ProposeRatio = payload.ProposeRatio
	metadata.PrevoteRatio = payload.PrevoteRatio
	metadata.PrecommitRatio = payload.PrecommitRatio
	if err := s.storeMetadata(metadata); err != nil {
		return struct{}{}, err
	}
	s.emitJSON(ctx, payload)
	return struct{}{}, nil
}

func (s *MetadataService) setAdmin(ctx *ServiceContext, payload SetAdminPayload) (struct{}, error) {
	if err := s.verifyAuthority(ctx.Caller()); err != nil {
		return struct{}{}, err
	}
	s.sdk.SetValue(adminKey, payload.Admin.Bytes())
	s.emitJSON(ctx, payload)
	return struct{}{}, nil
}

func (s *MetadataService) verifyAuthority(caller Address) error {
	admin, err := s.loadAdmin()
	if err != nil {
		return err
	}
	if caller != admin {
		return &ServiceError{Code: CodeNonAuthorized, Message: fmt.Sprintf("caller %s is not admin", caller)}
	}
	return nil
}

func (s *MetadataService) loadMetadata() (Metadata, error) {
	raw, err := s.sdk.GetValue(metadataKey)
	if err != nil {
		return Metadata{}, err
	}
	if raw == nil {
		return Metadata{}, &ServiceError{Code: CodeMissingMetadata, Message: "metadata should always be in the genesis block"}
	}
	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrJSONParse, err)
	}
	return metadata, nil
}

func (s *MetadataService) storeMetadata(metadata Metadata) error {
	raw, err := json.Marshal(&metadata)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJSONParse, err)
	}
	s.sdk.SetValue(metadataKey, raw)
	return nil
}

func (s *MetadataService) loadAdmin() (Address, error) {
	raw, err := s.sdk.GetValue(adminKey)
	if err != nil {
		return Address{}, err
	}
	if raw == nil {
		return Address{}, &ServiceError{Code: CodeMissingMetadata, Message: "admin should not be none"}
	}
	return AddressFromBytes(raw)
}

func (s *MetadataService) emitJSON(ctx *ServiceContext, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx.EmitEvent(string(raw))
}
