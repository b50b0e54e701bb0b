package core

// asset.go – built-in asset service: issuance, balances, transfers and
// allowances. Balances are account-scoped values keyed by asset id; the
// asset registry is a typed map owned by the service.

import (
	"encoding/json"
	"fmt"
)

// AssetServiceName is the registered name of this service.
const AssetServiceName = "asset"

// Asset service error codes.
const (
	CodeAssetExists uint64 = CodeServiceBase + iota + 1
	CodeNotFoundAsset
	CodeLackOfBalance
	CodeAssetOverflow
	CodeLackOfAllowance
)

// Asset describes one issued asset.
type Asset struct {
	ID     Hash    `json:"id"`
	Name   string  `json:"name"`
	Symbol string  `json:"symbol"`
	Supply uint64  `json:"supply"`
	Issuer Address `json:"issuer"`
}

// AssetBalance is the per-account record for one asset: the held value and
// the caps granted to other accounts.
type AssetBalance struct {
	Value     uint64             `json:"value"`
	Allowance map[Address]uint64 `json:"allowance,omitempty"`
}

// InitGenesisPayload seeds the native asset.
type InitGenesisPayload struct {
	ID     Hash    `json:"id"`
	Name   string  `json:"name"`
	Symbol string  `json:"symbol"`
	Supply uint64  `json:"supply"`
	Issuer Address `json:"issuer"`
}

// CreateAssetPayload issues a new asset owned by the caller.
type CreateAssetPayload struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Supply uint64 `json:"supply"`
}

// GetAssetPayload queries the registry.
type GetAssetPayload struct {
	ID Hash `json:"id"`
}

// GetBalancePayload queries a balance. A zero user falls back to the caller.
type GetBalancePayload struct {
	AssetID Hash    `json:"asset_id"`
	User    Address `json:"user,omitempty"`
}

// GetBalanceResponse answers a balance query.
type GetBalanceResponse struct {
	AssetID Hash    `json:"asset_id"`
	User    Address `json:"user"`
	Balance uint64  `json:"balance"`
}

// TransferPayload moves value from the caller to another account.
type TransferPayload struct {
	AssetID Hash    `json:"asset_id"`
	To      Address `json:"to"`
	Value   uint64  `json:"value"`
}

// TransferEvent is emitted on every successful transfer.
type TransferEvent struct {
	AssetID Hash    `json:"asset_id"`
	From    Address `json:"from"`
	To      Address `json:"to"`
	Value   uint64  `json:"value"`
}

// ApprovePayload grants a spending cap to another account.
type ApprovePayload = TransferPayload

// TransferFromPayload spends a previously granted cap.
type TransferFromPayload struct {
	AssetID   Hash    `json:"asset_id"`
	Sender    Address `json:"sender"`
	Recipient Address `json:"recipient"`
	Value     uint64  `json:"value"`
}

// GetAllowancePayload queries a grantor→grantee cap.
type GetAllowancePayload struct {
	AssetID Hash    `json:"asset_id"`
	Grantor Address `json:"grantor"`
	Grantee Address `json:"grantee"`
}

// GetAllowanceResponse answers an allowance query.
type GetAllowanceResponse struct {
	AssetID Hash    `json:"asset_id"`
	Grantor Address `json:"grantor"`
	Grantee Address `json:"grantee"`
	Value   uint64  `json:"value"`
}

// AssetService implements the asset module.
type AssetService struct {
	sdk    *ServiceSDK
	assets *StoreMap[Hash, Asset]
	schema *ServiceSchema
}

// NewAssetService constructs the service against its per-block SDK.
func NewAssetService(sdk *ServiceSDK) (*AssetService, error) {
	assets, err := AllocOrRecoverMap[Hash, Asset](sdk, "assets")
	if err != nil {
		return nil, err
	}

	s := &AssetService{sdk: sdk, assets: assets}

	schema := NewServiceSchema(AssetServiceName)
	schema.Genesis(s.initGenesis)
	schema.Read("get_asset", 10_000, Handler(s.getAsset))
	schema.Read("get_balance", 10_000, Handler(s.getBalance))
	schema.Read("get_allowance", 10_000, Handler(s.getAllowance))
	schema.Write("create_asset", 21_000, Handler(s.createAsset))
	schema.Write("transfer", 21_000, Handler(s.transfer))
	schema.Write("approve", 21_000, Handler(s.approve))
	schema.Write("transfer_from", 21_000, Handler(s.transferFrom))
	s.schema = schema
	return s, nil
}

// Schema implements Service.
func (s *AssetService) Schema() *ServiceSchema { return s.schema }

var nativeAssetKey = []byte("native_asset")

func (s *AssetService) initGenesis(payload JSONString) error {
	var genesis InitGenesisPayload
	if err := json.Unmarshal([]byte(payload), &genesis); err != nil {
		return fmt.Errorf("%w: %v", ErrJSONParse, err)
	}

	asset := Asset{
		ID:     genesis.ID,
		Name:   genesis.Name,
		Symbol: genesis.Symbol,
		Supply: genesis.Supply,
		Issuer: genesis.Issuer,
	}
	if err := s.assets.Insert(asset.ID, asset); err != nil {
		return err
	}
	s.sdk.SetValue(nativeAssetKey, asset.ID.Bytes())

	return s.setBalance(genesis.Issuer, asset.ID, AssetBalance{Value: genesis.Supply})
}

func (s *AssetService) getAsset(_ *ServiceContext, payload GetAssetPayload) (Asset, error) {
	if !s.assets.Contains(payload.ID) {
		return Asset{}, &ServiceError{Code: CodeNotFoundAsset, Message: fmt.Sprintf("not found asset %s", payload.ID)}
	}
	return s.assets.Get(payload.ID)
}

func (s *AssetService) getBalance(ctx *ServiceContext, payload GetBalancePayload) (GetBalanceResponse, error) {
	if !s.assets.Contains(payload.AssetID) {
		return GetBalanceResponse{}, &ServiceError{Code: CodeNotFoundAsset, Message: fmt.Sprintf("not found asset %s", payload.AssetID)}
	}

	user := payload.User
	if (user == Address{}) {
		user = ctx.Caller()
	}

	balance, err := s.balanceOf(user, payload.AssetID)
	if err != nil {
		return GetBalanceResponse{}, err
	}
	return GetBalanceResponse{
		AssetID: payload.AssetID,
		User:    user,
		Balance: balance.Value,
	}, nil
}

func (s *AssetService) getAllowance(_ *ServiceContext, payload GetAllowancePayload) (GetAllowanceResponse, error) {
	if !s.assets.Contains(payload.AssetID) {
		return GetAllowanceResponse{}, &ServiceError{Code: CodeNotFoundAsset, Message: fmt.Sprintf("not found asset %s", payload.AssetID)}
	}

	balance, err := s.balanceOf(payload.Grantor, payload.AssetID)
	if err != nil {
		return GetAllowanceResponse{}, err
	}
	return GetAllowanceResponse{
		AssetID: payload.AssetID,
		Grantor: payload.Grantor,
		Grantee: payload.Grantee,
		Value:   balance.Allowance[payload.Grantee],
	}, nil
}

func (s *AssetService) createAsset(ctx *ServiceContext, payload CreateAssetPayload) (Asset, error) {
	caller := ctx.Caller()
	payloadRaw, err := json.Marshal(&payload)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrJSONParse, err)
	}

	id := Digest(append(payloadRaw, caller.Bytes()...))
	if s.assets.Contains(id) {
		return Asset{}, &ServiceError{Code: CodeAssetExists, Message: fmt.Sprintf("asset %s already exists", id)}
	}

	asset := Asset{
		ID:     id,
		Name:   payload.Name,
		Symbol: payload.Symbol,
		Supply: payload.Supply,
		Issuer: caller,
	}
	if err := s.assets.Insert(id, asset); err != nil {
		return Asset{}, err
	}
	if err := s.setBalance(caller, id, AssetBalance{Value: payload.Supply}); err != nil {
		return Asset{}, err
	}
	return asset, nil
}

func (s *AssetService) transfer(ctx *ServiceContext, payload TransferPayload) (struct{}, error) {
	caller := ctx.Caller()
	if err := s.move(payload.AssetID, caller, payload.To, payload.Value); err != nil {
		return struct{}{}, err
	}

	event, _ := json.Marshal(&TransferEvent{
		AssetID: payload.AssetID,
		From:    caller,
		To:      payload.To,
		Value:   payload.Value,
	})
	ctx.EmitEvent(string(event))
	return struct{}{}, nil
}

// approve grants a flat cap: the grantee may spend up to value via
// transfer_from, and each spend draws the cap down.
func (s *AssetService) approve(ctx *ServiceContext, payload ApprovePayload) (struct{}, error) {
	if !s.assets.Contains(payload.AssetID) {
		return struct{}{}, &ServiceError{Code: CodeNotFoundAsset, Message: fmt.Sprintf("not found asset %s", payload.AssetID)}
	}

	caller := ctx.Caller()
	balance, err := s.balanceOf(caller, payload.AssetID)
	if err != nil {
		return struct{}{}, err
	}
	if balance.Allowance == nil {
		balance.Allowance = make(map[Address]uint64)
	}
	balance.Allowance[payload.To] = payload.Value
	return struct{}{}, s.setBalance(caller, payload.AssetID, balance)
}

func (s *AssetService) transferFrom(ctx *ServiceContext, payload TransferFromPayload) (struct{}, error) {
	if !s.assets.Contains(payload.AssetID) {
		return struct{}{}, &ServiceError{Code: CodeNotFoundAsset, Message: fmt.Sprintf("not found asset %s", payload.AssetID)}
	}

	caller := ctx.Caller()
	senderBalance, err := s.balanceOf(payload.Sender, payload.AssetID)
	if err != nil {
		return struct{}{}, err
	}
	granted := senderBalance.Allowance[caller]
	if granted < payload.Value {
		return struct{}{}, &ServiceError{
			Code:    CodeLackOfAllowance,
			Message: fmt.Sprintf("allowance %d below %d", granted, payload.Value),
		}
	}

	senderBalance.Allowance[caller] = granted - payload.Value
	if err := s.setBalance(payload.Sender, payload.AssetID, senderBalance); err != nil {
		return struct{}{}, err
	}

	return struct{}{}, s.move(payload.AssetID, payload.Sender, payload.Recipient, payload.Value)
}

// move debits from and credits to with overflow checks.
func (s *AssetService) move(assetID Hash, from, to Address, value uint64) error {
	if !s.assets.Contains(assetID) {
		return &ServiceError{Code: CodeNotFoundAsset, Message: fmt.Sprintf("not found asset %s", assetID)}
	}

	fromBalance, err := s.balanceOf(from, assetID)
	if err != nil {
		return err
	}
	if fromBalance.Value < value {
		return &ServiceError{
			Code:    CodeLackOfBalance,
			Message: fmt.Sprintf("balance %d below %d", fromBalance.Value, value),
		}
	}

	toBalance, err := s.balanceOf(to, assetID)
	if err != nil {
		return err
	}
	if toBalance.Value+value < toBalance.Value {
		return &ServiceError{Code: CodeAssetOverflow, Message: ErrOverflow.Error()}
	}

	toBalance.Value += value
	if err := s.setBalance(to, assetID, toBalance); err != nil {
		return err
	}

	fromBalance.Value -= value
	return s.setBalance(from, assetID, fromBalance)
}

func (s *AssetService) balanceOf(user Address, assetID Hash) (AssetBalance, error) {
	raw, err := s.sdk.GetAccountValue(user, assetID.Bytes())
	if err != nil {
		return AssetBalance{}, err
	}
	if raw == nil {
		return AssetBalance{}, nil
	}
	var balance AssetBalance
	if err := json.Unmarshal(raw, &balance); err != nil {
		return AssetBalance{}, fmt.Errorf("%w: %v", ErrJSONParse, err)
	}
	return balance, nil
}

func (s *AssetService) setBalance(user Address, assetID Hash, balance AssetBalance) error {
	raw, err := json.Marshal(&balance)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJSONParse, err)
	}
	s.sdk.SetAccountValue(user, assetID.Bytes(), raw)
	return nil
}
