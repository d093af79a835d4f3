package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeProtocol
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// Protocol sub-types
	SubTypeCollateralPool
	SubTypeSecurityDeposits
	SubTypeLockedShares

	// External sub-types
	SubTypeExternalFaucet
	SubTypeExternalMint
)

// AssetID identifies one of the tokens the bank keeps books for
type AssetID uint16

const (
	AssetUnderlying AssetID = iota + 1 // collateral asset, 18 decimals
	AssetStable                        // vault share token
	AssetNative                        // security deposits
)

var (
	assetToID = map[string]AssetID{
		"WSTETH": AssetUnderlying,
		"USDN":   AssetStable,
		"ETH":    AssetNative,
	}
	idToAsset = map[AssetID]string{
		AssetUnderlying: "WSTETH",
		AssetStable:     "USDN",
		AssetNative:     "ETH",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Owner   common.Address // zero for protocol and external accounts
	SubType AccountSubType
	AssetID AssetID
}

// NewUserAccountKey creates a key for a user wallet
func NewUserAccountKey(owner common.Address, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Owner:   owner,
		SubType: SubTypeWallet,
		AssetID: assetID,
	}
}

// NewProtocolAccountKey creates a key for an account held by the protocol
func NewProtocolAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeProtocol,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Owner.Hex(), k.subTypeName(), assetName)
	case AccountScopeProtocol:
		return fmt.Sprintf("protocol:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeCollateralPool:
		return "collateral_pool"
	case SubTypeSecurityDeposits:
		return "security_deposits"
	case SubTypeLockedShares:
		return "locked_shares"
	case SubTypeExternalFaucet:
		return "faucet"
	case SubTypeExternalMint:
		return "mint"
	default:
		return "unknown"
	}
}
