package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeIdentity AccountScope = iota
	AccountScopeEscrow
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Identity sub-types
	SubTypeAvailable AccountSubType = iota

	// Escrow sub-types
	SubTypeCustody

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"SOL":  1,
		"USDC": 2,
		"ETH":  3,
	}
	idToAsset = map[AssetID]string{
		1: "SOL",
		2: "USDC",
		3: "ETH",
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

// AccountKey is the in-memory key for balance tracking. Entity holds a
// left-aligned 20 byte identity or a full 32 byte escrow address.
type AccountKey struct {
	Scope   AccountScope
	Entity  [32]byte
	SubType AccountSubType
	AssetID AssetID
}

// NewIdentityAccountKey creates the spendable balance key for an identity
func NewIdentityAccountKey(id common.Address, assetID AssetID) AccountKey {
	var entity [32]byte
	copy(entity[:], id.Bytes())
	return AccountKey{
		Scope:   AccountScopeIdentity,
		Entity:  entity,
		SubType: SubTypeAvailable,
		AssetID: assetID,
	}
}

// NewEscrowAccountKey creates the custody key for a derived escrow address
func NewEscrowAccountKey(addr [32]byte, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeEscrow,
		Entity:  addr,
		SubType: SubTypeCustody,
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

// Identity returns the identity address of an identity-scoped key.
func (k AccountKey) Identity() common.Address {
	return common.BytesToAddress(k.Entity[:common.AddressLength])
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeIdentity:
		return fmt.Sprintf("identity:%s:%s:%s", k.Identity().Hex(), k.subTypeName(), assetName)
	case AccountScopeEscrow:
		return fmt.Sprintf("escrow:%s:%s:%s", common.Bytes2Hex(k.Entity[:]), k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeAvailable:
		return "available"
	case SubTypeCustody:
		return "custody"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}

func parseSubType(s string) (AccountSubType, bool) {
	switch s {
	case "available":
		return SubTypeAvailable, true
	case "custody":
		return SubTypeCustody, true
	case "deposits":
		return SubTypeExternalDeposits, true
	case "withdrawals":
		return SubTypeExternalWithdrawals, true
	}
	return 0, false
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) < 3 {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	assetID, ok := GetAssetID(parts[len(parts)-1])
	if !ok {
		return AccountKey{}, fmt.Errorf("account path %q: unknown asset", path)
	}

	switch {
	case parts[0] == "identity" && len(parts) == 4 && parts[2] == "available":
		if !common.IsHexAddress(parts[1]) {
			return AccountKey{}, fmt.Errorf("account path %q: bad identity", path)
		}
		return NewIdentityAccountKey(common.HexToAddress(parts[1]), assetID), nil

	case parts[0] == "escrow" && len(parts) == 4 && parts[2] == "custody":
		b := common.FromHex(parts[1])
		if len(b) != 32 {
			return AccountKey{}, fmt.Errorf("account path %q: bad escrow address", path)
		}
		var addr [32]byte
		copy(addr[:], b)
		return NewEscrowAccountKey(addr, assetID), nil

	case parts[0] == "external" && len(parts) == 3:
		st, ok := parseSubType(parts[1])
		if !ok || (st != SubTypeExternalDeposits && st != SubTypeExternalWithdrawals) {
			return AccountKey{}, fmt.Errorf("account path %q: bad external account", path)
		}
		return NewExternalAccountKey(st, assetID), nil
	}
	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}
