// Package caip parses and validates chain-agnostic identifiers: CAIP-2
// chain IDs, CAIP-10 account IDs, and CAIP-19 asset IDs.
package caip

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tap-labs/tap-go"
)

var (
	namespaceRe = regexp.MustCompile(`^[-a-z0-9]{3,8}$`)
	chainRefRe  = regexp.MustCompile(`^[-_a-zA-Z0-9]{1,32}$`)
	addressRe   = regexp.MustCompile(`^[-.%a-zA-Z0-9]{1,128}$`)
	assetNsRe   = regexp.MustCompile(`^[-a-z0-9]{3,8}$`)
	assetRefRe  = regexp.MustCompile(`^[-.%a-zA-Z0-9]{1,128}$`)
	eip155AddrRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// KnownNamespaces lists the recognised CAIP namespaces. Only eip155 has an
// address rule beyond the generic CAIP grammar; the other listed namespaces,
// like unknown ones, are accepted structurally.
var KnownNamespaces = map[string]bool{
	"eip155":  true,
	"bip122":  true,
	"cosmos":  true,
	"polkadot": true,
	"solana":  true,
	"tezos":   true,
	"fil":     true,
	"near":    true,
}

// ChainID is a CAIP-2 identifier: "<namespace>:<reference>".
type ChainID struct {
	Namespace string
	Reference string
}

func (c ChainID) String() string {
	return c.Namespace + ":" + c.Reference
}

// ParseChainID parses and validates a CAIP-2 chain identifier.
func ParseChainID(s string) (ChainID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ChainID{}, tap.NewParseError("chain", s, "expected <namespace>:<reference>", nil)
	}
	id := ChainID{Namespace: parts[0], Reference: parts[1]}
	if err := id.Validate(); err != nil {
		return ChainID{}, err
	}
	return id, nil
}

// Validate checks the chain ID's structural grammar.
func (c ChainID) Validate() error {
	if !namespaceRe.MatchString(c.Namespace) {
		return tap.NewParseError("chain.namespace", c.Namespace, "must match [-a-z0-9]{3,8}", nil)
	}
	if !chainRefRe.MatchString(c.Reference) {
		return tap.NewParseError("chain.reference", c.Reference, "must match [-_a-zA-Z0-9]{1,32}", nil)
	}
	return nil
}

// AccountID is a CAIP-10 identifier: "<chain>:<address>".
type AccountID struct {
	Chain   ChainID
	Address string
}

func (a AccountID) String() string {
	return a.Chain.String() + ":" + a.Address
}

// ParseAccountID parses and validates a CAIP-10 account identifier.
func ParseAccountID(s string) (AccountID, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return AccountID{}, tap.NewParseError("account", s, "expected <chain>:<address>", nil)
	}
	chain, err := ParseChainID(s[:idx])
	if err != nil {
		return AccountID{}, err
	}
	acc := AccountID{Chain: chain, Address: s[idx+1:]}
	if err := acc.Validate(); err != nil {
		return AccountID{}, err
	}
	return acc, nil
}

// Validate checks the account ID's structural and per-namespace grammar.
func (a AccountID) Validate() error {
	if err := a.Chain.Validate(); err != nil {
		return err
	}
	if !addressRe.MatchString(a.Address) {
		return tap.NewParseError("account.address", a.Address, "must match [-.%a-zA-Z0-9]{1,128}", nil)
	}
	return validateNamespaceAddress(a.Chain.Namespace, a.Address)
}

// AssetID is a CAIP-19 identifier: "<chain>/<asset_ns>:<asset_ref>".
type AssetID struct {
	Chain          ChainID
	AssetNamespace string
	AssetReference string
}

func (a AssetID) String() string {
	return a.Chain.String() + "/" + a.AssetNamespace + ":" + a.AssetReference
}

// ParseAssetID parses and validates a CAIP-19 asset identifier.
func ParseAssetID(s string) (AssetID, error) {
	slash := strings.LastIndex(s, "/")
	if slash < 0 {
		return AssetID{}, tap.NewParseError("asset", s, "expected <chain>/<asset_ns>:<asset_ref>", nil)
	}
	chain, err := ParseChainID(s[:slash])
	if err != nil {
		return AssetID{}, err
	}
	rest := s[slash+1:]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return AssetID{}, tap.NewParseError("asset", s, "missing asset_namespace:asset_reference", nil)
	}
	id := AssetID{Chain: chain, AssetNamespace: rest[:colon], AssetReference: rest[colon+1:]}
	if err := id.Validate(); err != nil {
		return AssetID{}, err
	}
	return id, nil
}

// Validate checks the asset ID's structural grammar.
func (a AssetID) Validate() error {
	if err := a.Chain.Validate(); err != nil {
		return err
	}
	if !assetNsRe.MatchString(a.AssetNamespace) {
		return tap.NewParseError("asset.namespace", a.AssetNamespace, "must match [-a-z0-9]{3,8}", nil)
	}
	if !assetRefRe.MatchString(a.AssetReference) {
		return tap.NewParseError("asset.reference", a.AssetReference, "must match [-.%a-zA-Z0-9]{1,128}", nil)
	}
	return nil
}

// validateNamespaceAddress applies per-namespace address rules. Unknown
// namespaces pass structurally (KnownNamespaces gates stricter checks).
func validateNamespaceAddress(namespace, address string) error {
	if !KnownNamespaces[namespace] {
		return nil
	}
	switch namespace {
	case "eip155":
		if !eip155AddrRe.MatchString(address) {
			return tap.NewParseError("account.address", address, "eip155 address must match 0x[0-9a-fA-F]{40}", nil)
		}
		// An address that mixes hex letter case is asserting an EIP-55
		// checksum; verify it against go-ethereum's checksum encoding. An
		// all-lowercase or all-uppercase address carries no checksum claim
		// and is accepted as-is, per EIP-55.
		if hasMixedHexCase(address) && common.HexToAddress(address).Hex() != address {
			return tap.NewParseError("account.address", address, "eip155 address fails EIP-55 checksum", nil)
		}
	}
	return nil
}

func hasMixedHexCase(address string) bool {
	var hasLower, hasUpper bool
	for _, r := range address[2:] {
		switch {
		case r >= 'a' && r <= 'f':
			hasLower = true
		case r >= 'A' && r <= 'F':
			hasUpper = true
		}
	}
	return hasLower && hasUpper
}

// IsNamespaceKnown reports whether namespace is listed in KnownNamespaces.
func IsNamespaceKnown(namespace string) bool {
	return KnownNamespaces[namespace]
}
