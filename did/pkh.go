package did

import (
	"context"
	"strings"

	"github.com/tap-labs/tap-go"
)

// PKHResolver resolves did:pkh identifiers structurally: no verification
// key material exists on-chain, so the document carries only a
// blockchainAccountId and no key-agreement method.
type PKHResolver struct{}

func (r *PKHResolver) SupportedMethods() []string { return []string{"pkh"} }

func (r *PKHResolver) Resolve(_ context.Context, didStr string) (*Document, error) {
	const prefix = "did:pkh:"
	if len(didStr) <= len(prefix) || didStr[:len(prefix)] != prefix {
		return nil, tap.NewResolutionError("pkh", didStr, "invalid_did", nil)
	}
	rest := didStr[len(prefix):]
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return nil, tap.NewResolutionError("pkh", didStr, "invalid_did: expected <namespace>:<reference>:<address>", nil)
	}
	namespace, reference, address := parts[0], parts[1], parts[2]

	vmType := pkhVerificationMethodType(namespace)
	vmID := didStr + "#blockchainAccountId"
	doc := &Document{
		ID: didStr,
		VerificationMethod: []VerificationMethod{
			{
				ID:                vmID,
				Type:              vmType,
				Controller:        didStr,
				BlockchainAccount: namespace + ":" + reference + ":" + address,
			},
		},
		Authentication: []string{vmID},
	}
	return doc, nil
}

func pkhVerificationMethodType(namespace string) string {
	switch namespace {
	case "eip155":
		return "EcdsaSecp256k1RecoveryMethod2020"
	case "bip122":
		return "EcdsaSecp256k1VerificationKey2019"
	case "solana":
		return "Ed25519VerificationKey2018"
	default:
		return "BlockchainVerificationMethod2021"
	}
}
