// Package did resolves did:key, did:web, and did:pkh identifiers to
// verification and key-agreement material, and generates did:key
// identifiers from freshly minted keypairs.
package did

import (
	"context"
	"strings"

	"github.com/tap-labs/tap-go"
)

// VerificationMethod is one entry in a DID document's verificationMethod
// array.
type VerificationMethod struct {
	ID                 string
	Type               string
	Controller         string
	PublicKeyMaterial  []byte // raw public key bytes
	BlockchainAccount  string // set for did:pkh methods
}

// Document is a DID resolution result.
type Document struct {
	ID                 string
	VerificationMethod []VerificationMethod
	Authentication     []string // verification-method IDs
	KeyAgreement       []string // verification-method IDs
	Service            []Service
}

// Service is a DID document service entry.
type Service struct {
	ID              string
	Type            string
	ServiceEndpoint string
}

// VerificationMethodByID returns the verification method with the given
// ID, if present.
func (d *Document) VerificationMethodByID(id string) (*VerificationMethod, bool) {
	for i := range d.VerificationMethod {
		if d.VerificationMethod[i].ID == id {
			return &d.VerificationMethod[i], true
		}
	}
	return nil, false
}

// KeyAgreementMethods returns the verification methods referenced by the
// document's keyAgreement array.
func (d *Document) KeyAgreementMethods() []VerificationMethod {
	out := make([]VerificationMethod, 0, len(d.KeyAgreement))
	for _, ref := range d.KeyAgreement {
		if vm, ok := d.VerificationMethodByID(ref); ok {
			out = append(out, *vm)
		}
	}
	return out
}

// Validate checks the resolution invariant: every authentication/
// keyAgreement reference resolves to a verification method whose
// controller is the document's own ID.
func (d *Document) Validate() error {
	for _, ref := range append(append([]string{}, d.Authentication...), d.KeyAgreement...) {
		vm, ok := d.VerificationMethodByID(ref)
		if !ok {
			return tap.NewResolutionError("", d.ID, "invalid_document", nil)
		}
		if vm.Controller != d.ID {
			return tap.NewResolutionError("", d.ID, "invalid_document", nil)
		}
	}
	return nil
}

// Resolver resolves DIDs for one or more methods.
type Resolver interface {
	SupportedMethods() []string
	Resolve(ctx context.Context, did string) (*Document, error)
}

// Method extracts the method name ("key", "web", "pkh") from a DID string.
func Method(didStr string) (string, error) {
	parts := strings.SplitN(didStr, ":", 3)
	if len(parts) < 2 || parts[0] != "did" {
		return "", tap.NewResolutionError("", didStr, "invalid_did", nil)
	}
	return parts[1], nil
}
