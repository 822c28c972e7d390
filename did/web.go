package did

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/tap-labs/tap-go"
)

// WebFetcher performs the single HTTPS GET did:web resolution needs.
// Satisfied by *http.Client; abstracted so the core stays usable in hosts
// where HTTP fetch is unavailable (the registry simply omits did:web).
type WebFetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebResolver resolves did:web identifiers by fetching the domain's
// well-known DID document.
type WebResolver struct {
	client WebFetcher
}

// NewWebResolver builds a did:web resolver using client for HTTP fetch.
func NewWebResolver(client WebFetcher) *WebResolver {
	return &WebResolver{client: client}
}

func (r *WebResolver) SupportedMethods() []string { return []string{"web"} }

func (r *WebResolver) Resolve(ctx context.Context, didStr string) (*Document, error) {
	url, err := webDocumentURL(didStr)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, tap.NewResolutionError("web", didStr, "network", err)
	}
	req.Header.Set("Accept", "application/did+json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, tap.NewResolutionError("web", didStr, "network", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, tap.NewResolutionError("web", didStr, "not_found", nil)
	}

	var wire wireDocument
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, tap.NewResolutionError("web", didStr, "invalid_document", err)
	}
	if wire.ID != didStr {
		return nil, tap.NewResolutionError("web", didStr, "invalid_document", nil)
	}
	return wire.toDocument()
}

// webDocumentURL converts "did:web:<domain>[:<path>...]" to
// "https://<domain>[/<path>...]/.well-known/did.json", per section 6.
func webDocumentURL(didStr string) (string, error) {
	const prefix = "did:web:"
	if len(didStr) <= len(prefix) || didStr[:len(prefix)] != prefix {
		return "", tap.NewResolutionError("web", didStr, "invalid_did", nil)
	}
	rest := didStr[len(prefix):]
	parts := strings.Split(rest, ":")
	domain := parts[0]
	if domain == "" {
		return "", tap.NewResolutionError("web", didStr, "invalid_did", nil)
	}
	path := ""
	if len(parts) > 1 {
		path = "/" + strings.Join(parts[1:], "/")
	}
	return "https://" + domain + path + "/.well-known/did.json", nil
}

// wireDocument is the JSON shape fetched from a did:web endpoint.
type wireDocument struct {
	ID                 string               `json:"id"`
	VerificationMethod []wireVerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
	KeyAgreement       []string             `json:"keyAgreement"`
	Service            []wireService        `json:"service"`
}

type wireVerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty"`
	PublicKeyBase58    string `json:"publicKeyBase58,omitempty"`
}

type wireService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

func (w *wireDocument) toDocument() (*Document, error) {
	doc := &Document{ID: w.ID, Authentication: w.Authentication, KeyAgreement: w.KeyAgreement}
	for _, vm := range w.VerificationMethod {
		material, err := decodeWireKeyMaterial(vm)
		if err != nil {
			return nil, tap.NewResolutionError("web", w.ID, "invalid_document: "+err.Error(), err)
		}
		doc.VerificationMethod = append(doc.VerificationMethod, VerificationMethod{
			ID: vm.ID, Type: vm.Type, Controller: vm.Controller, PublicKeyMaterial: material,
		})
	}
	for _, svc := range w.Service {
		doc.Service = append(doc.Service, Service{ID: svc.ID, Type: svc.Type, ServiceEndpoint: svc.ServiceEndpoint})
	}
	return doc, nil
}

// decodeWireKeyMaterial decodes a did:web verification method's encoded key
// into raw public key bytes, the same representation did:key.go produces:
// publicKeyMultibase is multibase('z', base58btc(raw key)), publicKeyBase58
// is a bare base58btc(raw key) with no multibase prefix.
func decodeWireKeyMaterial(vm wireVerificationMethod) ([]byte, error) {
	switch {
	case vm.PublicKeyMultibase != "":
		if len(vm.PublicKeyMultibase) == 0 || vm.PublicKeyMultibase[0] != 'z' {
			return nil, tap.NewParseError("publicKeyMultibase", vm.PublicKeyMultibase, "expected base58btc multibase prefix 'z'", nil)
		}
		return base58.Decode(vm.PublicKeyMultibase[1:])
	case vm.PublicKeyBase58 != "":
		return base58.Decode(vm.PublicKeyBase58)
	default:
		return nil, tap.NewParseError("verificationMethod", vm.ID, "neither publicKeyMultibase nor publicKeyBase58 set", nil)
	}
}
