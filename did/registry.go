package did

import (
	"context"
	"sync"

	"github.com/tap-labs/tap-go"
)

// Registry dispatches resolution to a method-specific Resolver. A method
// may be left unregistered (e.g. did:web in an environment with no HTTP
// fetch capability); resolving such a DID fails with reason "unsupported".
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry creates an empty resolver registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register binds a resolver to every method it reports supporting.
func (r *Registry) Register(resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range resolver.SupportedMethods() {
		r.resolvers[m] = resolver
	}
}

// Resolve dispatches to the resolver registered for did's method.
func (r *Registry) Resolve(ctx context.Context, did string) (*Document, error) {
	method, err := Method(did)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	resolver, ok := r.resolvers[method]
	r.mu.RUnlock()
	if !ok {
		return nil, tap.NewResolutionError(method, did, "unsupported", nil)
	}
	doc, err := resolver.Resolve(ctx, did)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// NewDefaultRegistry returns a registry with did:key and did:pkh
// registered (both purely local) and did:web registered using httpClient
// for its fetch. Passing a nil httpClient omits did:web, matching the
// requirement that the registry permit a method to be absent.
func NewDefaultRegistry(httpClient WebFetcher) *Registry {
	r := NewRegistry()
	r.Register(&KeyResolver{})
	r.Register(&PKHResolver{})
	if httpClient != nil {
		r.Register(NewWebResolver(httpClient))
	}
	return r
}
