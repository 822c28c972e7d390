// Package node implements C7: an in-process agent registry, a processor
// pipeline applied to every inbound/outbound message, and cross-agent
// delivery with an audit trail in the delivery package (C8).
package node

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/tap-labs/tap-go"
	"github.com/tap-labs/tap-go/agent"
	"github.com/tap-labs/tap-go/config"
	"github.com/tap-labs/tap-go/delivery"
	"github.com/tap-labs/tap-go/did"
	"github.com/tap-labs/tap-go/envelope"
)

// Node owns a did->Agent mapping, a processor chain, and a delivery
// tracker. Multiple independent Nodes may coexist in one process — nothing
// here is a package-level global.
type Node struct {
	mu       sync.RWMutex
	agents   map[string]*agent.Agent
	registry *did.Registry
	tracker  *delivery.Tracker
	chain    *CompositeProcessor
	cfg      *config.Config

	// perPairSeq serializes send() per (from, to) pair so a single
	// recipient observes one sender's messages in call order, per section
	// 4.7's ordering guarantee; distinct pairs proceed independently.
	perPairSeq map[string]*sync.Mutex
	pairMu     sync.Mutex
}

// NewNode creates an empty node backed by registry for DID resolution and
// tracker for delivery bookkeeping, running processors in order. cfg
// supplies the resolver and delivery timeouts Send and ProcessIncoming
// apply and the retry policy RetryDelivery applies; a nil cfg falls back
// to config.Default().
func NewNode(cfg *config.Config, registry *did.Registry, tracker *delivery.Tracker, processors ...Processor) *Node {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Node{
		agents:     make(map[string]*agent.Agent),
		registry:   registry,
		tracker:    tracker,
		chain:      &CompositeProcessor{Children: processors},
		cfg:        cfg,
		perPairSeq: make(map[string]*sync.Mutex),
	}
}

// RegisterAgent adds agent to the node's registry, keyed by its DID.
// Fails if the DID is already present.
func (n *Node) RegisterAgent(a *agent.Agent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.agents[a.DID()]; exists {
		return tap.NewParseError("agent.did", a.DID(), "duplicate: an agent with this DID is already registered", nil)
	}
	n.agents[a.DID()] = a
	return nil
}

// UnregisterAgent removes the agent with the given DID, reporting whether
// one was present.
func (n *Node) UnregisterAgent(agentDID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.agents[agentDID]; !ok {
		return false
	}
	delete(n.agents, agentDID)
	return true
}

func (n *Node) lookupAgent(agentDID string) (*agent.Agent, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	a, ok := n.agents[agentDID]
	return a, ok
}

func (n *Node) pairLock(fromDID, toDID string) *sync.Mutex {
	n.pairMu.Lock()
	defer n.pairMu.Unlock()
	key := fromDID + "->" + toDID
	m, ok := n.perPairSeq[key]
	if !ok {
		m = &sync.Mutex{}
		n.perPairSeq[key] = m
	}
	return m
}

// Send delivers packed to recipientDID: internally (dispatched straight to
// the recipient's unpack+process pipeline) if the recipient is registered
// on this node, otherwise recorded as an https delivery against the
// recipient's resolved service endpoint (the HTTP request itself is the
// host's responsibility — this records the attempt). Returns the new
// delivery record's ID.
func (n *Node) Send(ctx context.Context, fromDID string, packed []byte, recipientDID string) (int64, error) {
	lock := n.pairLock(fromDID, recipientDID)
	lock.Lock()
	defer lock.Unlock()

	if recipient, ok := n.lookupAgent(recipientDID); ok {
		id := n.tracker.Record(delivery.Attempt{
			RecipientDID:  recipientDID,
			DeliveryType:  delivery.TypeInternal,
			PackedPayload: packed,
		})
		n.dispatchInternal(ctx, id, recipient, packed)
		return id, nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, n.cfg.ResolverTimeout)
	defer cancel()
	doc, err := n.registry.Resolve(resolveCtx, recipientDID)
	if err != nil {
		return 0, err
	}
	endpoint := ""
	if len(doc.Service) > 0 {
		endpoint = doc.Service[0].ServiceEndpoint
	}
	id := n.tracker.Record(delivery.Attempt{
		RecipientDID:  recipientDID,
		DeliveryType:  delivery.TypeHTTPS,
		DeliveryURL:   endpoint,
		PackedPayload: packed,
	})
	return id, nil
}

// RetryDelivery drives the delivery tracker's retry loop for id using this
// node's configured cap and base backoff (config.Config.DeliveryRetryCap/
// DeliveryRetryBase).
func (n *Node) RetryDelivery(ctx context.Context, id int64, fn delivery.Attempter) error {
	return n.tracker.Retry(ctx, id, n.cfg.DeliveryRetryCap, n.cfg.DeliveryRetryBase, fn)
}

func (n *Node) dispatchInternal(ctx context.Context, deliveryID int64, recipient *agent.Agent, packed []byte) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.DeliveryTimeout)
	defer cancel()
	msg, meta, err := recipient.Unpack(ctx, packed, "")
	if err != nil {
		n.markFailed(deliveryID, err.Error(), 0)
		return
	}

	processed, ok := n.chain.ProcessIncoming(msg, meta)
	if !ok {
		n.markFailed(deliveryID, droppedBy(n.chain.Name()), 0)
		return
	}

	if _, err := recipient.Process(processed, meta); err != nil {
		n.markFailed(deliveryID, err.Error(), 0)
		return
	}

	success := delivery.StatusSuccess
	_ = n.tracker.Update(deliveryID, delivery.Patch{Status: &success, Delivered: true})
}

func (n *Node) markFailed(deliveryID int64, reason string, httpStatus int) {
	failed := delivery.StatusFailed
	_ = n.tracker.Update(deliveryID, delivery.Patch{Status: &failed, Error: &reason, LastHTTPStatus: &httpStatus, Delivered: true})
}

// ProcessIncoming handles bytes arriving from outside the node (e.g. an
// HTTP transport handing off a POST body): it selects the addressed agent
// by scanning the envelope's candidate kids, unpacks, runs the processor
// chain, dispatches to the agent, and packs any synchronous response for
// return-path delivery. If no registered agent's kid appears in the
// envelope, the failure is recorded against a synthetic delivery record.
func (n *Node) ProcessIncoming(ctx context.Context, packed []byte) ([]byte, error) {
	recipientDID, recipient, ok := n.findAddressedAgent(packed)
	if !ok {
		id := n.tracker.Record(delivery.Attempt{RecipientDID: "unknown", DeliveryType: delivery.TypeReturnPath, PackedPayload: packed})
		err := tap.NewCryptoError("decrypt", "", tap.ReasonUnknownRecipient, nil)
		n.markFailed(id, err.Error(), 0)
		return nil, err
	}

	id := n.tracker.Record(delivery.Attempt{RecipientDID: recipientDID, DeliveryType: delivery.TypeReturnPath, PackedPayload: packed})

	ctx, cancel := context.WithTimeout(ctx, n.cfg.DeliveryTimeout)
	defer cancel()
	msg, meta, err := recipient.Unpack(ctx, packed, "")
	if err != nil {
		n.markFailed(id, err.Error(), 0)
		return nil, err
	}

	processed, ok := n.chain.ProcessIncoming(msg, meta)
	if !ok {
		n.markFailed(id, droppedBy(n.chain.Name()), 0)
		return nil, nil
	}

	response, err := recipient.Process(processed, meta)
	if err != nil {
		n.markFailed(id, err.Error(), 0)
		return nil, err
	}

	success := delivery.StatusSuccess
	_ = n.tracker.Update(id, delivery.Patch{Status: &success, Delivered: true})

	if response == nil {
		return nil, nil
	}
	packedResponse, err := recipient.Pack(ctx, response, envelope.ModeSignedAuthEncrypted, "")
	if err != nil {
		return nil, err
	}
	return packedResponse, nil
}

// findAddressedAgent scans packed's envelope for a "kid" matching a
// registered agent's own kid, without performing any decryption.
func (n *Node) findAddressedAgent(packed []byte) (recipientDID string, a *agent.Agent, ok bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, kid := range candidateKIDs(packed) {
		for did, candidate := range n.agents {
			if candidate.KID() == kid || candidate.AgreementKID() == kid {
				return did, candidate, true
			}
		}
	}
	return "", nil, false
}

func candidateKIDs(packed []byte) []string {
	var shape struct {
		Recipients []json.RawMessage `json:"recipients"`
		Signatures []json.RawMessage `json:"signatures"`
	}
	if err := json.Unmarshal(packed, &shape); err != nil {
		return nil
	}

	var out []string
	for _, raw := range shape.Recipients {
		var entry struct {
			Header struct {
				KID string `json:"kid"`
			} `json:"header"`
		}
		if json.Unmarshal(raw, &entry) == nil && entry.Header.KID != "" {
			out = append(out, entry.Header.KID)
		}
	}
	for _, raw := range shape.Signatures {
		var entry struct {
			Protected string `json:"protected"`
		}
		if json.Unmarshal(raw, &entry) != nil {
			continue
		}
		if kid := kidFromProtected(entry.Protected); kid != "" {
			out = append(out, kid)
		}
	}
	return out
}

func kidFromProtected(protectedB64 string) string {
	raw, err := base64.RawURLEncoding.DecodeString(protectedB64)
	if err != nil {
		return ""
	}
	var header struct {
		KID string `json:"kid"`
	}
	if json.Unmarshal(raw, &header) != nil {
		return ""
	}
	return header.KID
}
