package tap

import "sync"

// legalNextKinds is the reply-legality table from section 4.5. The key ""
// represents "no prior message" (a thread-opening message).
var legalNextKinds = map[string][]string{
	"": {
		KindTransfer, KindPayment, KindConnect, KindBasicMessage, KindTrustPing,
	},
	KindTransfer: {
		KindAuthorize, KindReject, KindCancel, KindAddAgents, KindUpdatePolicies, KindAuthorizationRequired,
	},
	KindPayment: {
		KindAuthorize, KindReject, KindCancel, KindAddAgents, KindUpdatePolicies, KindAuthorizationRequired,
	},
	KindAuthorizationRequired: {
		KindAuthorize, KindReject, KindCancel,
	},
	KindAuthorize: {
		KindSettle, KindCancel, KindRevert,
	},
	KindSettle: {
		KindRevert,
	},
	KindReject: {},
	KindCancel: {},
	KindRevert: {},
	KindConnect: {
		KindAuthorize, KindReject,
	},
	KindTrustPing: {
		KindTrustPingResponse,
	},
}

// LegalNextKinds returns the set of message kinds that may legally follow
// fromKind ("" meaning "thread not yet opened").
func LegalNextKinds(fromKind string) []string {
	kinds, ok := legalNextKinds[fromKind]
	if !ok {
		return nil
	}
	out := make([]string, len(kinds))
	copy(out, kinds)
	return out
}

// ValidateReplyKind checks toKind against the legal-successor table for
// fromKind, returning *IllegalReplyError if the transition is not allowed.
func ValidateReplyKind(fromKind, toKind string) error {
	for _, k := range legalNextKinds[fromKind] {
		if k == toKind {
			return nil
		}
	}
	return NewIllegalReplyError(fromKind, toKind)
}

// ThreadState is an optional, injectable tracker of the last message kind
// observed per thread. Section 4.5 allows a stateless producer to skip
// thread-state tracking entirely; ThreadState exists for producers and
// consumers that want ValidateReply enforcement without re-deriving
// thread history from a message log each time.
type ThreadState struct {
	mu   sync.Mutex
	last map[string]string // thid -> last kind
}

// NewThreadState creates an empty thread-state tracker.
func NewThreadState() *ThreadState {
	return &ThreadState{last: make(map[string]string)}
}

// ValidateReply checks msg against the thread's recorded state (or the
// empty "no prior message" state if the thread is unknown) and, if legal,
// records msg's kind as the thread's new state.
func (t *ThreadState) ValidateReply(msg *PlainMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	thid := msg.EffectiveThreadID()
	from := t.last[thid]
	if thid == msg.ID {
		from = "" // msg is itself opening the thread
	}
	kind := msg.Kind()
	if kind == "" {
		return nil // non-TAP message types (basic message, trust ping) bypass the table here
	}
	if err := ValidateReplyKind(from, kind); err != nil {
		return err
	}
	t.last[thid] = kind
	return nil
}

// Reset discards all recorded thread state.
func (t *ThreadState) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = make(map[string]string)
}
