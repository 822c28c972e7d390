package node

import (
	"fmt"
	"log"

	"github.com/tap-labs/tap-go"
	"github.com/tap-labs/tap-go/envelope"
)

// Processor is a pluggable stage in the node's inbound/outbound pipeline:
// section 4.7's "logging (never drops), validation (drops on invariant
// violation), composite (sequences children, a drop short-circuits)".
type Processor interface {
	Name() string
	ProcessIncoming(msg *tap.PlainMessage, meta *envelope.UnpackMetadata) (*tap.PlainMessage, bool)
	ProcessOutgoing(msg *tap.PlainMessage) (*tap.PlainMessage, bool)
}

// LoggingProcessor logs every message it sees and never drops one.
type LoggingProcessor struct {
	Logger *log.Logger
}

func (p *LoggingProcessor) Name() string { return "logging" }

func (p *LoggingProcessor) ProcessIncoming(msg *tap.PlainMessage, meta *envelope.UnpackMetadata) (*tap.PlainMessage, bool) {
	p.logger().Printf("incoming id=%s type=%s from=%s", msg.ID, msg.Type, msg.From)
	return msg, true
}

func (p *LoggingProcessor) ProcessOutgoing(msg *tap.PlainMessage) (*tap.PlainMessage, bool) {
	p.logger().Printf("outgoing id=%s type=%s to=%v", msg.ID, msg.Type, msg.To)
	return msg, true
}

func (p *LoggingProcessor) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

// ValidationProcessor decodes msg's body per its kind and drops the
// message if Validate reports an invariant violation.
type ValidationProcessor struct{}

func (p *ValidationProcessor) Name() string { return "validation" }

func (p *ValidationProcessor) ProcessIncoming(msg *tap.PlainMessage, meta *envelope.UnpackMetadata) (*tap.PlainMessage, bool) {
	return p.validate(msg)
}

func (p *ValidationProcessor) ProcessOutgoing(msg *tap.PlainMessage) (*tap.PlainMessage, bool) {
	return p.validate(msg)
}

func (p *ValidationProcessor) validate(msg *tap.PlainMessage) (*tap.PlainMessage, bool) {
	body, ok := newBodyForKind(msg.Kind())
	if !ok {
		return msg, true // non-TAP types (basic message, trust ping) bypass body validation here
	}
	if err := msg.DecodeBody(body); err != nil {
		return msg, false
	}
	if err := body.Validate(); err != nil {
		return msg, false
	}
	return msg, true
}

// CompositeProcessor sequences children left to right; a drop by any child
// short-circuits the remainder of the chain.
type CompositeProcessor struct {
	Children []Processor
}

func (p *CompositeProcessor) Name() string { return "composite" }

func (p *CompositeProcessor) ProcessIncoming(msg *tap.PlainMessage, meta *envelope.UnpackMetadata) (*tap.PlainMessage, bool) {
	for _, child := range p.Children {
		var ok bool
		msg, ok = child.ProcessIncoming(msg, meta)
		if !ok {
			return msg, false
		}
	}
	return msg, true
}

func (p *CompositeProcessor) ProcessOutgoing(msg *tap.PlainMessage) (*tap.PlainMessage, bool) {
	for _, child := range p.Children {
		var ok bool
		msg, ok = child.ProcessOutgoing(msg)
		if !ok {
			return msg, false
		}
	}
	return msg, true
}

// droppedBy formats the delivery-record error for a processor drop.
func droppedBy(name string) string {
	return fmt.Sprintf("dropped by %s", name)
}

func newBodyForKind(kind string) (tap.Body, bool) {
	switch kind {
	case tap.KindTransfer:
		return &tap.Transfer{}, true
	case tap.KindPayment:
		return &tap.Payment{}, true
	case tap.KindAuthorize:
		return &tap.Authorize{}, true
	case tap.KindReject:
		return &tap.Reject{}, true
	case tap.KindSettle:
		return &tap.Settle{}, true
	case tap.KindCancel:
		return &tap.Cancel{}, true
	case tap.KindRevert:
		return &tap.Revert{}, true
	case tap.KindAddAgents:
		return &tap.AddAgents{}, true
	case tap.KindReplaceAgent:
		return &tap.ReplaceAgent{}, true
	case tap.KindRemoveAgent:
		return &tap.RemoveAgent{}, true
	case tap.KindUpdatePolicies:
		return &tap.UpdatePolicies{}, true
	case tap.KindUpdateParty:
		return &tap.UpdateParty{}, true
	case tap.KindConfirmRelationship:
		return &tap.ConfirmRelationship{}, true
	case tap.KindConnect:
		return &tap.Connect{}, true
	case tap.KindAuthorizationRequired:
		return &tap.AuthorizationRequired{}, true
	case tap.KindPresentation:
		return &tap.Presentation{}, true
	default:
		return nil, false
	}
}
