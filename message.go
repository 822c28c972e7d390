package tap

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SchemaBase is the URI prefix for every TAP message type.
const SchemaBase = "https://tap.rsvp/schema/1.0#"

// Standard DIDComm message type URIs accepted verbatim alongside the TAP
// vocabulary.
const (
	TypeBasicMessage = "https://didcomm.org/basicmessage/2.0/message"
	TypeTrustPing     = "https://didcomm.org/trust-ping/2.0/ping"
	TypeTrustPingResp = "https://didcomm.org/trust-ping/2.0/ping-response"
)

// TypeURI builds the TAP message type URI for kind (e.g. "Transfer").
func TypeURI(kind string) string {
	return SchemaBase + kind
}

// Attachment is an opaque DIDComm attachment carried alongside a plain
// message's body.
type Attachment struct {
	ID          string                 `json:"id"`
	MediaType   string                 `json:"media_type,omitempty"`
	Data        map[string]interface{} `json:"data"`
	Description string                 `json:"description,omitempty"`
}

// PlainMessage is the DIDComm v2 plaintext message this module packs and
// unpacks. Body is kept as an opaque tagged variant (section 9's dynamic
// dispatch design note): a dispatch table keys on Type and parses Body
// into the expected shape rather than reflecting over a class hierarchy.
type PlainMessage struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	From        string                 `json:"from,omitempty"`
	To          []string               `json:"to,omitempty"`
	ThID        string                 `json:"thid,omitempty"`
	PThID       string                 `json:"pthid,omitempty"`
	CreatedTime time.Time              `json:"created_time"`
	ExpiresTime *time.Time             `json:"expires_time,omitempty"`
	Body        map[string]interface{} `json:"body"`
	Attachments []Attachment           `json:"attachments,omitempty"`

	sealed bool
}

// MessageOptions are the envelope-field options a caller may supply to
// NewMessage beyond type and body.
type MessageOptions struct {
	To          []string
	ThID        string
	PThID       string
	ExpiresTime *time.Time
}

// NewMessage builds and validates a new plain message from a typed body.
// The message is not sealed here; packing seals it, and once packed callers
// must not mutate it further (enforced by convention, not by the type system, matching the
// teacher's plain-struct style).
func NewMessage(from string, typeURI string, body Body, opts MessageOptions) (*PlainMessage, error) {
	if body != nil {
		if err := body.Validate(); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	if opts.ExpiresTime != nil && !opts.ExpiresTime.After(now) {
		return nil, NewParseError("expires_time", opts.ExpiresTime.String(), "must be strictly greater than created_time", nil)
	}

	msg := &PlainMessage{
		ID:          uuid.NewString(),
		Type:        typeURI,
		From:        from,
		To:          opts.To,
		ThID:        opts.ThID,
		PThID:       opts.PThID,
		CreatedTime: now,
		ExpiresTime: opts.ExpiresTime,
		Body:        bodyToMap(body),
	}
	return msg, nil
}

// Seal marks the message immutable (by convention); called once it has
// been packed for transmission.
func (m *PlainMessage) Seal() { m.sealed = true }

// Sealed reports whether the message has been packed.
func (m *PlainMessage) Sealed() bool { return m.sealed }

// EffectiveThreadID returns m.ThID if set, otherwise m.ID — the value a
// reply to m must carry as its own thid.
func (m *PlainMessage) EffectiveThreadID() string {
	if m.ThID != "" {
		return m.ThID
	}
	return m.ID
}

// Kind returns the TAP message kind (the fragment after SchemaBase), or
// "" for a non-TAP type URI.
func (m *PlainMessage) Kind() string {
	if len(m.Type) > len(SchemaBase) && m.Type[:len(SchemaBase)] == SchemaBase {
		return m.Type[len(SchemaBase):]
	}
	return ""
}

// DecodeBody unmarshals m.Body into target via a JSON round-trip, the
// same normalize-through-JSON technique the teacher uses for DeepEqual.
func (m *PlainMessage) DecodeBody(target interface{}) error {
	raw, err := json.Marshal(m.Body)
	if err != nil {
		return NewParseError("body", m.Type, "re-encode failed", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return NewParseError("body", m.Type, "decode failed", err)
	}
	return nil
}

func bodyToMap(body Body) map[string]interface{} {
	if body == nil {
		return map[string]interface{}{}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

// NewReply builds a reply to initiating carrying kind/body, filling
// thid/to/from per section 4.5: thid = initiating.thid ?? initiating.id,
// to = [initiating.from], from = fromDID. It does not itself check reply
// legality against the state-machine table — see ValidateReplyKind and
// ThreadState for that, which a stateless producer may skip.
func NewReply(fromDID string, kind string, body Body, initiating *PlainMessage) (*PlainMessage, error) {
	if initiating.From == "" {
		return nil, NewParseError("initiating.from", "", "cannot reply to a message with no sender", nil)
	}
	if body != nil {
		if err := body.Validate(); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	msg := &PlainMessage{
		ID:          uuid.NewString(),
		Type:        TypeURI(kind),
		From:        fromDID,
		To:          []string{initiating.From},
		ThID:        initiating.EffectiveThreadID(),
		CreatedTime: now,
		Body:        bodyToMap(body),
	}
	return msg, nil
}

// Body is implemented by every typed TAP message body.
type Body interface {
	Kind() string
	Validate() error
}

// RequiresThread reports whether kind's body-level invariant requires the
// message to be a reply (i.e. carry a thid).
func RequiresThread(kind string) bool {
	switch kind {
	case KindAuthorize, KindReject, KindSettle, KindCancel, KindRevert:
		return true
	default:
		return false
	}
}

func fmtRequired(field string) error {
	return NewParseError(field, "", "required field missing", nil)
}
