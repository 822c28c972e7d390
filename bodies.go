package tap

import (
	"regexp"

	"github.com/tap-labs/tap-go/caip"
)

// TAP message kinds (the fragment after SchemaBase).
const (
	KindTransfer             = "Transfer"
	KindPayment              = "Payment"
	KindAuthorize            = "Authorize"
	KindReject               = "Reject"
	KindSettle               = "Settle"
	KindCancel               = "Cancel"
	KindRevert               = "Revert"
	KindAddAgents            = "AddAgents"
	KindReplaceAgent         = "ReplaceAgent"
	KindRemoveAgent          = "RemoveAgent"
	KindUpdatePolicies       = "UpdatePolicies"
	KindUpdateParty          = "UpdateParty"
	KindConfirmRelationship  = "ConfirmRelationship"
	KindConnect              = "Connect"
	KindAuthorizationRequired = "AuthorizationRequired"
	KindPresentation         = "Presentation"
	KindBasicMessage         = "BasicMessage"
	KindTrustPing            = "TrustPing"
	KindTrustPingResponse    = "TrustPingResponse"
)

var amountRe = regexp.MustCompile(`^\d+(\.\d+)?$`)

// Party is a transaction counterparty reference.
type Party struct {
	ID       string                 `json:"@id"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AgentDescriptor is a TAP protocol participant entry embedded in Transfer/
// Payment bodies — distinct from this module's Agent (C6), which is the
// software construct that sends and receives these messages.
type AgentDescriptor struct {
	ID       string                 `json:"@id"`
	Role     string                 `json:"role,omitempty"`
	For      []string               `json:"for,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Transfer is the body opening a transaction-authorization thread for an
// on-chain asset transfer.
type Transfer struct {
	Context       string            `json:"@context"`
	TypeTag       string            `json:"@type"`
	Asset         string            `json:"asset"`
	Amount        string            `json:"amount"`
	Originator    Party             `json:"originator"`
	Beneficiary   *Party            `json:"beneficiary,omitempty"`
	Agents        []AgentDescriptor `json:"agents"`
	Memo          string            `json:"memo,omitempty"`
	SettlementID  string            `json:"settlement_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

func (b *Transfer) Kind() string { return KindTransfer }

func (b *Transfer) Validate() error {
	if _, err := caip.ParseAssetID(b.Asset); err != nil {
		return err
	}
	if !amountRe.MatchString(b.Amount) {
		return NewParseError("Transfer.amount", b.Amount, `must match ^\d+(\.\d+)?$`, nil)
	}
	if b.Originator.ID == "" {
		return fmtRequired("Transfer.originator")
	}
	if b.Agents == nil {
		return fmtRequired("Transfer.agents")
	}
	return nil
}

// Payment is the body opening a thread for a merchant-initiated payment
// request, optionally quoted in a fiat currency rather than an asset.
type Payment struct {
	Context  string            `json:"@context"`
	TypeTag  string            `json:"@type"`
	Asset    string            `json:"asset,omitempty"`
	Currency string            `json:"currency,omitempty"`
	Amount   string            `json:"amount"`
	Merchant Party             `json:"merchant"`
	Customer *Party            `json:"customer,omitempty"`
	Invoice  string            `json:"invoice,omitempty"`
	Agents   []AgentDescriptor `json:"agents"`
	Expiry   string            `json:"expiry,omitempty"`
}

func (b *Payment) Kind() string { return KindPayment }

func (b *Payment) Validate() error {
	if b.Asset == "" && b.Currency == "" {
		return fmtRequired("Payment.asset|Payment.currency")
	}
	if b.Asset != "" {
		if _, err := caip.ParseAssetID(b.Asset); err != nil {
			return err
		}
	}
	if !amountRe.MatchString(b.Amount) {
		return NewParseError("Payment.amount", b.Amount, `must match ^\d+(\.\d+)?$`, nil)
	}
	if b.Merchant.ID == "" {
		return fmtRequired("Payment.merchant")
	}
	return nil
}

// Authorize approves a pending Transfer or Payment.
type Authorize struct {
	Context           string `json:"@context"`
	TypeTag           string `json:"@type"`
	SettlementAddress string `json:"settlement_address,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Expiry            string `json:"expiry,omitempty"`
}

func (b *Authorize) Kind() string  { return KindAuthorize }
func (b *Authorize) Validate() error {
	if b.SettlementAddress != "" {
		if _, err := caip.ParseAccountID(b.SettlementAddress); err != nil {
			return err
		}
	}
	return nil
}

// Reject declines a pending Transfer or Payment.
type Reject struct {
	Context string `json:"@context"`
	TypeTag string `json:"@type"`
	Reason  string `json:"reason"`
}

func (b *Reject) Kind() string { return KindReject }
func (b *Reject) Validate() error {
	if b.Reason == "" {
		return fmtRequired("Reject.reason")
	}
	return nil
}

// Settle reports that an authorized transfer has been broadcast/confirmed
// on-chain.
type Settle struct {
	Context       string `json:"@context"`
	TypeTag       string `json:"@type"`
	SettlementID  string `json:"settlement_id"`
	Amount        string `json:"amount,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func (b *Settle) Kind() string { return KindSettle }
func (b *Settle) Validate() error {
	if b.SettlementID == "" {
		return fmtRequired("Settle.settlement_id")
	}
	if b.Amount != "" && !amountRe.MatchString(b.Amount) {
		return NewParseError("Settle.amount", b.Amount, `must match ^\d+(\.\d+)?$`, nil)
	}
	if b.TransactionID != "" {
		if _, err := caip.ParseAccountID(b.TransactionID); err != nil {
			return NewParseError("Settle.transaction_id", b.TransactionID, "must be a CAIP-10 account or transaction reference", err)
		}
	}
	return nil
}

// Cancel aborts a thread before settlement.
type Cancel struct {
	Context string `json:"@context"`
	TypeTag string `json:"@type"`
	Reason  string `json:"reason,omitempty"`
}

func (b *Cancel) Kind() string    { return KindCancel }
func (b *Cancel) Validate() error { return nil }

// Revert requests reversal of a settled transfer.
type Revert struct {
	Context           string `json:"@context"`
	TypeTag           string `json:"@type"`
	SettlementAddress string `json:"settlement_address"`
	Reason            string `json:"reason"`
}

func (b *Revert) Kind() string { return KindRevert }
func (b *Revert) Validate() error {
	if b.SettlementAddress == "" {
		return fmtRequired("Revert.settlement_address")
	}
	if _, err := caip.ParseAccountID(b.SettlementAddress); err != nil {
		return err
	}
	if b.Reason == "" {
		return fmtRequired("Revert.reason")
	}
	return nil
}

// AddAgents appends agents to an in-flight thread.
type AddAgents struct {
	Context string            `json:"@context"`
	TypeTag string            `json:"@type"`
	Agents  []AgentDescriptor `json:"agents"`
}

func (b *AddAgents) Kind() string { return KindAddAgents }
func (b *AddAgents) Validate() error {
	if len(b.Agents) == 0 {
		return fmtRequired("AddAgents.agents")
	}
	return nil
}

// ReplaceAgent swaps one thread participant for another.
type ReplaceAgent struct {
	Context     string          `json:"@context"`
	TypeTag     string          `json:"@type"`
	Original    AgentDescriptor `json:"original"`
	Replacement AgentDescriptor `json:"replacement"`
}

func (b *ReplaceAgent) Kind() string { return KindReplaceAgent }
func (b *ReplaceAgent) Validate() error {
	if b.Original.ID == "" || b.Replacement.ID == "" {
		return fmtRequired("ReplaceAgent.original|replacement")
	}
	return nil
}

// RemoveAgent removes a thread participant.
type RemoveAgent struct {
	Context string          `json:"@context"`
	TypeTag string          `json:"@type"`
	Agent   AgentDescriptor `json:"agent"`
}

func (b *RemoveAgent) Kind() string { return KindRemoveAgent }
func (b *RemoveAgent) Validate() error {
	if b.Agent.ID == "" {
		return fmtRequired("RemoveAgent.agent")
	}
	return nil
}

// UpdatePolicies replaces the compliance policies attached to a thread.
type UpdatePolicies struct {
	Context  string                   `json:"@context"`
	TypeTag  string                   `json:"@type"`
	Policies []map[string]interface{} `json:"policies"`
}

func (b *UpdatePolicies) Kind() string    { return KindUpdatePolicies }
func (b *UpdatePolicies) Validate() error { return nil }

// UpdateParty replaces originator/beneficiary/merchant/customer details.
type UpdateParty struct {
	Context string `json:"@context"`
	TypeTag string `json:"@type"`
	Party   Party  `json:"party"`
}

func (b *UpdateParty) Kind() string { return KindUpdateParty }
func (b *UpdateParty) Validate() error {
	if b.Party.ID == "" {
		return fmtRequired("UpdateParty.party")
	}
	return nil
}

// ConfirmRelationship attests a controlling relationship between an agent
// and a party.
type ConfirmRelationship struct {
	Context string `json:"@context"`
	TypeTag string `json:"@type"`
	AgentID string `json:"@id"`
	For     string `json:"for"`
	Role    string `json:"role,omitempty"`
}

func (b *ConfirmRelationship) Kind() string { return KindConfirmRelationship }
func (b *ConfirmRelationship) Validate() error {
	if b.AgentID == "" || b.For == "" {
		return fmtRequired("ConfirmRelationship.@id|for")
	}
	return nil
}

// Connect opens a relationship between two agents under a constraint set,
// ahead of any specific Transfer or Payment.
type Connect struct {
	Context     string                 `json:"@context"`
	TypeTag     string                 `json:"@type"`
	Constraints map[string]interface{} `json:"constraints"`
	For         string                 `json:"for,omitempty"`
}

func (b *Connect) Kind() string    { return KindConnect }
func (b *Connect) Validate() error { return nil }

// AuthorizationRequired signals that additional off-band authorization is
// needed before a Transfer or Payment can proceed.
type AuthorizationRequired struct {
	Context string `json:"@context"`
	TypeTag string `json:"@type"`
	Reason  string `json:"reason,omitempty"`
}

func (b *AuthorizationRequired) Kind() string    { return KindAuthorizationRequired }
func (b *AuthorizationRequired) Validate() error { return nil }

// Presentation carries a verifiable-credential presentation, typically in
// response to an AuthorizationRequired.
type Presentation struct {
	Context      string                   `json:"@context"`
	TypeTag      string                   `json:"@type"`
	Presentation map[string]interface{} `json:"presentation"`
}

func (b *Presentation) Kind() string    { return KindPresentation }
func (b *Presentation) Validate() error { return nil }

// BasicMessage is a free-form DIDComm basic message.
type BasicMessage struct {
	Content string `json:"content"`
}

func (b *BasicMessage) Kind() string    { return KindBasicMessage }
func (b *BasicMessage) Validate() error { return nil }

// TrustPing is a liveness probe.
type TrustPing struct {
	ResponseRequested bool `json:"response_requested,omitempty"`
}

func (b *TrustPing) Kind() string    { return KindTrustPing }
func (b *TrustPing) Validate() error { return nil }

// TrustPingResponse answers a TrustPing.
type TrustPingResponse struct{}

func (b *TrustPingResponse) Kind() string    { return KindTrustPingResponse }
func (b *TrustPingResponse) Validate() error { return nil }
