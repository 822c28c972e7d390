package tap

import "testing"

func TestNewReplyThreadingAndRecipient(t *testing.T) {
	initiating, err := NewMessage("did:key:zA", TypeURI(KindTransfer), &Transfer{
		Asset:      "eip155:1/erc20:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		Amount:     "100.00",
		Originator: Party{ID: "did:key:zA"},
		Agents:     []AgentDescriptor{},
	}, MessageOptions{To: []string{"did:key:zB"}})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}

	authorize, err := NewReply("did:key:zB", KindAuthorize, &Authorize{}, initiating)
	if err != nil {
		t.Fatalf("NewReply: %v", err)
	}
	if authorize.ThID != initiating.EffectiveThreadID() {
		t.Fatalf("thid = %q, want %q", authorize.ThID, initiating.EffectiveThreadID())
	}
	if len(authorize.To) != 1 || authorize.To[0] != initiating.From {
		t.Fatalf("to = %v, want [%s]", authorize.To, initiating.From)
	}

	settle, err := NewReply("did:key:zA", KindSettle, &Settle{SettlementID: "s1"}, authorize)
	if err != nil {
		t.Fatalf("NewReply settle: %v", err)
	}
	if settle.ThID != initiating.ID {
		t.Fatalf("settle.thid = %q, want %q (carried through the thread)", settle.ThID, initiating.ID)
	}
}

func TestValidateReplyKindIllegalTransitions(t *testing.T) {
	if err := ValidateReplyKind(KindTransfer, KindSettle); err == nil {
		t.Fatal("expected Settle to be illegal directly after Transfer")
	}
	if err := ValidateReplyKind(KindTransfer, KindAuthorize); err != nil {
		t.Fatalf("Authorize should legally follow Transfer: %v", err)
	}
	if err := ValidateReplyKind(KindAuthorize, KindSettle); err != nil {
		t.Fatalf("Settle should legally follow Authorize: %v", err)
	}
	for _, terminal := range []string{KindReject, KindCancel, KindRevert} {
		if kinds := LegalNextKinds(terminal); len(kinds) != 0 {
			t.Fatalf("%s should be terminal, got successors %v", terminal, kinds)
		}
	}
}

func TestThreadStateEnforcesTable(t *testing.T) {
	ts := NewThreadState()

	transfer, _ := NewMessage("did:key:zA", TypeURI(KindTransfer), &Transfer{
		Asset:      "eip155:1/erc20:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		Amount:     "1.00",
		Originator: Party{ID: "did:key:zA"},
		Agents:     []AgentDescriptor{},
	}, MessageOptions{})
	if err := ts.ValidateReply(transfer); err != nil {
		t.Fatalf("opening transfer should be valid: %v", err)
	}

	settle, _ := NewReply("did:key:zB", KindSettle, &Settle{SettlementID: "s1"}, transfer)
	if err := ts.ValidateReply(settle); err == nil {
		t.Fatal("expected IllegalReplyError for Settle directly after Transfer")
	}

	authorize, _ := NewReply("did:key:zB", KindAuthorize, &Authorize{}, transfer)
	if err := ts.ValidateReply(authorize); err != nil {
		t.Fatalf("authorize should be valid: %v", err)
	}

	settle2, _ := NewReply("did:key:zA", KindSettle, &Settle{SettlementID: "s1"}, authorize)
	if err := ts.ValidateReply(settle2); err != nil {
		t.Fatalf("settle after authorize should be valid: %v", err)
	}
}

func TestTransferValidation(t *testing.T) {
	valid := &Transfer{
		Asset:      "eip155:1/erc20:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		Amount:     "100.00",
		Originator: Party{ID: "did:key:zA"},
		Agents:     []AgentDescriptor{},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid transfer, got %v", err)
	}

	invalidAmount := *valid
	invalidAmount.Amount = "abc"
	if err := invalidAmount.Validate(); err == nil {
		t.Fatal("expected amount validation failure")
	}

	invalidAsset := *valid
	invalidAsset.Asset = "not-a-caip-asset"
	if err := invalidAsset.Validate(); err == nil {
		t.Fatal("expected asset validation failure")
	}
}
