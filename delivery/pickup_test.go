package delivery

import (
	"testing"
	"time"
)

func TestPickupReturnsOnlyAuthorizedRecipientsPending(t *testing.T) {
	tr := NewTracker()
	mgr := NewPickupTokenManager([]byte("test-secret"), time.Hour)

	idA := tr.Record(Attempt{MessageID: "m1", RecipientDID: "did:key:zA", DeliveryType: TypePickup})
	tr.Record(Attempt{MessageID: "m2", RecipientDID: "did:key:zB", DeliveryType: TypePickup})

	token, err := mgr.IssueToken("did:key:zA")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	records, err := tr.Pickup(token, mgr)
	if err != nil {
		t.Fatalf("Pickup: %v", err)
	}
	if len(records) != 1 || records[0].ID != idA {
		t.Fatalf("expected only %d for did:key:zA, got %v", idA, records)
	}
}

func TestPickupRejectsForgedToken(t *testing.T) {
	tr := NewTracker()
	mgr := NewPickupTokenManager([]byte("right-secret"), time.Hour)
	wrongMgr := NewPickupTokenManager([]byte("wrong-secret"), time.Hour)

	forged, err := wrongMgr.IssueToken("did:key:zA")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := tr.Pickup(forged, mgr); err == nil {
		t.Fatal("expected a token signed with a different secret to be rejected")
	}
}

func TestPickupRejectsExpiredToken(t *testing.T) {
	tr := NewTracker()
	mgr := NewPickupTokenManager([]byte("test-secret"), -time.Hour)

	expired, err := mgr.IssueToken("did:key:zA")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := tr.Pickup(expired, mgr); err == nil {
		t.Fatal("expected an already-expired token to be rejected")
	}
}
