package delivery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecordStartsPending(t *testing.T) {
	tr := NewTracker()
	id := tr.Record(Attempt{MessageID: "m1", RecipientDID: "did:key:zB", DeliveryType: TypeInternal})

	rec, ok := tr.Get(id)
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.Status != StatusPending || rec.RetryCount != 0 {
		t.Fatalf("got status=%s retry=%d, want pending/0", rec.Status, rec.RetryCount)
	}
}

func TestUpdateTerminalRequiresDeliveredAtOrError(t *testing.T) {
	tr := NewTracker()
	id := tr.Record(Attempt{MessageID: "m1", RecipientDID: "did:key:zB", DeliveryType: TypeHTTPS})

	success := StatusSuccess
	if err := tr.Update(id, Patch{Status: &success, Delivered: true}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec, _ := tr.Get(id)
	if rec.Status != StatusSuccess || rec.DeliveredAt == nil {
		t.Fatalf("expected success with delivered_at set, got %+v", rec)
	}
}

func TestListFiltersByRecipientAndStatus(t *testing.T) {
	tr := NewTracker()
	idA := tr.Record(Attempt{MessageID: "m1", RecipientDID: "did:key:zA", DeliveryType: TypeInternal})
	idB := tr.Record(Attempt{MessageID: "m2", RecipientDID: "did:key:zB", DeliveryType: TypeInternal})

	success := StatusSuccess
	_ = tr.Update(idA, Patch{Status: &success, Delivered: true})

	results := tr.List(Filter{RecipientDID: "did:key:zA"}, 0)
	if len(results) != 1 || results[0].ID != idA {
		t.Fatalf("expected exactly record %d for recipient A, got %v", idA, results)
	}

	pending := tr.List(Filter{Status: StatusPending}, 0)
	if len(pending) != 1 || pending[0].ID != idB {
		t.Fatalf("expected only %d still pending, got %v", idB, pending)
	}
}

func TestRetrySucceedsBeforeCap(t *testing.T) {
	tr := NewTracker()
	id := tr.Record(Attempt{MessageID: "m1", RecipientDID: "did:web:example.com", DeliveryType: TypeHTTPS})

	calls := 0
	err := tr.Retry(context.Background(), id, 3, time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 503, errors.New("unreachable")
		}
		return 200, nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	rec, _ := tr.Get(id)
	if rec.Status != StatusSuccess || rec.RetryCount != 1 {
		t.Fatalf("got status=%s retry=%d, want success/1", rec.Status, rec.RetryCount)
	}
}

func TestRetryExhaustsCapAndFails(t *testing.T) {
	tr := NewTracker()
	id := tr.Record(Attempt{MessageID: "m1", RecipientDID: "did:web:unreachable.example", DeliveryType: TypeHTTPS})

	err := tr.Retry(context.Background(), id, 3, time.Millisecond, func(ctx context.Context) (int, error) {
		return 503, errors.New("unreachable")
	})
	if err == nil {
		t.Fatal("expected terminal failure after exhausting retry cap")
	}
	rec, _ := tr.Get(id)
	if rec.Status != StatusFailed || rec.RetryCount == 0 || rec.LastHTTPStatus != 503 {
		t.Fatalf("got %+v, want terminal failed with last_http_status 503", rec)
	}
}
