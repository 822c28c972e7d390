// Package delivery implements the append-only delivery-attempt log: one
// record per send attempt, retry bookkeeping, and lookup indices by
// recipient, message, status, and delivery type.
package delivery

import (
	"sort"
	"sync"
	"time"

	"github.com/tap-labs/tap-go"
)

// Type identifies the transport a delivery record concerns.
type Type string

const (
	TypeInternal   Type = "internal"
	TypeHTTPS      Type = "https"
	TypeReturnPath Type = "return_path"
	TypePickup     Type = "pickup"
)

// Status is a delivery record's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record is one delivery attempt. Invariant: a terminal Status (Success or
// Failed) implies DeliveredAt is set or Error is non-empty; RetryCount is
// never negative.
type Record struct {
	ID            int64
	MessageID     string
	RecipientDID  string
	DeliveryType  Type
	DeliveryURL   string
	PackedPayload []byte
	Status        Status
	RetryCount    int
	LastHTTPStatus int
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeliveredAt   *time.Time
}

// Attempt is the input to Record: the fields known at the time a delivery
// is first attempted.
type Attempt struct {
	MessageID     string
	RecipientDID  string
	DeliveryType  Type
	DeliveryURL   string
	PackedPayload []byte
}

// Patch describes a mutation to apply to an existing record via Update.
type Patch struct {
	Status         *Status
	LastHTTPStatus *int
	Error          *string
	IncrementRetry bool
	Delivered      bool
}

// Filter narrows List to records matching every non-empty field.
type Filter struct {
	RecipientDID string
	MessageID    string
	Status       Status
	DeliveryType Type
}

// Tracker is the in-process delivery log. It never deletes records; log
// rotation is left to the host.
type Tracker struct {
	mu      sync.RWMutex
	records map[int64]*Record
	order   []int64
	nextID  int64

	byRecipient map[string][]int64
	byMessage   map[string][]int64
	byStatus    map[Status][]int64
	byType      map[Type][]int64
}

// NewTracker creates an empty delivery tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records:     make(map[int64]*Record),
		byRecipient: make(map[string][]int64),
		byMessage:   make(map[string][]int64),
		byStatus:    make(map[Status][]int64),
		byType:      make(map[Type][]int64),
	}
}

// Record creates a new pending delivery record for attempt and returns its
// ID.
func (t *Tracker) Record(attempt Attempt) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	now := time.Now().UTC()
	rec := &Record{
		ID:            id,
		MessageID:     attempt.MessageID,
		RecipientDID:  attempt.RecipientDID,
		DeliveryType:  attempt.DeliveryType,
		DeliveryURL:   attempt.DeliveryURL,
		PackedPayload: attempt.PackedPayload,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	t.records[id] = rec
	t.order = append(t.order, id)
	t.byRecipient[attempt.RecipientDID] = append(t.byRecipient[attempt.RecipientDID], id)
	t.byMessage[attempt.MessageID] = append(t.byMessage[attempt.MessageID], id)
	t.byStatus[StatusPending] = append(t.byStatus[StatusPending], id)
	t.byType[attempt.DeliveryType] = append(t.byType[attempt.DeliveryType], id)
	return id
}

// Update applies patch to the record identified by id.
func (t *Tracker) Update(id int64, patch Patch) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return tap.NewStorageError("update", "unknown delivery id", nil)
	}

	if patch.Status != nil && *patch.Status != rec.Status {
		t.removeFromIndex(t.byStatus, rec.Status, id)
		rec.Status = *patch.Status
		t.byStatus[rec.Status] = append(t.byStatus[rec.Status], id)
	}
	if patch.LastHTTPStatus != nil {
		rec.LastHTTPStatus = *patch.LastHTTPStatus
	}
	if patch.Error != nil {
		rec.Error = *patch.Error
	}
	if patch.IncrementRetry {
		rec.RetryCount++
	}
	if patch.Delivered {
		now := time.Now().UTC()
		rec.DeliveredAt = &now
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *Tracker) removeFromIndex(index map[Status][]int64, status Status, id int64) {
	ids := index[status]
	for i, v := range ids {
		if v == id {
			index[status] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// Get returns the record with the given id, if present.
func (t *Tracker) Get(id int64) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns every record matching filter, in creation order, truncated
// to limit (0 means unlimited). It scans one index chosen by the supplied
// filter fields (see candidateIDs) rather than always walking the full log.
func (t *Tracker) List(filter Filter, limit int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	candidates := t.candidateIDs(filter)
	out := make([]Record, 0, len(candidates))
	for _, id := range candidates {
		rec := t.records[id]
		if filter.RecipientDID != "" && rec.RecipientDID != filter.RecipientDID {
			continue
		}
		if filter.MessageID != "" && rec.MessageID != filter.MessageID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.DeliveryType != "" && rec.DeliveryType != filter.DeliveryType {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// candidateIDs picks the first applicable index for filter in the fixed
// order MessageID, RecipientDID, DeliveryType, Status, falling back to a
// scan of every record when no filter field is set.
func (t *Tracker) candidateIDs(filter Filter) []int64 {
	switch {
	case filter.MessageID != "":
		return t.byMessage[filter.MessageID]
	case filter.RecipientDID != "":
		return t.byRecipient[filter.RecipientDID]
	case filter.DeliveryType != "":
		return t.byType[filter.DeliveryType]
	case filter.Status != "":
		return t.byStatus[filter.Status]
	default:
		return t.order
	}
}
