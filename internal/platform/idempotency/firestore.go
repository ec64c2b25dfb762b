package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/nilemarket/storefront/internal/platform/firestore"
)

// Expired documents are removed by a Firestore TTL policy on expiresAt.
const collectionName = "idempotencyKeys"

type recordDocument struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

var _ Store = (*FirestoreStore)(nil)

// FirestoreStore implements Store on Firestore transactions.
type FirestoreStore struct {
	provider *pfirestore.Provider
	records  *pfirestore.Collection[recordDocument]
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider *pfirestore.Provider) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	return &FirestoreStore{
		provider: provider,
		records:  pfirestore.NewCollection[recordDocument](provider, collectionName),
	}, nil
}

// Reserve implements Store.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := documentID(key)

	var result Reservation
	err := s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := s.records.Ref(ctx, id)
		if err != nil {
			return err
		}
		doc, err := s.records.GetTx(ctx, tx, id)
		if err != nil && !pfirestore.IsNotFound(err) {
			return err
		}
		if err == nil {
			record := doc.Data.toRecord()
			if !expired(record, now) {
				if record.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				state := ReservationStatePending
				if record.Status == StatusCompleted {
					state = ReservationStateCompleted
				}
				result = Reservation{State: state, Record: record}
				return nil
			}
		}

		record := pendingRecord(key, fingerprint, now, ttl)
		if err := tx.Set(ref, newRecordDocument(record)); err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Record: record}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return Reservation{}, ErrFingerprintMismatch
		}
		return Reservation{}, pfirestore.WrapError("idempotency.reserve", err)
	}
	return result, nil
}

// SaveResponse implements Store.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := documentID(key)

	err := s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := s.records.Ref(ctx, id)
		if err != nil {
			return err
		}
		record := Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		doc, err := s.records.GetTx(ctx, tx, id)
		switch {
		case err == nil:
			record = doc.Data.toRecord()
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		case !pfirestore.IsNotFound(err):
			return err
		}

		record.Status = StatusCompleted
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = sanitizeHeaders(resp.Headers)
		record.ResponseBody = append([]byte(nil), resp.Body...)
		record.UpdatedAt = now
		record.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, newRecordDocument(record))
	})
	if err != nil && !errors.Is(err, ErrFingerprintMismatch) {
		return pfirestore.WrapError("idempotency.save", err)
	}
	return err
}

// Release implements Store. Releasing a missing key succeeds.
func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	return s.records.Delete(ctx, documentID(key))
}

func newRecordDocument(r Record) recordDocument {
	return recordDocument{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (d recordDocument) toRecord() Record {
	return Record{
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Status:          Status(d.Status),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}
