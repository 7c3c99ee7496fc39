// Package callstore holds the authoritative mapping from call identifier to call record.
package callstore

import (
	"context"
	"errors"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/domain"
)

// ErrCallNotFound is returned when no record exists for a call identifier.
var ErrCallNotFound = errors.New("call not found")

// Store is the call record registry. Operations on different call identifiers
// never block each other; operations on the same identifier are linearizable.
type Store interface {
	// GetOrCreate returns the existing record unchanged, or creates one in the
	// initial dialog state. created reports which happened.
	GetOrCreate(ctx context.Context, callSid, from, to string) (rec domain.CallRecord, created bool, err error)
	Get(ctx context.Context, callSid string) (domain.CallRecord, bool, error)
	// Update applies fn under the call's lock and returns the resulting record.
	// If fn returns an error the record is left untouched.
	Update(ctx context.Context, callSid string, fn func(rec *domain.CallRecord) error) (domain.CallRecord, error)
	// MarkInactive is a no-op if the record is absent or already inactive.
	MarkInactive(ctx context.Context, callSid string) error
	ListActive(ctx context.Context) ([]domain.CallRecord, error)
	// Reap removes inactive records that ended before cutoff.
	Reap(ctx context.Context, cutoff time.Time) (int, error)
}
