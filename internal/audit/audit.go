// Package audit records an append-only log of financial actions.
//
// Every escrow release/refund, payout transition, and dispute resolution
// writes an entry. Audit writes are best-effort from the caller's point of
// view: a failed insert is logged, never allowed to fail the money movement
// it describes.
package audit

import (
	"context"
	"time"

	"github.com/taskvine/taskvine/internal/idgen"
)

type contextKey string

const (
	ctxActorRole contextKey = "audit_actor_role"
	ctxActorID   contextKey = "audit_actor_id"
	ctxRequestID contextKey = "audit_request_id"
)

// WithActor attaches actor info to the context for audit logging.
func WithActor(ctx context.Context, role, id string) context.Context {
	ctx = context.WithValue(ctx, ctxActorRole, role)
	return context.WithValue(ctx, ctxActorID, id)
}

// WithRequestID attaches a request ID for audit correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestID, requestID)
}

func actorFromCtx(ctx context.Context) (role, id, requestID string) {
	role = "system"
	if v, ok := ctx.Value(ctxActorRole).(string); ok {
		role = v
	}
	if v, ok := ctx.Value(ctxActorID).(string); ok {
		id = v
	}
	if v, ok := ctx.Value(ctxRequestID).(string); ok {
		requestID = v
	}
	return
}

// Entry is a single audit record.
type Entry struct {
	ID          string    `json:"id"`
	BookingID   string    `json:"bookingId,omitempty"`
	ActorRole   string    `json:"actorRole"`
	ActorID     string    `json:"actorId,omitempty"`
	Operation   string    `json:"operation"`
	AmountPence int64     `json:"amountPence,omitempty"`
	Reference   string    `json:"reference,omitempty"` // payment/payout/dispute id
	BeforeState string    `json:"beforeState,omitempty"`
	AfterState  string    `json:"afterState,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	RequestID   string    `json:"requestId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Logger persists audit entries.
type Logger interface {
	Log(ctx context.Context, e *Entry) error
	Query(ctx context.Context, bookingID string, limit int) ([]*Entry, error)
}

// Record builds an entry from the context actor and writes it.
func Record(ctx context.Context, l Logger, op, bookingID, reference string, amountPence int64, before, after, detail string) error {
	role, actorID, requestID := actorFromCtx(ctx)
	return l.Log(ctx, &Entry{
		ID:          idgen.WithPrefix(idgen.AuditPrefix),
		BookingID:   bookingID,
		ActorRole:   role,
		ActorID:     actorID,
		Operation:   op,
		AmountPence: amountPence,
		Reference:   reference,
		BeforeState: before,
		AfterState:  after,
		Detail:      detail,
		RequestID:   requestID,
		CreatedAt:   time.Now(),
	})
}
