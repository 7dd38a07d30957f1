package twofa

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-trustgate/internal/domain"
	"github.com/go-trustgate/internal/infrastructure/memory"
	"github.com/go-trustgate/internal/observability/metrics"
)

// DefaultTTL is how long a completed password check keeps OTP issuance open.
const DefaultTTL = 10 * time.Minute

// SharedStore is the cross-instance flag backend.
type SharedStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// MarkerStore records that an identity recently passed its primary-factor
// check. It is a coarse gate, not a one-time token: reading a marker never
// consumes it.
//
// Markers go to the shared store when one is configured. Any failure there
// is absorbed by writing to or reading from the process-local table, so
// during an outage markers are only visible to the instance that set them.
type MarkerStore struct {
	shared SharedStore
	local  *memory.MarkerTable
}

// NewMarkerStore builds a MarkerStore. shared may be nil.
func NewMarkerStore(shared SharedStore, local *memory.MarkerTable) *MarkerStore {
	if local == nil {
		local = memory.NewMarkerTable(nil)
	}
	return &MarkerStore{shared: shared, local: local}
}

func markerKey(email string) string {
	return "login:2fa:" + domain.NormalizeEmail(email)
}

// SetMarker opens OTP issuance for email for ttl (DefaultTTL when ttl <= 0).
// A shared-store failure writes the marker to the local table instead.
func (s *MarkerStore) SetMarker(ctx context.Context, email string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := markerKey(email)
	if s.shared != nil {
		err := s.shared.Set(ctx, key, "1", ttl)
		if err == nil {
			return
		}
		s.fallback("set", err)
	}
	s.local.Set(key, ttl)
}

// HasMarker reports whether an unexpired marker exists for email. Markers
// written locally during an outage stay visible after the shared store recovers.
func (s *MarkerStore) HasMarker(ctx context.Context, email string) bool {
	key := markerKey(email)
	if s.shared != nil {
		ok, err := s.shared.Exists(ctx, key)
		if err == nil {
			return ok || s.local.Has(key)
		}
		s.fallback("exists", err)
	}
	return s.local.Has(key)
}

// ClearMarker removes the marker from both backends.
func (s *MarkerStore) ClearMarker(ctx context.Context, email string) {
	key := markerKey(email)
	if s.shared != nil {
		if err := s.shared.Delete(ctx, key); err != nil {
			s.fallback("delete", err)
		}
	}
	s.local.Delete(key)
}

func (s *MarkerStore) fallback(op string, err error) {
	slog.Warn("2fa marker store using process-local table", "op", op, "err", err)
	metrics.StoreFallbacksTotal.WithLabelValues("markers").Inc()
}
