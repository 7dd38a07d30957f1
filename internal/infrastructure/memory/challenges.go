package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-trustgate/internal/domain"
	"github.com/go-trustgate/internal/pkg/clock"
)

// ChallengeStore keeps OTP challenges in process memory. It has the same
// semantics as dynamo.OTPChallengeRepo and is used for single-instance
// development (OTP_STORE=memory) and in tests.
//
// Only the latest challenge per key is held: a Put drops the one it
// supersedes, and Sweep drops expired ones.
type ChallengeStore struct {
	mu    sync.Mutex
	clock clock.Clock
	data  map[string]*domain.OTPChallenge
}

func NewChallengeStore(c clock.Clock) *ChallengeStore {
	if c == nil {
		c = clock.System
	}
	return &ChallengeStore{clock: c, data: make(map[string]*domain.OTPChallenge)}
}

func (s *ChallengeStore) Put(_ context.Context, c *domain.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.data[c.Key]; ok && cur.ChallengeID == c.ChallengeID {
		return fmt.Errorf("otp challenge %s exists: %w", c.ChallengeID, domain.ErrConflict)
	}
	cp := *c
	s.data[c.Key] = &cp
	return nil
}

func (s *ChallengeStore) Latest(_ context.Context, key string) (*domain.OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("otp challenge not found: %w", domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *ChallengeStore) IncrementAttempts(_ context.Context, key, challengeID string, maxAttempts int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(key, challengeID)
	if c == nil {
		return 0, fmt.Errorf("otp challenge not found: %w", domain.ErrNotFound)
	}
	if c.ConsumedAt != nil || c.Attempts >= maxAttempts {
		return c.Attempts, fmt.Errorf("otp challenge closed: %w", domain.ErrConflict)
	}
	c.Attempts++
	return c.Attempts, nil
}

func (s *ChallengeStore) Consume(_ context.Context, key, challengeID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(key, challengeID)
	if c == nil {
		return fmt.Errorf("otp challenge not found: %w", domain.ErrNotFound)
	}
	if c.ConsumedAt != nil {
		return fmt.Errorf("otp challenge already consumed: %w", domain.ErrConflict)
	}
	c.ConsumedAt = &at
	return nil
}

func (s *ChallengeStore) MarkDispatched(_ context.Context, key, challengeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(key, challengeID)
	if c == nil {
		return fmt.Errorf("otp challenge not found: %w", domain.ErrNotFound)
	}
	c.Dispatched = true
	return nil
}

// Sweep drops every expired challenge and returns how many were removed.
func (s *ChallengeStore) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, c := range s.data {
		if !now.Before(c.ExpiresAt) {
			delete(s.data, key)
			n++
		}
	}
	return n
}

func (s *ChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Run calls Sweep every interval until ctx is done.
func (s *ChallengeStore) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// find returns the stored challenge only while challengeID is still the latest.
func (s *ChallengeStore) find(key, challengeID string) *domain.OTPChallenge {
	if c, ok := s.data[key]; ok && c.ChallengeID == challengeID {
		return c
	}
	return nil
}
