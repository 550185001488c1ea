// Package secondfactor issues short-lived numeric codes and checks them.
package secondfactor

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
)

const (
	CodeLength         = 6
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 5
)

var (
	ErrNoChallenge      = errors.New("no active code; request a new one")
	ErrTooManyAttempts  = errors.New("too many attempts; request a new code")
	ErrDeliveryFailed   = errors.New("could not deliver code")
	ErrUnknownRecipient = errors.New("no delivery address for user")
)

// Store keeps the pending code and attempt counter per user.
type Store interface {
	Save(ctx context.Context, userID, code string, ttl time.Duration) error
	Load(ctx context.Context, userID string) (string, error)
	Incr(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID string) error
}

// Sender delivers a code to the user.
type Sender interface {
	Send(ctx context.Context, userID, code string, ttl time.Duration) error
}

type Service struct {
	store       Store
	sender      Sender
	ttl         time.Duration
	maxAttempts int
	log         zerolog.Logger
}

func NewService(store Store, sender Sender, ttl time.Duration, maxAttempts int, log zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{store: store, sender: sender, ttl: ttl, maxAttempts: maxAttempts, log: log}
}

// Issue generates a fresh code for userID, replacing any pending one, and
// delivers it.
func (s *Service) Issue(ctx context.Context, userID string) error {
	code, err := generate(CodeLength)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := s.store.Save(ctx, userID, code, s.ttl); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	if err := s.sender.Send(ctx, userID, code, s.ttl); err != nil {
		_ = s.store.Delete(ctx, userID)
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	s.log.Debug().Str("user_id", userID).Dur("ttl", s.ttl).Msg("two-factor code issued")
	return nil
}

// Check compares code with the pending one. A correct code is consumed. Once
// the attempt limit is passed the pending code is discarded.
func (s *Service) Check(ctx context.Context, userID, code string) (bool, error) {
	want, err := s.store.Load(ctx, userID)
	if err != nil {
		return false, err
	}
	n, err := s.store.Incr(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("count attempt: %w", err)
	}
	if n > int64(s.maxAttempts) {
		_ = s.store.Delete(ctx, userID)
		s.log.Warn().Str("user_id", userID).Int64("attempts", n).Msg("two-factor attempts exhausted")
		return false, ErrTooManyAttempts
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(code)) != 1 {
		return false, nil
	}
	if err := s.store.Delete(ctx, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("consume two-factor code")
	}
	return true, nil
}

func generate(n int) (string, error) {
	ten := big.NewInt(10)
	b := make([]byte, n)
	for i := range b {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b[i] = byte('0' + d.Int64())
	}
	return string(b), nil
}
