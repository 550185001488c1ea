package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type Store interface {
	Insert(ctx context.Context, req Request) error
	Get(ctx context.Context, id string) (Request, error)
	List(ctx context.Context, userID string, status Status) ([]Request, error)
	Decide(ctx context.Context, id string, status Status, adminID string) (bool, error)
}

type Service struct {
	repo Store
	now  func() time.Time
	log  zerolog.Logger
}

func NewService(repo Store, log zerolog.Logger) *Service {
	return &Service{repo: repo, now: time.Now, log: log}
}

// Apply files a new pending request for the user.
func (s *Service) Apply(ctx context.Context, userID, userName string, a Application) (Request, error) {
	if err := a.Validate(); err != nil {
		return Request{}, err
	}
	req := newRequest(userID, userName, a, s.now())
	if err := s.repo.Insert(ctx, req); err != nil {
		return Request{}, fmt.Errorf("insert leave request: %w", err)
	}
	s.log.Info().Str("leave_id", req.ID).Str("user_id", userID).Str("type", string(req.Type)).Msg("leave requested")
	return req, nil
}

func (s *Service) Mine(ctx context.Context, userID string) ([]Request, error) {
	return s.repo.List(ctx, userID, "")
}

func (s *Service) List(ctx context.Context, status Status) ([]Request, error) {
	return s.repo.List(ctx, "", status)
}

// Decide approves or rejects a pending request. A request is decided once.
func (s *Service) Decide(ctx context.Context, adminID, id string, status Status) (Request, error) {
	if status != StatusApproved && status != StatusRejected {
		return Request{}, ErrBadDecision
	}
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.UserID == adminID {
		return Request{}, ErrSelfDecision
	}
	if req.Status != StatusPending {
		return Request{}, ErrAlreadyDecided
	}
	ok, err := s.repo.Decide(ctx, id, status, adminID)
	if err != nil {
		return Request{}, fmt.Errorf("decide leave request: %w", err)
	}
	if !ok {
		// lost a race with another administrator
		return Request{}, ErrAlreadyDecided
	}
	req.Status = status
	req.DecidedBy = &adminID
	s.log.Info().Str("leave_id", id).Str("admin_id", adminID).Str("status", string(status)).Msg("leave decided")
	return req, nil
}
