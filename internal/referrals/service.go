package referrals

import (
	"context"
	"errors"
	"log/slog"

	"github.com/greenleaf/storefront/internal/domain"
)

const defaultRewardPoints = 200

// PointsIssuer is the slice of the loyalty engine the referral lifecycle
// needs.
type PointsIssuer interface {
	AwardReferralPoints(ctx context.Context, userID, referralID string, points int) error
}

var ErrNotRewardable = errors.New("referral is not in a rewardable state")

// Service drives the referral state machine around the repository.
type Service struct {
	repo   *Repository
	points PointsIssuer
	logger *slog.Logger
}

func NewService(repo *Repository, points PointsIssuer, logger *slog.Logger) *Service {
	return &Service{repo: repo, points: points, logger: logger}
}

// ValidateCode checks a code and, when the caller is known, rejects
// self-referral. The boolean form mirrors what the validate endpoint
// returns to the storefront.
func (s *Service) ValidateCode(ctx context.Context, code, userID string) (bool, int, error) {
	owner, err := s.repo.CodeOwner(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return false, 0, nil
		}
		return false, 0, err
	}
	if userID != "" && owner == userID {
		return false, 0, nil
	}
	return true, ReferralDiscountPercent, nil
}

// RewardFor issues the referrer's points for a completed referral and moves
// it to rewarded. The ledger's unique award key makes the points side
// idempotent; the guarded status update makes the transition one-way.
func (s *Service) RewardFor(ctx context.Context, userID, referralID string) (int, error) {
	ref, err := s.repo.GetByID(ctx, referralID)
	if err != nil {
		return 0, err
	}
	if ref == nil || ref.ReferrerID != userID {
		return 0, ErrCodeNotFound
	}
	if ref.Status != domain.ReferralStatusCompleted {
		return 0, ErrNotRewardable
	}

	if err := s.points.AwardReferralPoints(ctx, ref.ReferrerID, ref.ID, ref.RewardPoints); err != nil {
		return 0, err
	}

	if _, err := s.repo.MarkRewarded(ctx, ref.ID); err != nil {
		return 0, err
	}

	s.logger.Info("referral rewarded",
		"referral_id", ref.ID, "referrer_id", ref.ReferrerID, "points", ref.RewardPoints)
	return ref.RewardPoints, nil
}

// OnFirstOrder completes the referee's pending referral and immediately
// rewards the referrer. Called by the billing processor when an order turns
// paid; a referee with no pending referral is a no-op.
func (s *Service) OnFirstOrder(ctx context.Context, refereeID string) error {
	ref, err := s.repo.CompleteForReferee(ctx, refereeID)
	if err != nil {
		return err
	}
	if ref == nil {
		return nil
	}

	s.logger.Info("referral completed", "referral_id", ref.ID, "referee_id", refereeID)

	if _, err := s.RewardFor(ctx, ref.ReferrerID, ref.ID); err != nil {
		return err
	}
	return nil
}
