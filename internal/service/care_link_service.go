package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"med-reminder/internal/model"
)

const (
	inviteAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	inviteCodeLength = 8
	inviteAttempts   = 5

	DefaultInviteTTL = 72 * time.Hour
)

var (
	ErrInviteExpired = errors.New("invite code expired")
	ErrInviteUsed    = errors.New("invite code already used")
	ErrSelfInvite    = errors.New("cannot redeem your own invite")
)

// CareLinkService provides helpers around caregiver links.
type CareLinkService struct {
	links   CareLinkStore
	retrier *Retrier
	ttl     time.Duration
	now     func() time.Time
}

func NewCareLinkService(links CareLinkStore, retrier *Retrier, ttl time.Duration) *CareLinkService {
	if ttl <= 0 {
		ttl = DefaultInviteTTL
	}
	return &CareLinkService{links: links, retrier: retrier, ttl: ttl, now: time.Now}
}

// Invite creates a pending link owned by the caregiver and returns its code.
func (s *CareLinkService) Invite(ctx context.Context, caregiver *model.User) (*model.CareLink, error) {
	expires := s.now().Add(s.ttl)
	for i := 0; i < inviteAttempts; i++ {
		code, err := newInviteCode()
		if err != nil {
			return nil, err
		}
		link, err := PerformWithRetry(ctx, s.retrier, "insert care link", func(ctx context.Context) (*model.CareLink, error) {
			return s.links.InsertCareLink(ctx, caregiver.ID, code, model.CareLinkPending, expires)
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		return link, err
	}
	return nil, fmt.Errorf("could not find a free invite code after %d tries", inviteAttempts)
}

// Redeem accepts the invite for user, who becomes the cared-for person.
func (s *CareLinkService) Redeem(ctx context.Context, user *model.User, code string) (*model.CareLink, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	link, err := PerformWithRetry(ctx, s.retrier, "find care link", func(ctx context.Context) (*model.CareLink, error) {
		return s.links.FindByInviteCode(ctx, code)
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch {
	case link.CaregiverID == user.ID:
		return nil, ErrSelfInvite
	case link.Status != model.CareLinkPending:
		return nil, ErrInviteUsed
	case link.Expired(now):
		return nil, ErrInviteExpired
	}

	link, err = PerformWithRetry(ctx, s.retrier, "redeem care link", func(ctx context.Context) (*model.CareLink, error) {
		return s.links.RedeemCareLink(ctx, link.ID, user.ID, now)
	})
	if errors.Is(err, ErrConflict) {
		return nil, ErrInviteUsed
	}
	return link, err
}

// Revoke ends a link. Only its caregiver or its cared-for user may do so.
func (s *CareLinkService) Revoke(ctx context.Context, user *model.User, linkID uuid.UUID) (*model.CareLink, error) {
	links, err := s.linksOf(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if l.ID != linkID {
			continue
		}
		return PerformWithRetry(ctx, s.retrier, "revoke care link", func(ctx context.Context) (*model.CareLink, error) {
			return s.links.RevokeCareLink(ctx, linkID, s.now())
		})
	}
	return nil, fmt.Errorf("care link %s: %w", linkID, ErrNotFound)
}

// Accepted returns the caregiver's accepted links.
func (s *CareLinkService) Accepted(ctx context.Context, caregiver uuid.UUID) ([]model.CareLink, error) {
	return PerformWithRetry(ctx, s.retrier, "list care links", func(ctx context.Context) ([]model.CareLink, error) {
		return s.links.ListCareLinks(ctx, caregiver, model.CareLinkAccepted)
	})
}

// linksOf returns every link the user takes part in, on either side.
func (s *CareLinkService) linksOf(ctx context.Context, user *model.User) ([]model.CareLink, error) {
	asCaregiver, err := PerformWithRetry(ctx, s.retrier, "list care links", func(ctx context.Context) ([]model.CareLink, error) {
		return s.links.ListCareLinks(ctx, user.ID, "")
	})
	if err != nil {
		return nil, err
	}
	asUser, err := PerformWithRetry(ctx, s.retrier, "list care links for user", func(ctx context.Context) ([]model.CareLink, error) {
		return s.links.ListCareLinksForUser(ctx, user.ID, "")
	})
	if err != nil {
		return nil, err
	}
	return append(asCaregiver, asUser...), nil
}

// List returns every link the user takes part in.
func (s *CareLinkService) List(ctx context.Context, user *model.User) ([]model.CareLink, error) {
	return s.linksOf(ctx, user)
}

func newInviteCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(inviteAlphabet)))
	for i := 0; i < inviteCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("invite code: %w", err)
		}
		sb.WriteByte(inviteAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
