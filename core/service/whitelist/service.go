// Package whitelist manages sender exemptions and answers whitelist lookups
// for the detection guard.
package whitelist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailsweep/core/domain"
	"mailsweep/core/port/in"
	"mailsweep/core/port/out"
	"mailsweep/pkg/apperr"
	"mailsweep/pkg/logger"
)

// Service stores whitelist entries and serves lookups through a cache so the
// per-message guard check never hits the database on the hot path.
type Service struct {
	repo  domain.WhitelistRepository
	subs  domain.SubscriptionRepository
	cache out.Cache
	ttl   time.Duration
	log   *logger.Logger
}

var _ in.WhitelistService = (*Service)(nil)

func NewService(
	repo domain.WhitelistRepository,
	subs domain.SubscriptionRepository,
	cache out.Cache,
	ttl time.Duration,
	log *logger.Logger,
) *Service {
	return &Service{repo: repo, subs: subs, cache: cache, ttl: ttl, log: log}
}

func cacheKey(userID uuid.UUID) string {
	return fmt.Sprintf("whitelist:%s", userID)
}

func (s *Service) ListWhitelist(ctx context.Context, userID uuid.UUID) ([]*domain.WhitelistEntry, error) {
	return s.repo.List(ctx, userID)
}

// AddWhitelist stores an exemption and deactivates matching subscription
// records so they drop out of listings without losing their history.
func (s *Service) AddWhitelist(ctx context.Context, userID uuid.UUID, pattern, note string) (*domain.WhitelistEntry, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return nil, apperr.MissingField("pattern")
	}
	if strings.ContainsAny(pattern, " \t") {
		return nil, apperr.InvalidInput("pattern", "must be an address or a domain")
	}

	entry, err := s.repo.Add(ctx, &domain.WhitelistEntry{
		UserID:    userID,
		Pattern:   pattern,
		Note:      note,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)

	if strings.Contains(pattern, "@") {
		if err := s.subs.SetActiveBySender(ctx, userID, pattern, false); err != nil {
			s.log.WithError(err).WithField("pattern", pattern).Warn("deactivating whitelisted sender failed")
		}
	}
	return entry, nil
}

// RemoveWhitelist drops an exemption and reactivates the sender's records.
func (s *Service) RemoveWhitelist(ctx context.Context, userID uuid.UUID, id int64) error {
	entry, err := s.repo.Remove(ctx, userID, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return apperr.NotFound("whitelist entry")
	}

	s.invalidate(ctx, userID)

	if strings.Contains(entry.Pattern, "@") {
		if err := s.subs.SetActiveBySender(ctx, userID, entry.Pattern, true); err != nil {
			s.log.WithError(err).WithField("pattern", entry.Pattern).Warn("reactivating sender failed")
		}
	}
	return nil
}

// IsWhitelisted reports whether a sender address is exempt, matching either
// the full address or its domain. Lookup failures fail open so a cache or
// database hiccup never blocks detection.
func (s *Service) IsWhitelisted(ctx context.Context, userID uuid.UUID, senderAddress string) bool {
	patterns, err := s.patterns(ctx, userID)
	if err != nil {
		s.log.WithError(err).Warn("whitelist lookup failed")
		return false
	}

	address := strings.ToLower(senderAddress)
	_, domainPart, _ := strings.Cut(address, "@")
	for _, p := range patterns {
		if p == address || (domainPart != "" && p == domainPart) {
			return true
		}
	}
	return false
}

func (s *Service) patterns(ctx context.Context, userID uuid.UUID) ([]string, error) {
	key := cacheKey(userID)

	var cached []string
	if s.cache != nil {
		if hit, err := s.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	entries, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	patterns := make([]string, 0, len(entries))
	for _, e := range entries {
		patterns = append(patterns, e.Pattern)
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, patterns, s.ttl); err != nil {
			s.log.WithError(err).Warn("whitelist cache write failed")
		}
	}
	return patterns, nil
}

func (s *Service) invalidate(ctx context.Context, userID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(userID)); err != nil {
		s.log.WithError(err).Warn("whitelist cache invalidation failed")
	}
}
