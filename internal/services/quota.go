package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/envutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

const (
	QuotaServiceGeneration = "generation"
	QuotaServiceChat       = "chat"
)

// QuotaService rate-limits expensive provider calls per user with windowed
// Redis counters. With no Redis configured every check passes; quota is a
// guard rail, not a ledger.
type QuotaService interface {
	// Precheck reserves one unit for the user in the current window and
	// returns ErrQuotaExceeded when the window is already full.
	Precheck(ctx context.Context, userID uuid.UUID, service string) error
}

type quotaService struct {
	log *logger.Logger
	rdb *goredis.Client

	window time.Duration
	limits map[string]int
}

func NewQuotaService(baseLog *logger.Logger, rdb *goredis.Client) QuotaService {
	return &quotaService{
		log:    baseLog.With("service", "QuotaService"),
		rdb:    rdb,
		window: envutil.DurationSeconds("QUOTA_WINDOW_SECONDS", time.Hour),
		limits: map[string]int{
			QuotaServiceGeneration: envutil.Int("QUOTA_GENERATION_PER_WINDOW", 60),
			QuotaServiceChat:       envutil.Int("QUOTA_CHAT_PER_WINDOW", 120),
		},
	}
}

func (s *quotaService) Precheck(ctx context.Context, userID uuid.UUID, service string) error {
	if s.rdb == nil {
		return nil
	}
	limit, ok := s.limits[service]
	if !ok || limit <= 0 {
		return nil
	}

	bucket := time.Now().Unix() / int64(s.window.Seconds())
	key := fmt.Sprintf("quota:%s:%s:%d", service, userID.String(), bucket)

	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		// Redis being down must not take generation down with it.
		s.log.Warn("quota check unavailable; allowing", "service", service, "error", err)
		return nil
	}
	if n == 1 {
		s.rdb.Expire(ctx, key, s.window)
	}
	if n > int64(limit) {
		return fmt.Errorf("%s quota of %d per window reached: %w", service, limit, pkgerr.ErrQuotaExceeded)
	}
	return nil
}
