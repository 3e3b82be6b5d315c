package utils

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cppla/dailycheckin/config"
)

var (
	ErrRegisterBanned   = errors.New("registration temporarily blocked for this address")
	ErrRegisterCooldown = errors.New("too many registration attempts, slow down")
	ErrRegisterDaily    = errors.New("daily registration limit reached for this address")
)

// RegistrationGuard throttles sign-ups per client IP using Redis counters.
// Every check fails open when Redis is unavailable.
type RegistrationGuard struct {
	client      *redis.Client
	cooldown    time.Duration
	dailyLimit  int
	failPerHour int
	banFor      time.Duration
	now         func() time.Time
	opTimeout   time.Duration
}

// NewRegistrationGuard builds a guard from the register* settings.
func NewRegistrationGuard(client *redis.Client, cfg config.AppConfig) *RegistrationGuard {
	return &RegistrationGuard{
		client:      client,
		cooldown:    time.Duration(cfg.RegisterAttemptCooldownSec) * time.Second,
		dailyLimit:  cfg.RegisterMaxPerIPPerDay,
		failPerHour: cfg.RegisterFailedMaxPerIPPerHour,
		banFor:      time.Duration(cfg.RegisterTempBanMinutes) * time.Minute,
		now:         time.Now,
		opTimeout:   500 * time.Millisecond,
	}
}

func regKey(parts ...string) string {
	return "reg:" + strings.Join(parts, ":")
}

// Allow reports whether ip may attempt a registration now.
func (g *RegistrationGuard) Allow(ctx context.Context, ip string) error {
	if g == nil || g.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	if n, err := g.client.Exists(ctx, regKey("ban", ip)).Result(); err == nil && n > 0 {
		return ErrRegisterBanned
	}
	if g.cooldown > 0 {
		ok, err := g.client.SetNX(ctx, regKey("cooldown", ip), "1", g.cooldown).Result()
		if err == nil && !ok {
			return ErrRegisterCooldown
		}
	}
	if g.dailyLimit > 0 {
		n, err := g.client.Get(ctx, g.dayKey(ip)).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil
		}
		if n >= g.dailyLimit {
			return ErrRegisterDaily
		}
	}
	return nil
}

// RecordSuccess counts a successful registration toward today's limit.
func (g *RegistrationGuard) RecordSuccess(ctx context.Context, ip string) {
	if g == nil || g.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	key := g.dayKey(ip)
	if err := g.client.Incr(ctx, key).Err(); err == nil {
		now := g.now()
		midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		_ = g.client.Expire(ctx, key, midnight.Sub(now)).Err()
	}
}

// RecordFailure counts a failed attempt and bans ip once the hourly threshold is hit.
func (g *RegistrationGuard) RecordFailure(ctx context.Context, ip string) {
	if g == nil || g.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	key := regKey("failhour", ip, g.now().Format("2006010215"))
	n, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		return
	}
	_ = g.client.Expire(ctx, key, time.Hour).Err()
	if g.failPerHour > 0 && int(n) >= g.failPerHour {
		_ = g.client.Set(ctx, regKey("ban", ip), "1", g.banFor).Err()
		Sugar.Warnf("registration ban applied ip=%s failures=%d", ip, n)
	}
}

func (g *RegistrationGuard) dayKey(ip string) string {
	return regKey("succday", ip, g.now().Format("20060102"))
}
