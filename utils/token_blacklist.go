package utils

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const blacklistPrefix = "jwt:blacklist:"

var (
	blacklist   = map[string]time.Time{}
	blacklistMu sync.RWMutex
)

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return blacklistPrefix + hex.EncodeToString(sum[:])
}

// BlacklistToken revokes a token until its natural expiration.
// Redis is preferred; the in-memory map only covers a Redis outage.
func BlacklistToken(token string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
		defer cancel()
		err := rc.Set(ctx, tokenKey(token), "1", ttl).Err()
		if err == nil {
			return
		}
		Sugar.Warnf("token blacklist redis write failed, keeping in memory: %v", err)
	}
	blacklistMu.Lock()
	blacklist[tokenKey(token)] = expiresAt
	blacklistMu.Unlock()
}

// IsTokenBlacklisted checks if a token was revoked before natural expiration.
func IsTokenBlacklisted(token string) bool {
	key := tokenKey(token)

	blacklistMu.RLock()
	expiresAt, ok := blacklist[key]
	blacklistMu.RUnlock()
	if ok {
		if time.Now().Before(expiresAt) {
			return true
		}
		blacklistMu.Lock()
		delete(blacklist, key)
		blacklistMu.Unlock()
	}

	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
		defer cancel()
		n, err := rc.Exists(ctx, key).Result()
		// Fail open on Redis errors to avoid locking everyone out
		return err == nil && n > 0
	}
	return false
}
