package middleware

import (
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/dailycheckin/config"
	"github.com/cppla/dailycheckin/services"
)

// ContextLocationKey holds the request's *time.Location.
const ContextLocationKey = "timezone"

// TimezoneHeader lets API clients name their IANA zone directly.
const TimezoneHeader = "X-Timezone"

// Timezone resolves the caller's zone from the configured cookie, then the
// X-Timezone header, then the server default. Unknown names fall through.
func Timezone() gin.HandlerFunc {
	cfg := config.Get()
	return TimezoneWith(cfg.TimezoneCookie, services.LoadLocation(cfg.DefaultTimezone, time.UTC))
}

// TimezoneWith is Timezone with explicit settings.
func TimezoneWith(cookieName string, fallback *time.Location) gin.HandlerFunc {
	if fallback == nil {
		fallback = time.UTC
	}
	return func(ctx *gin.Context) {
		loc := fallback
		if h := ctx.GetHeader(TimezoneHeader); h != "" {
			loc = services.LoadLocation(h, loc)
		}
		if cookieName != "" {
			if v, err := ctx.Cookie(cookieName); err == nil {
				// browsers store "Europe/Berlin" escaped
				if unescaped, err := url.QueryUnescape(v); err == nil {
					v = unescaped
				}
				loc = services.LoadLocation(v, loc)
			}
		}
		ctx.Set(ContextLocationKey, loc)
		ctx.Next()
	}
}

// Location returns the zone resolved for this request, or UTC.
func Location(ctx *gin.Context) *time.Location {
	if v, ok := ctx.Get(ContextLocationKey); ok {
		if loc, ok := v.(*time.Location); ok && loc != nil {
			return loc
		}
	}
	return time.UTC
}
