// Package throttle bounds how often cash-on-delivery orders may be attempted
// per phone, per client address and per sliding hour.
package throttle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"checkout-svc/apperrors"
	"checkout-svc/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	CeilingPhoneDaily = "phone_daily"
	CeilingIPDaily    = "ip_daily"
	CeilingHourly     = "hourly"

	dayKeyTTL = 48 * time.Hour
	window    = time.Hour
)

// Every call counts, including ones that get rejected, so a blocked client
// cannot retry its way back under the ceiling.
var allowScript = redis.NewScript(`
local phoneLimit = tonumber(ARGV[1])
local ipLimit = tonumber(ARGV[2])
local hourLimit = tonumber(ARGV[3])
local countIP = ARGV[7] == "1"

local phoneCount = redis.call("INCR", KEYS[1])
if phoneCount == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[8])
end

local ipCount = 0
if countIP then
  ipCount = redis.call("INCR", KEYS[2])
  if ipCount == 1 then
    redis.call("EXPIRE", KEYS[2], ARGV[8])
  end
end

redis.call("ZREMRANGEBYSCORE", KEYS[3], "-inf", ARGV[6])
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[5])
redis.call("PEXPIRE", KEYS[3], ARGV[9])
local hourCount = redis.call("ZCARD", KEYS[3])

if phoneLimit > 0 and phoneCount > phoneLimit then
  return {1, phoneLimit}
end
if countIP and ipLimit > 0 and ipCount > ipLimit then
  return {2, ipLimit}
end
if hourLimit > 0 and hourCount > hourLimit then
  return {3, hourLimit}
end
return {0, 0}
`)

var ceilings = map[int64]string{
	1: CeilingPhoneDaily,
	2: CeilingIPDaily,
	3: CeilingHourly,
}

type Attempt struct {
	Phone string
	IP    string
}

// Limits are ceilings per attempt kind; zero means unbounded.
type Limits struct {
	PerPhonePerDay int
	PerIPPerDay    int
	PerHour        int
}

func LimitsFromPolicy(p *models.CODSecurityPolicy) Limits {
	if p == nil {
		return Limits{}
	}
	return Limits{
		PerPhonePerDay: deref(p.MaxPerPhonePerDay),
		PerIPPerDay:    deref(p.MaxPerIPPerDay),
		PerHour:        deref(p.MaxAttemptsPerHour),
	}
}

func (l Limits) Unbounded() bool {
	return l.PerPhonePerDay <= 0 && l.PerIPPerDay <= 0 && l.PerHour <= 0
}

type Limiter struct {
	rdb redis.Scripter
	loc *time.Location
}

// NewLimiter creates a Limiter whose daily buckets roll over at midnight in loc.
func NewLimiter(rdb redis.Scripter, loc *time.Location) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	return &Limiter{rdb: rdb, loc: loc}
}

// Allow records an attempt and returns a *apperrors.ThrottleError when any
// configured ceiling is now exceeded.
func (l *Limiter) Allow(ctx context.Context, a Attempt, limits Limits, now time.Time) error {
	if limits.Unbounded() {
		return nil
	}

	day := now.In(l.loc).Format("20060102")
	keys := []string{
		fmt.Sprintf("throttle:cod:phone:%s:%s", a.Phone, day),
		fmt.Sprintf("throttle:cod:ip:%s:%s", a.IP, day),
		fmt.Sprintf("throttle:cod:hour:%s", a.Phone),
	}

	countIP := "0"
	if a.IP != "" {
		countIP = "1"
	}
	nowMs := now.UnixMilli()

	res, err := allowScript.Run(ctx, l.rdb, keys,
		limits.PerPhonePerDay,
		limits.PerIPPerDay,
		limits.PerHour,
		strconv.FormatInt(nowMs, 10),
		uuid.NewString(),
		strconv.FormatInt(nowMs-window.Milliseconds(), 10),
		countIP,
		int(dayKeyTTL.Seconds()),
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return fmt.Errorf("throttle check failed: %w", err)
	}

	if len(res) != 2 || res[0] == 0 {
		return nil
	}
	return &apperrors.ThrottleError{Ceiling: ceilings[res[0]], Limit: int(res[1])}
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
