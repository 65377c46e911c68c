// Package otp issues and verifies one-time codes that gate cash-on-delivery
// orders. Each phone has at most one live challenge, stored in Redis next to
// the priced draft order it unlocks.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"checkout-svc/apperrors"
	"checkout-svc/models"

	"github.com/redis/go-redis/v9"
)

const CodeLength = 6

// Verification failure reasons.
const (
	ReasonNotFound         = "otp_not_found"
	ReasonConsumed         = "otp_consumed"
	ReasonExpired          = "otp_expired"
	ReasonAttemptsExceeded = "otp_attempts_exceeded"
	ReasonMismatch         = "otp_mismatch"
	ReasonResendLimit      = "otp_resend_limit"
	CeilingResendCooldown  = "otp_resend_cooldown"
)

var issueScript = redis.NewScript(`
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1],
  "code_hash", ARGV[1],
  "expires_at", ARGV[2],
  "issued_at", ARGV[3],
  "attempts", 0,
  "consumed", 0,
  "resends", 0,
  "draft", ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

var resendScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {"otp_not_found"}
end
local c = redis.call("HMGET", KEYS[1], "consumed", "issued_at", "resends")
if c[1] == "1" then
  return {"otp_consumed"}
end
if tonumber(ARGV[3]) - tonumber(c[2]) < tonumber(ARGV[5]) then
  return {"otp_resend_cooldown"}
end
if tonumber(c[3]) >= tonumber(ARGV[6]) then
  return {"otp_resend_limit"}
end
redis.call("HSET", KEYS[1],
  "code_hash", ARGV[1],
  "expires_at", ARGV[2],
  "issued_at", ARGV[3],
  "attempts", 0)
redis.call("HINCRBY", KEYS[1], "resends", 1)
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {"ok"}
`)

// The whole check-and-consume runs inside Redis, so two submissions of the
// same code for a phone cannot both succeed.
var verifyScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {"otp_not_found"}
end
local c = redis.call("HMGET", KEYS[1], "code_hash", "expires_at", "attempts", "consumed")
if c[4] == "1" then
  return {"otp_consumed"}
end
if tonumber(ARGV[2]) >= tonumber(c[2]) then
  return {"otp_expired"}
end
if tonumber(c[3]) >= tonumber(ARGV[3]) then
  return {"otp_attempts_exceeded"}
end
if c[1] ~= ARGV[1] then
  redis.call("HINCRBY", KEYS[1], "attempts", 1)
  return {"otp_mismatch"}
end
redis.call("HSET", KEYS[1], "consumed", 1)
return {"ok", redis.call("HGET", KEYS[1], "draft")}
`)

type Options struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	MaxResends     int
}

func DefaultOptions() Options {
	return Options{
		TTL:            5 * time.Minute,
		MaxAttempts:    5,
		ResendCooldown: 30 * time.Second,
		MaxResends:     3,
	}
}

// Challenge is what the caller needs to deliver a freshly issued code.
type Challenge struct {
	Phone     string
	Code      string
	ExpiresAt time.Time
}

type Gate struct {
	rdb     redis.Scripter
	opts    Options
	newCode func() (string, error)
}

func NewGate(rdb redis.Scripter, opts Options) *Gate {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.ResendCooldown < 0 {
		opts.ResendCooldown = def.ResendCooldown
	}
	if opts.MaxResends <= 0 {
		opts.MaxResends = def.MaxResends
	}
	return &Gate{rdb: rdb, opts: opts, newCode: GenerateCode}
}

// Issue creates a challenge for phone bound to draft, replacing any earlier
// challenge for the same phone.
func (g *Gate) Issue(ctx context.Context, phone string, draft *models.CODDraft, now time.Time) (*Challenge, error) {
	code, err := g.newCode()
	if err != nil {
		return nil, err
	}

	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("failed to encode draft: %w", err)
	}

	expiresAt := now.Add(g.opts.TTL)
	err = issueScript.Run(ctx, g.rdb, []string{key(phone)},
		hashCode(phone, code),
		ms(expiresAt),
		ms(now),
		string(draftJSON),
		g.opts.TTL.Milliseconds(),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to store otp challenge: %w", err)
	}

	return &Challenge{Phone: phone, Code: code, ExpiresAt: expiresAt}, nil
}

// Resend replaces the live challenge's code, keeping its draft.
func (g *Gate) Resend(ctx context.Context, phone string, now time.Time) (*Challenge, error) {
	code, err := g.newCode()
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(g.opts.TTL)
	res, err := resendScript.Run(ctx, g.rdb, []string{key(phone)},
		hashCode(phone, code),
		ms(expiresAt),
		ms(now),
		g.opts.TTL.Milliseconds(),
		g.opts.ResendCooldown.Milliseconds(),
		g.opts.MaxResends,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to resend otp: %w", err)
	}

	switch res[0] {
	case "ok":
		return &Challenge{Phone: phone, Code: code, ExpiresAt: expiresAt}, nil
	case CeilingResendCooldown:
		return nil, &apperrors.ThrottleError{Ceiling: CeilingResendCooldown, Limit: int(g.opts.ResendCooldown.Seconds())}
	case ReasonResendLimit:
		return nil, &apperrors.ThrottleError{Ceiling: ReasonResendLimit, Limit: g.opts.MaxResends}
	default:
		return nil, apperrors.Verification(res[0])
	}
}

// Verify consumes the phone's challenge when code matches and returns the
// draft it was issued for. Any failure leaves the challenge unusable or
// one attempt closer to exhaustion.
func (g *Gate) Verify(ctx context.Context, phone, code string, now time.Time) (*models.CODDraft, error) {
	res, err := verifyScript.Run(ctx, g.rdb, []string{key(phone)},
		hashCode(phone, code),
		ms(now),
		g.opts.MaxAttempts,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to verify otp: %w", err)
	}

	if res[0] != "ok" {
		return nil, apperrors.Verification(res[0])
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("otp challenge for %s has no draft", phone)
	}

	var draft models.CODDraft
	if err := json.Unmarshal([]byte(res[1]), &draft); err != nil {
		return nil, fmt.Errorf("failed to decode draft: %w", err)
	}
	return &draft, nil
}

// GenerateCode returns a uniformly random zero-padded numeric code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func hashCode(phone, code string) string {
	sum := sha256.Sum256([]byte(phone + ":" + code))
	return hex.EncodeToString(sum[:])
}

func key(phone string) string {
	return "otp:cod:" + phone
}

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
