package redisstore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

const defaultPrefix = "gopherauth"

// Every record is a hash under '<prefix>:otp:<purpose>:<code hash>'
// The unused one of an account is referenced by '<prefix>:otp-unused:<account>:<purpose>'

// replaceCodeLua drops the unused record of the account and stores the new one
// Used records and records of other accounts are never overwritten
// KEYS[1] = unused index key, KEYS[2] = record key
// ARGV = id, account_id, email, purpose, code_hash, created_at, expires_at, purge deadline unix ms or 0
var replaceCodeLua = redis.NewScript(`
local existing = redis.call('HMGET', KEYS[2], 'account_id', 'used')
if existing[1] and (existing[2] == '1' or existing[1] ~= ARGV[2]) then
  return {err='collision'}
end

local previous = redis.call('GET', KEYS[1])
if previous and previous ~= KEYS[2] and redis.call('HGET', previous, 'used') == '0' then
  redis.call('DEL', previous)
end

redis.call('DEL', KEYS[2])
redis.call('HSET', KEYS[2],
  'id', ARGV[1], 'account_id', ARGV[2], 'email', ARGV[3], 'purpose', ARGV[4],
  'code_hash', ARGV[5], 'created_at', ARGV[6], 'expires_at', ARGV[7],
  'used', '0', 'used_at', '', 'attempts', '0')
redis.call('SET', KEYS[1], KEYS[2])

if ARGV[8] ~= '0' then
  redis.call('PEXPIREAT', KEYS[2], ARGV[8])
  redis.call('PEXPIREAT', KEYS[1], ARGV[8])
end
return 'OK'
`)

// markUsedLua sets used flag only if the record is still unused
// Used record loses its ttl and is kept forever
// KEYS[1] = record key, KEYS[2] = unused index key
// ARGV = id, used_at
var markUsedLua = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'id') ~= ARGV[1] then
  return {err='not_found'}
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
  return {err='already_used'}
end

redis.call('HSET', KEYS[1], 'used', '1', 'used_at', ARGV[2])
redis.call('PERSIST', KEYS[1])
if redis.call('GET', KEYS[2]) == KEYS[1] then
  redis.call('DEL', KEYS[2])
end
return 'OK'
`)

type Config struct {
	// Key prefix. Default is used if empty
	Prefix string

	// How long unused records are kept after they expire. Zero keeps them forever
	// Used records are always kept
	Retention time.Duration
}

// OneTimeCodeRepo keeps one-time codes in redis
// Atomicity is provided by lua scripts, so many service instances may share one redis
type OneTimeCodeRepo struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewOneTimeCodeRepo(client redis.UniversalClient, cfg Config) *OneTimeCodeRepo {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}

	return &OneTimeCodeRepo{
		client:    client,
		prefix:    cfg.Prefix,
		retention: cfg.Retention,
	}
}

func (r *OneTimeCodeRepo) recordKey(purpose string, codeHash string) string {
	return r.prefix + ":otp:" + purpose + ":" + codeHash
}

func (r *OneTimeCodeRepo) unusedKey(accountID uuid.UUID, purpose string) string {
	return r.prefix + ":otp-unused:" + accountID.String() + ":" + purpose
}

// Unused record is dropped retention after it expires. Zero means never
func (r *OneTimeCodeRepo) purgeAt(code models.OneTimeCode) int64 {
	if r.retention <= 0 {
		return 0
	}
	return code.ExpiresAt.Add(r.retention).UnixMilli()
}

func (r *OneTimeCodeRepo) Replace(ctx context.Context, code models.OneTimeCode) error {
	err := replaceCodeLua.Run(ctx, r.client,
		[]string{r.unusedKey(code.AccountID, code.Purpose), r.recordKey(code.Purpose, code.CodeHash)},
		code.ID.String(),
		code.AccountID.String(),
		code.Email,
		code.Purpose,
		code.CodeHash,
		formatTime(code.CreatedAt),
		formatTime(code.ExpiresAt),
		r.purgeAt(code),
	).Err()

	switch {
	case err == nil:
		return nil
	case isScriptError(err, "collision"):
		return apperrors.ErrCodeCollision
	default:
		return apperrors.Unavailable("redis replace code", err)
	}
}

func (r *OneTimeCodeRepo) GetByHash(ctx context.Context, codeHash string, purpose string) (models.OneTimeCode, error) {
	fields, err := r.client.HGetAll(ctx, r.recordKey(purpose, codeHash)).Result()
	if err != nil {
		return models.OneTimeCode{}, apperrors.Unavailable("redis get code by hash", err)
	}
	if len(fields) == 0 {
		return models.OneTimeCode{}, apperrors.ErrCodeNotFound
	}

	code, err := decodeCode(fields)
	if err != nil {
		return code, apperrors.Unavailable("redis decode code", err)
	}

	return code, nil
}

func (r *OneTimeCodeRepo) MarkUsed(ctx context.Context, code models.OneTimeCode, usedAt time.Time) error {
	err := markUsedLua.Run(ctx, r.client,
		[]string{r.recordKey(code.Purpose, code.CodeHash), r.unusedKey(code.AccountID, code.Purpose)},
		code.ID.String(),
		formatTime(usedAt),
	).Err()

	switch {
	case err == nil:
		return nil
	case isScriptError(err, "not_found"):
		return apperrors.ErrCodeNotFound
	case isScriptError(err, "already_used"):
		return apperrors.ErrCodeAlreadyUsed
	default:
		return apperrors.Unavailable("redis mark code used", err)
	}
}

// Lua {err=...} replies come back as redis.Error, some servers prefix them with 'ERR'
func isScriptError(err error, msg string) bool {
	var redisErr redis.Error
	if !errors.As(err, &redisErr) {
		return false
	}
	return strings.TrimPrefix(redisErr.Error(), "ERR ") == msg
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeCode(fields map[string]string) (models.OneTimeCode, error) {
	var (
		code models.OneTimeCode
		err  error
	)

	if code.ID, err = uuid.Parse(fields["id"]); err != nil {
		return code, err
	}
	if code.AccountID, err = uuid.Parse(fields["account_id"]); err != nil {
		return code, err
	}
	if code.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return code, err
	}
	if code.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return code, err
	}
	if code.Attempts, err = strconv.Atoi(fields["attempts"]); err != nil {
		return code, err
	}

	code.Email = fields["email"]
	code.Purpose = fields["purpose"]
	code.CodeHash = fields["code_hash"]
	code.Used = fields["used"] == "1"

	if raw := fields["used_at"]; raw != "" {
		usedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return code, err
		}
		code.UsedAt = &usedAt
	}

	return code, nil
}
