package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resetRecordVersionV1 = 1

	resetFlagVerified = 1 << 0
)

var (
	ErrResetNotFound         = errors.New("reset record not found")
	ErrResetSecretMismatch   = errors.New("reset secret mismatch")
	ErrResetAttemptsExceeded = errors.New("reset attempts exceeded")
	ErrResetNotVerified      = errors.New("reset record not verified")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// ResetTokenRecord is the server half of an e-mailed reset token. Only the
// SHA-256 of the secret is stored.
type ResetTokenRecord struct {
	UserID     string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
	Verified   bool
}

// ResetTokenStore keeps at most one live reset record per tenant and user.
type ResetTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewResetTokenStore(redisClient redis.UniversalClient, prefix string) *ResetTokenStore {
	if prefix == "" {
		prefix = "dgrt"
	}
	return &ResetTokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ResetTokenStore) key(tenantID, userID string) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":" + userID
}

// Save overwrites any previous record for the user.
func (s *ResetTokenStore) Save(
	ctx context.Context,
	tenantID string,
	record *ResetTokenRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeResetTokenRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(tenantID, record.UserID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	return nil
}

// Verify compares providedHash against the stored hash. A match marks the
// record verified; a mismatch consumes an attempt and deletes the record
// once maxAttempts is reached.
func (s *ResetTokenStore) Verify(
	ctx context.Context,
	tenantID, userID string,
	providedHash [32]byte,
	maxAttempts int,
) (*ResetTokenRecord, error) {
	return s.mutate(ctx, tenantID, userID, func(record *ResetTokenRecord) (*ResetTokenRecord, error) {
		if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				return nil, ErrResetAttemptsExceeded
			}
			return record, ErrResetSecretMismatch
		}
		record.Verified = true
		return record, nil
	})
}

// Consume deletes a verified record. It is the single-use gate in front of
// the password rewrite.
func (s *ResetTokenStore) Consume(ctx context.Context, tenantID, userID string) (*ResetTokenRecord, error) {
	var consumed *ResetTokenRecord
	_, err := s.mutate(ctx, tenantID, userID, func(record *ResetTokenRecord) (*ResetTokenRecord, error) {
		if !record.Verified {
			return record, ErrResetNotVerified
		}
		consumed = record
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

// Get returns the live record for the user.
func (s *ResetTokenStore) Get(ctx context.Context, tenantID, userID string) (*ResetTokenRecord, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResetNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	record, err := decodeResetTokenRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		return nil, ErrResetNotFound
	}

	return record, nil
}

// Delete drops the user's record if present.
func (s *ResetTokenStore) Delete(ctx context.Context, tenantID, userID string) error {
	if err := s.redis.Del(ctx, s.key(tenantID, userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return nil
}

// mutate runs apply inside a WATCH transaction. apply returns the record to
// write back, or nil to delete it, plus the error to surface.
func (s *ResetTokenStore) mutate(
	ctx context.Context,
	tenantID, userID string,
	apply func(*ResetTokenRecord) (*ResetTokenRecord, error),
) (*ResetTokenRecord, error) {
	const maxRetries = 4
	key := s.key(tenantID, userID)

	for i := 0; i < maxRetries; i++ {
		var result *ResetTokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeResetTokenRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrResetNotFound
			}

			next, applyErr := apply(record)
			if next == nil {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return applyErr
			}

			ttl := time.Until(time.Unix(next.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrResetNotFound
			}

			updated, err := encodeResetTokenRecord(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			result = next
			return applyErr
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrResetNotFound
			case errors.Is(err, ErrResetNotFound), errors.Is(err, ErrResetSecretMismatch),
				errors.Is(err, ErrResetAttemptsExceeded), errors.Is(err, ErrResetNotVerified):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
			}
		}

		return result, nil
	}

	return nil, ErrResetNotFound
}

func encodeResetTokenRecord(record *ResetTokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)
	var flags byte
	if record.Verified {
		flags |= resetFlagVerified
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("reset record user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeResetTokenRecord(data []byte) (*ResetTokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &ResetTokenRecord{
		Verified: flags&resetFlagVerified != 0,
	}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}

	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	record.UserID = string(userID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}
