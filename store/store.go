package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	// ErrVersionConflict reports a conditional write rejected because the
	// stored pointer already carries an equal or newer version. Callers must
	// surface the conflict instead of retrying blindly.
	ErrVersionConflict = errors.New("store: pointer version conflict")

	// ErrNotFound reports a missing pointer or profile.
	ErrNotFound = errors.New("store: not found")
)

// savePointerScript writes a pointer field only while the stored version is
// strictly lower than the incoming one. Returns 1 on write, 0 on conflict.
const savePointerScript = `
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local stored = cjson.decode(cur)
  if tonumber(stored['version']) >= tonumber(ARGV[3]) then
    return 0
  end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`

// RedisGateway is the subset of *redis.Client the pointer store needs.
type RedisGateway interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HScan(ctx context.Context, key string, cursor uint64, match string, count int64) *redis.ScanCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// PointerStore keeps one matching pointer per user inside a single redis
// hash, with optimistic-locking semantics on the version field.
type PointerStore struct {
	redis         RedisGateway
	hashKey       string
	profilePrefix string
	scanCount     int64
}

func NewPointerStore(gateway RedisGateway, hashKey, profilePrefix string) *PointerStore {
	return &PointerStore{
		redis:         gateway,
		hashKey:       hashKey,
		profilePrefix: profilePrefix,
		scanCount:     100,
	}
}

// Save performs the conditional write. The caller supplies the new version;
// a rejected write surfaces as ErrVersionConflict.
func (s *PointerStore) Save(ctx context.Context, p *Pointer) error {
	if p.UpdatedAt == 0 {
		p.UpdatedAt = time.Now().Unix()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	written, err := s.redis.Eval(ctx, savePointerScript, []string{s.hashKey}, p.UserID, string(payload), p.Version).Int()
	if err != nil {
		return err
	}
	if written == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Get loads the user's pointer. A missing pointer is ErrNotFound.
func (s *PointerStore) Get(ctx context.Context, userID string) (*Pointer, error) {
	raw, err := s.redis.HGet(ctx, s.hashKey, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p := &Pointer{}
	if err := json.Unmarshal([]byte(raw), p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes pointers for the given users.
func (s *PointerStore) Delete(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	return s.redis.HDel(ctx, s.hashKey, userIDs...).Err()
}

// SweepStale deletes every pointer last updated before the cutoff and
// returns how many were removed. Undecodable entries are removed too: a
// pointer nobody can read will never route a notification.
func (s *PointerStore) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	var cursor uint64
	var stale []string
	for {
		fields, next, err := s.redis.HScan(ctx, s.hashKey, cursor, "", s.scanCount).Result()
		if err != nil {
			return 0, err
		}
		for i := 0; i+1 < len(fields); i += 2 {
			p := Pointer{}
			if err := json.Unmarshal([]byte(fields[i+1]), &p); err != nil {
				log.Warn().Str("userId", fields[i]).Msg("store: undecodable pointer, sweeping")
				stale = append(stale, fields[i])
				continue
			}
			if time.Unix(p.UpdatedAt, 0).Before(cutoff) {
				stale = append(stale, fields[i])
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.redis.HDel(ctx, s.hashKey, stale...).Err(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Profile reads the user's last-selected character and loadout.
func (s *PointerStore) Profile(ctx context.Context, userID string) (*Profile, error) {
	raw, err := s.redis.Get(ctx, s.profilePrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	profile := &Profile{}
	if err := json.Unmarshal([]byte(raw), profile); err != nil {
		return nil, err
	}
	return profile, nil
}
