package repository

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"

	authdomain "github.com/AlibekovAA/refresh-guard/internal/auth/domain"
	"github.com/AlibekovAA/refresh-guard/internal/common/clock"
	"github.com/AlibekovAA/refresh-guard/internal/common/constants"
	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
)

// userShard owns every record of the users hashed to it. All mutations for one
// user happen under a single shard lock.
type userShard struct {
	mu       sync.Mutex
	tokens   map[string]authdomain.RefreshTokenRecord
	byUser   map[userdomain.ID]map[string]struct{}
	consumed map[string]authdomain.RefreshTokenRecord
}

type MemoryRefreshTokenStore struct {
	shards []*userShard
	// owners maps every live or consumed token ID to its user and doubles as the
	// global uniqueness claim for token IDs.
	owners sync.Map
	clock  clock.Clock
}

func NewMemoryRefreshTokenStore(clk clock.Clock) *MemoryRefreshTokenStore {
	shards := make([]*userShard, constants.MemoryStoreShards)
	for i := range shards {
		shards[i] = &userShard{
			tokens:   make(map[string]authdomain.RefreshTokenRecord),
			byUser:   make(map[userdomain.ID]map[string]struct{}),
			consumed: make(map[string]authdomain.RefreshTokenRecord),
		}
	}
	return &MemoryRefreshTokenStore{shards: shards, clock: clk}
}

func (s *MemoryRefreshTokenStore) shardFor(userID userdomain.ID) *userShard {
	return s.shards[xxhash.Sum64String(string(userID))%uint64(len(s.shards))]
}

func (s *MemoryRefreshTokenStore) ownerOf(tokenID string) (userdomain.ID, bool) {
	v, ok := s.owners.Load(tokenID)
	if !ok {
		return "", false
	}
	return v.(userdomain.ID), true
}

func (s *MemoryRefreshTokenStore) Create(ctx context.Context, params CreateParams) (authdomain.RefreshTokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return authdomain.RefreshTokenRecord{}, err
	}

	shard := s.shardFor(params.UserID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, loaded := s.owners.LoadOrStore(params.TokenID, params.UserID); loaded {
		return authdomain.RefreshTokenRecord{}, ErrDuplicateTokenID
	}

	record := newRecord(params, s.clock.Now())
	shard.insert(record)
	return record, nil
}

func (s *MemoryRefreshTokenStore) FindByID(ctx context.Context, tokenID string) (authdomain.RefreshTokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return authdomain.RefreshTokenRecord{}, err
	}

	userID, ok := s.ownerOf(tokenID)
	if !ok {
		return authdomain.RefreshTokenRecord{}, ErrRefreshTokenNotFound
	}

	shard := s.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	record, ok := shard.tokens[tokenID]
	if !ok {
		return authdomain.RefreshTokenRecord{}, ErrRefreshTokenNotFound
	}
	return record, nil
}

func (s *MemoryRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	userID, ok := s.ownerOf(tokenID)
	if !ok {
		return nil
	}

	shard := s.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if record, ok := shard.tokens[tokenID]; ok {
		record.Revoked = true
		shard.tokens[tokenID] = record
	}
	return nil
}

func (s *MemoryRefreshTokenStore) Delete(ctx context.Context, tokenID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	userID, ok := s.ownerOf(tokenID)
	if !ok {
		return false, nil
	}

	shard := s.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	record, ok := shard.tokens[tokenID]
	if !ok {
		return false, nil
	}
	shard.remove(record)
	s.owners.Delete(tokenID)
	return true, nil
}

func (s *MemoryRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID userdomain.ID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	shard := s.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	ids := shard.byUser[userID]
	for id := range ids {
		record := shard.tokens[id]
		record.Revoked = true
		shard.tokens[id] = record
	}
	return len(ids), nil
}

func (s *MemoryRefreshTokenStore) Rotate(ctx context.Context, oldTokenID string, next CreateParams) (authdomain.RefreshTokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return authdomain.RefreshTokenRecord{}, err
	}

	userID, ok := s.ownerOf(oldTokenID)
	if !ok {
		return authdomain.RefreshTokenRecord{}, ErrRefreshTokenNotFound
	}
	if userID != next.UserID {
		return authdomain.RefreshTokenRecord{}, ErrRefreshTokenOwnerMismatch
	}

	shard := s.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if marker, ok := shard.consumed[oldTokenID]; ok {
		return marker, ErrRefreshTokenConsumed
	}

	old, ok := shard.tokens[oldTokenID]
	if !ok {
		return authdomain.RefreshTokenRecord{}, ErrRefreshTokenNotFound
	}
	if old.Revoked {
		return old, ErrRefreshTokenRevoked
	}
	now := s.clock.Now()
	if old.ExpiredAt(now) {
		return old, ErrRefreshTokenExpired
	}

	if _, loaded := s.owners.LoadOrStore(next.TokenID, next.UserID); loaded {
		return authdomain.RefreshTokenRecord{}, ErrDuplicateTokenID
	}

	shard.remove(old)
	shard.consumed[oldTokenID] = authdomain.RefreshTokenRecord{
		TokenID:   old.TokenID,
		UserID:    old.UserID,
		ExpiresAt: old.ExpiresAt,
		Revoked:   true,
		CreatedAt: old.CreatedAt,
	}
	shard.insert(newRecord(next, now))
	return old, nil
}

func (s *MemoryRefreshTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	var deleted int64

	for _, shard := range s.shards {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		shard.mu.Lock()
		for id, record := range shard.tokens {
			if record.ExpiredAt(now) {
				shard.remove(record)
				s.owners.Delete(id)
				deleted++
			}
		}
		for id, marker := range shard.consumed {
			if marker.ExpiredAt(now) {
				delete(shard.consumed, id)
				s.owners.Delete(id)
			}
		}
		shard.mu.Unlock()
	}

	return deleted, nil
}

func (sh *userShard) insert(record authdomain.RefreshTokenRecord) {
	sh.tokens[record.TokenID] = record
	ids, ok := sh.byUser[record.UserID]
	if !ok {
		ids = make(map[string]struct{})
		sh.byUser[record.UserID] = ids
	}
	ids[record.TokenID] = struct{}{}
}

func (sh *userShard) remove(record authdomain.RefreshTokenRecord) {
	delete(sh.tokens, record.TokenID)
	if ids, ok := sh.byUser[record.UserID]; ok {
		delete(ids, record.TokenID)
		if len(ids) == 0 {
			delete(sh.byUser, record.UserID)
		}
	}
}
