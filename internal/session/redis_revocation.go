package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/gatekeeper/internal/model"
)

// RedisKeyPrefix は失効エントリのキー接頭辞。
const RedisKeyPrefix = "gatekeeper:revoked:"

// RedisRevocationList はRedisに保持する失効リスト。
// 全ノードが同じRedisを読むため、失効は即座に全ノードへ反映される。
// キーのTTLをセッション本来の残り寿命に合わせるので、期限切れエントリはRedisが削除する。
type RedisRevocationList struct {
	rdb *redis.Client
	now func() time.Time
}

// RedisConfig はRedis接続設定。
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient は設定からRedisクライアントを生成する。
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisRevocationList はRedisRevocationListを生成する。
func NewRedisRevocationList(rdb *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{rdb: rdb, now: time.Now}
}

// Add は SET NX でエントリを追加する。
// 残り寿命が無いエントリは失効させる意味が無いので保存しない。
func (l *RedisRevocationList) Add(ctx context.Context, entry model.RevocationEntry) (bool, error) {
	ttl := entry.ExpiresAt.Sub(l.now())
	if ttl <= 0 {
		return false, nil
	}

	ok, err := l.rdb.SetNX(ctx, RedisKeyPrefix+entry.SessionID, entry.RevokedAt.Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("store revocation in redis: %w", err)
	}
	return ok, nil
}

// Contains はセッションIDが失効済みかを返す。
func (l *RedisRevocationList) Contains(ctx context.Context, sessionID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, RedisKeyPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation in redis: %w", err)
	}
	return n > 0, nil
}

// Sweep は何もしない。期限切れのキーはRedisのTTLで消える。
func (l *RedisRevocationList) Sweep(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

// Len は失効エントリのキー数を SCAN で数える。
func (l *RedisRevocationList) Len(ctx context.Context) (int, error) {
	count := 0
	iter := l.rdb.Scan(ctx, 0, RedisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan revocations in redis: %w", err)
	}
	return count, nil
}

// Close はRedisクライアントを閉じる。
func (l *RedisRevocationList) Close() error {
	return l.rdb.Close()
}

var _ RevocationList = (*RedisRevocationList)(nil)
