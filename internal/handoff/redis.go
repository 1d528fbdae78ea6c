package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// readTimeout はGetLatestがRedisの応答を待つ上限。
const readTimeout = 500 * time.Millisecond

// Redis は単一のRedisキーを使うHandoff実装。
// スキャナとAPIを別プロセスで動かす場合に使用する。
type Redis struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedis はREDIS_URL形式の接続文字列からRedisハンドオフを生成する。
func NewRedis(redisURL, key string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if key == "" {
		key = DefaultKey
	}
	return &Redis{
		client: redis.NewClient(opts),
		key:    key,
		logger: logger,
	}, nil
}

// Ping はRedisへの疎通を確認する。
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// SetLatest はキーを上書きする。有効期限は設定しない。
func (r *Redis) SetLatest(ctx context.Context, uid string) error {
	if err := r.client.Set(ctx, r.key, uid, 0).Err(); err != nil {
		r.logger.Error("未登録UIDの書き込みに失敗しました",
			slog.String("key", r.key),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to set handoff: %w", err)
	}
	return nil
}

// GetLatest はキーの値を返す。
// 読み取りエラーはログに記録し、空として扱う。
func (r *Redis) GetLatest(ctx context.Context) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	uid, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		r.logger.Warn("未登録UIDの読み取りに失敗しました",
			slog.String("key", r.key),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	return uid, true
}

// Reset はキーを削除する。キーが存在しない場合も成功とする。
func (r *Redis) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to reset handoff: %w", err)
	}
	return nil
}

// Close はRedisクライアントを閉じる。
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Handoff = (*Redis)(nil)
