// Package redisrepo keeps refresh tokens in Redis so several identity servers can share them.
package redisrepo

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/jrsteele09/scholarhub-auth/internal/errors"
	"github.com/jrsteele09/scholarhub-auth/token/refresh"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "scholarhub:refresh:"

var _ refresh.Repo = (*Repo)(nil)

// Repo stores each token under <prefix>token:<token> with a TTL matching its expiry,
// and an index <prefix>user:<userID> pointing at the user's current token.
type Repo struct {
	client  redis.Cmdable
	prefix  string
	timeout time.Duration
	nowFunc func() time.Time
}

type Option func(*Repo)

// WithPrefix sets the key prefix. Default: "scholarhub:refresh:".
func WithPrefix(prefix string) Option {
	return func(r *Repo) {
		r.prefix = prefix
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(r *Repo) {
		r.nowFunc = now
	}
}

func New(client redis.Cmdable, options ...Option) *Repo {
	r := &Repo{
		client:  client,
		prefix:  defaultPrefix,
		timeout: 3 * time.Second,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// NewClient connects to Redis and checks it answers a PING.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "[redisrepo.NewClient] ping %s", addr)
	}
	return client, nil
}

func (r *Repo) tokenKey(token string) string {
	return r.prefix + "token:" + token
}

func (r *Repo) userKey(userID string) string {
	return r.prefix + "user:" + userID
}

func (r *Repo) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *Repo) Upsert(rt *refresh.StoredRefreshToken) error {
	ttl := rt.ExpiresAt.Sub(r.nowFunc())
	if ttl <= 0 {
		return errors.New("[redisrepo.Upsert] refresh token already expired")
	}
	data, err := json.Marshal(rt)
	if err != nil {
		return errors.Wrap(err, "[redisrepo.Upsert] marshal")
	}

	ctx, cancel := r.ctx()
	defer cancel()

	previous, err := r.client.Get(ctx, r.userKey(rt.UserID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "[redisrepo.Upsert] get user index")
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" && previous != rt.Token {
			pipe.Del(ctx, r.tokenKey(previous))
		}
		pipe.Set(ctx, r.tokenKey(rt.Token), data, ttl)
		pipe.Set(ctx, r.userKey(rt.UserID), rt.Token, ttl)
		return nil
	})
	return errors.Wrap(err, "[redisrepo.Upsert] exec")
}

func (r *Repo) Delete(token string) error {
	rt, err := r.Get(token)
	if err != nil {
		return err
	}

	ctx, cancel := r.ctx()
	defer cancel()

	current, err := r.client.Get(ctx, r.userKey(rt.UserID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "[redisrepo.Delete] get user index")
	}
	keys := []string{r.tokenKey(token)}
	if current == token {
		keys = append(keys, r.userKey(rt.UserID))
	}
	return errors.Wrap(r.client.Del(ctx, keys...).Err(), "[redisrepo.Delete] del")
}

func (r *Repo) Get(token string) (*refresh.StoredRefreshToken, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	data, err := r.client.Get(ctx, r.tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, errors.Wrap(err, "[redisrepo.Get] get")
	}

	var rt refresh.StoredRefreshToken
	if err := json.Unmarshal(data, &rt); err != nil {
		return nil, errors.Wrap(err, "[redisrepo.Get] unmarshal")
	}
	return &rt, nil
}

func (r *Repo) GetByUserID(userID string) (*refresh.StoredRefreshToken, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	token, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, errors.Wrap(err, "[redisrepo.GetByUserID] get")
	}
	return r.Get(token)
}
