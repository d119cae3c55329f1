package quota

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/plantpal/backend/pkg/logger"
)

// reserveScript checks every counter first and only then increments them
// all, so a reservation across the three tiers stays all-or-nothing even
// when counters are shared between processes. Returns the zero-based index
// of the first exhausted counter, or -1.
var reserveScript = redis.NewScript(`
for i = 1, #KEYS do
	local current = tonumber(redis.call('GET', KEYS[i]) or '0')
	local limit = tonumber(ARGV[i * 2 - 1])
	if current >= limit then
		return i - 1
	end
end
for i = 1, #KEYS do
	local current = redis.call('INCR', KEYS[i])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[i], ARGV[i * 2])
	end
end
return -1
`)

// RedisStore is the multi-process CounterStore. Window expiry is handled
// by key TTLs; there is nothing to garbage-collect.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(host string, port int, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis counter store initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) ReserveAll(ctx context.Context, reservations []Reservation) (int, error) {
	keys := make([]string, len(reservations))
	argv := make([]interface{}, 0, len(reservations)*2)
	for i, r := range reservations {
		keys[i] = r.Key
		argv = append(argv, r.Limit, r.Window.Milliseconds())
	}

	denied, err := reserveScript.Run(ctx, s.client, keys, argv...).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to run reserve script: %w", err)
	}

	return denied, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
