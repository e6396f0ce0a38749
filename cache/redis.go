package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"geocab/logger"
	"geocab/models"
	"geocab/store"

	"github.com/go-redis/redis/v8"
)

// Redis stores the engine's key space under a common prefix:
//
//	<prefix>cell:<geohash>  list of JSON driver entries
//	<prefix>cells           set of non-empty cells
//	<prefix>grid            hash driver -> cell
//	<prefix>trips           hash passenger -> JSON trip
//	<prefix>balances        hash account -> amount
//	<prefix>fee             string
//	<prefix>number          string
//	<prefix>events          list of JSON TripBooked
//
// Apply writes a batch inside MULTI/EXEC.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// InitializeRedis connects and pings the server.
func InitializeRedis(ctx context.Context, opts Options) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.L().Info("redis_connected", "addr", opts.Addr)
	return New(rdb, opts.Prefix), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

// GetRedisClient returns the Redis client
func (r *Redis) GetRedisClient() *redis.Client {
	return r.rdb
}

func (r *Redis) key(parts ...string) string {
	k := r.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (r *Redis) DriversAt(ctx context.Context, cell string) ([]models.DriverEntry, error) {
	raw, err := r.rdb.LRange(ctx, r.key("cell", cell), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]models.DriverEntry, 0, len(raw))
	for _, s := range raw {
		var e models.DriverEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("decode entry in %s: %w", cell, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *Redis) Cells(ctx context.Context) ([]string, error) {
	cells, err := r.rdb.SMembers(ctx, r.key("cells")).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(cells)
	return cells, nil
}

func (r *Redis) DriverCell(ctx context.Context, driver models.Address) (string, bool, error) {
	cell, err := r.rdb.HGet(ctx, r.key("grid"), driver.Hex()).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return cell, true, nil
}

func (r *Redis) Trip(ctx context.Context, passenger models.Address) (models.Trip, bool, error) {
	raw, err := r.rdb.HGet(ctx, r.key("trips"), passenger.Hex()).Result()
	if errors.Is(err, redis.Nil) {
		return models.Trip{}, false, nil
	}
	if err != nil {
		return models.Trip{}, false, err
	}
	var trip models.Trip
	if err := json.Unmarshal([]byte(raw), &trip); err != nil {
		return models.Trip{}, false, fmt.Errorf("decode trip of %s: %w", passenger, err)
	}
	return trip, true, nil
}

func (r *Redis) Balance(ctx context.Context, account models.Address) (uint64, error) {
	return r.uint(r.rdb.HGet(ctx, r.key("balances"), account.Hex()))
}

func (r *Redis) Fee(ctx context.Context) (uint64, error) {
	return r.uint(r.rdb.Get(ctx, r.key("fee")))
}

func (r *Redis) Number(ctx context.Context) (uint64, error) {
	return r.uint(r.rdb.Get(ctx, r.key("number")))
}

// uint reads an unsigned counter; a missing key is zero.
func (r *Redis) uint(cmd *redis.StringCmd) (uint64, error) {
	s, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, 10, 64)
}

func (r *Redis) Events(ctx context.Context, offset, limit int) ([]models.TripBooked, error) {
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	raw, err := r.rdb.LRange(ctx, r.key("events"), int64(offset), stop).Result()
	if err != nil {
		return nil, err
	}
	events := make([]models.TripBooked, 0, len(raw))
	for _, s := range raw {
		var e models.TripBooked
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

func (r *Redis) Apply(ctx context.Context, b *store.Batch) error {
	// encode everything before MULTI
	appends := make([]string, len(b.Appends))
	for i, a := range b.Appends {
		data, err := json.Marshal(a.Entry)
		if err != nil {
			return err
		}
		appends[i] = string(data)
	}
	trips := make(map[string]interface{}, len(b.Trips))
	for passenger, trip := range b.Trips {
		data, err := json.Marshal(trip)
		if err != nil {
			return err
		}
		trips[passenger.Hex()] = string(data)
	}
	events := make([]interface{}, 0, len(b.Events))
	for _, e := range b.Events {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		events = append(events, string(data))
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, a := range b.Appends {
			pipe.RPush(ctx, r.key("cell", a.Cell), appends[i])
			pipe.SAdd(ctx, r.key("cells"), a.Cell)
		}
		if len(b.Cells) > 0 {
			grid := make(map[string]interface{}, len(b.Cells))
			for driver, cell := range b.Cells {
				grid[driver.Hex()] = cell
			}
			pipe.HSet(ctx, r.key("grid"), grid)
		}
		if len(trips) > 0 {
			pipe.HSet(ctx, r.key("trips"), trips)
		}
		if len(b.Balances) > 0 {
			balances := make(map[string]interface{}, len(b.Balances))
			for account, amount := range b.Balances {
				balances[account.Hex()] = strconv.FormatUint(amount, 10)
			}
			pipe.HSet(ctx, r.key("balances"), balances)
		}
		if b.Fee != nil {
			pipe.Set(ctx, r.key("fee"), strconv.FormatUint(*b.Fee, 10), 0)
		}
		if b.Number != nil {
			pipe.Set(ctx, r.key("number"), strconv.FormatUint(*b.Number, 10), 0)
		}
		if len(events) > 0 {
			pipe.RPush(ctx, r.key("events"), events...)
		}
		return nil
	})
	return err
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
