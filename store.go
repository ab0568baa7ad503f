package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store persists confessions. Implementations must apply AddReaction as a
// single atomic step per confession.
type Store interface {
	CreateConfession(ctx context.Context, c *Confession) error
	GetConfession(ctx context.Context, id string) (*Confession, error)
	SampleConfessions(ctx context.Context, n int) ([]*Confession, error)
	ConfessionsByTag(ctx context.Context, tag string) ([]*Confession, error)
	// AddReaction increments kind and records userID only if userID has not
	// reacted yet. It returns ErrNotFound or ErrDuplicateReaction otherwise.
	AddReaction(ctx context.Context, id string, kind ReactionKind, userID string) (*Confession, error)
	Ping(ctx context.Context) error
	Close() error
}

const allConfessionsKey = "confessions"

// Key layout: confession:<id> holds the document, :reactions the counters,
// :reactors the users, plus the id set and one set per tag.
func confessionKey(id string) string { return fmt.Sprintf("confession:%s", id) }
func reactionsKey(id string) string  { return fmt.Sprintf("confession:%s:reactions", id) }
func reactorsKey(id string) string   { return fmt.Sprintf("confession:%s:reactors", id) }
func tagKey(tag string) string       { return fmt.Sprintf("confessions:tag:%s", tag) }

// confessionDoc is the JSON document stored under confession:<id>. Reaction
// state lives next to it in a hash and a sorted set so it can be updated
// server-side.
type confessionDoc struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
}

// addReactionScript returns -1 when the confession document is missing (or
// the key holds something other than a document), 0 when the user already
// reacted and 1 once the counter and reactor set were updated.
//
// Reactors are scored by arrival so ZRANGE returns them in reaction order.
//
// KEYS: doc, reactions hash, reactors zset
// ARGV: kind, user id
var addReactionScript = redis.NewScript(`
local t = redis.call('TYPE', KEYS[1])
if type(t) == 'table' then
	t = t.ok
end
if t ~= 'string' then
	return -1
end
local seq = tostring(redis.call('ZCARD', KEYS[3]) + 1)
if redis.call('ZADD', KEYS[3], 'NX', seq, ARGV[2]) == 0 then
	return 0
end
redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
return 1
`)

// RedisStore provides confession persistence in Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// CreateConfession stores the document, its zeroed reactions and its index
// entries in one MULTI/EXEC block.
func (s *RedisStore) CreateConfession(ctx context.Context, c *Confession) error {
	data, err := json.Marshal(confessionDoc{
		ID:        c.ID,
		Title:     c.Title,
		Body:      c.Body,
		Tags:      c.Tags,
		CreatedAt: c.CreatedAt,
	})
	if err != nil {
		return err
	}
	counters := make([]interface{}, 0, 2*len(reactionKinds))
	for _, k := range reactionKinds {
		counters = append(counters, k.String(), c.Reactions.Count(k))
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, confessionKey(c.ID), data, 0)
		pipe.HSet(ctx, reactionsKey(c.ID), counters...)
		pipe.SAdd(ctx, allConfessionsKey, c.ID)
		for _, tag := range c.Tags {
			pipe.SAdd(ctx, tagKey(tag), c.ID)
		}
		return nil
	})
	return err
}

// GetConfession retrieves a confession by ID.
func (s *RedisStore) GetConfession(ctx context.Context, id string) (*Confession, error) {
	out, err := s.load(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out[0], nil
}

// SampleConfessions returns up to n distinct confessions picked at random.
func (s *RedisStore) SampleConfessions(ctx context.Context, n int) ([]*Confession, error) {
	ids, err := s.client.SRandMemberN(ctx, allConfessionsKey, int64(n)).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

// ConfessionsByTag returns every confession indexed under tag.
func (s *RedisStore) ConfessionsByTag(ctx context.Context, tag string) ([]*Confession, error) {
	ids, err := s.client.SMembers(ctx, tagKey(tag)).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

// AddReaction runs addReactionScript and reads back the confession.
func (s *RedisStore) AddReaction(ctx context.Context, id string, kind ReactionKind, userID string) (*Confession, error) {
	keys := []string{confessionKey(id), reactionsKey(id), reactorsKey(id)}
	res, err := addReactionScript.Run(ctx, s.client, keys, kind.String(), userID).Int()
	if err != nil {
		return nil, err
	}
	switch res {
	case -1:
		return nil, ErrNotFound
	case 0:
		return nil, ErrDuplicateReaction
	}
	return s.GetConfession(ctx, id)
}

// Ping checks the connection to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// load fetches documents and reaction state for ids in one pipeline. IDs
// whose document is gone are skipped.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]*Confession, error) {
	if len(ids) == 0 {
		return []*Confession{}, nil
	}
	type cmds struct {
		doc       *redis.StringCmd
		reactions *redis.StringStringMapCmd
		reactors  *redis.StringSliceCmd
	}
	pending := make([]cmds, len(ids))
	pipe := s.client.Pipeline()
	for i, id := range ids {
		pending[i] = cmds{
			doc:       pipe.Get(ctx, confessionKey(id)),
			reactions: pipe.HGetAll(ctx, reactionsKey(id)),
			reactors:  pipe.ZRange(ctx, reactorsKey(id), 0, -1),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]*Confession, 0, len(ids))
	for _, p := range pending {
		data, err := p.doc.Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		var doc confessionDoc
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, err
		}
		c := &Confession{
			ID:        doc.ID,
			Title:     doc.Title,
			Body:      doc.Body,
			Tags:      doc.Tags,
			CreatedAt: doc.CreatedAt,
		}
		counts, err := p.reactions.Result()
		if err != nil {
			return nil, err
		}
		for _, k := range reactionKinds {
			v, ok := counts[k.String()]
			if !ok {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("confession %s: bad %s counter %q: %w", doc.ID, k, v, err)
			}
			c.Reactions.Set(k, n)
		}
		users, err := p.reactors.Result()
		if err != nil {
			return nil, err
		}
		c.Reactions.UserReactions = users
		c.normalize()
		out = append(out, c)
	}
	return out, nil
}
