package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	st, _ := newRedisTestServer(t)
	return st
}

// newRedisTestServer also returns the miniredis instance so tests can
// inject failures.
func newRedisTestServer(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	st, err := OpenSQLiteStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// forEachStore runs fn once per backend.
func forEachStore(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()
	t.Run("redis", func(t *testing.T) { fn(t, newRedisTestStore(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteTestStore(t)) })
}

func newTestConfession(id string, tags ...string) *Confession {
	c := &Confession{
		ID:        id,
		Title:     "title " + id,
		Body:      "body " + id,
		Tags:      tags,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	c.normalize()
	return c
}

func mustCreate(t *testing.T, st Store, c *Confession) {
	t.Helper()
	if err := st.CreateConfession(context.Background(), c); err != nil {
		t.Fatalf("create %s: %v", c.ID, err)
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		mustCreate(t, st, newTestConfession("c1", "b", "a"))

		got, err := st.GetConfession(ctx, "c1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Title != "title c1" || got.Body != "body c1" {
			t.Errorf("unexpected record: %+v", got)
		}
		if len(got.Tags) != 2 || got.Tags[0] != "b" || got.Tags[1] != "a" {
			t.Errorf("tag order not preserved: %v", got.Tags)
		}
		if !got.CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
			t.Errorf("createdAt = %s", got.CreatedAt)
		}
		r := got.Reactions
		if r.Love != 0 || r.Sad != 0 || r.Laugh != 0 {
			t.Errorf("expected zero counters, got %+v", r)
		}
		if r.UserReactions == nil || len(r.UserReactions) != 0 {
			t.Errorf("expected empty userReactions, got %#v", r.UserReactions)
		}

		if _, err := st.GetConfession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStoreAddReaction(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		mustCreate(t, st, newTestConfession("c1"))

		got, err := st.AddReaction(ctx, "c1", Sad, "u1")
		if err != nil {
			t.Fatalf("add reaction: %v", err)
		}
		if got.Reactions.Sad != 1 || got.Reactions.Love != 0 || got.Reactions.Laugh != 0 {
			t.Errorf("unexpected counters: %+v", got.Reactions)
		}
		if len(got.Reactions.UserReactions) != 1 || got.Reactions.UserReactions[0] != "u1" {
			t.Errorf("unexpected reactors: %v", got.Reactions.UserReactions)
		}

		// a different kind from the same user is still a duplicate
		if _, err := st.AddReaction(ctx, "c1", Laugh, "u1"); !errors.Is(err, ErrDuplicateReaction) {
			t.Fatalf("expected ErrDuplicateReaction, got %v", err)
		}
		after, _ := st.GetConfession(ctx, "c1")
		if after.Reactions.Sad != 1 || after.Reactions.Laugh != 0 {
			t.Errorf("duplicate changed counters: %+v", after.Reactions)
		}

		got, err = st.AddReaction(ctx, "c1", Laugh, "u2")
		if err != nil {
			t.Fatalf("second user: %v", err)
		}
		if got.Reactions.Laugh != 1 || len(got.Reactions.UserReactions) != 2 {
			t.Errorf("unexpected reactions: %+v", got.Reactions)
		}
		if got.Reactions.UserReactions[0] != "u1" || got.Reactions.UserReactions[1] != "u2" {
			t.Errorf("reactors out of order: %v", got.Reactions.UserReactions)
		}

		if _, err := st.AddReaction(ctx, "missing", Love, "u1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStoreConcurrentReactions(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		mustCreate(t, st, newTestConfession("c1"))

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := st.AddReaction(ctx, "c1", Love, fmt.Sprintf("user-%d", i))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Errorf("reaction failed: %v", err)
			}
		}

		got, err := st.GetConfession(ctx, "c1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Reactions.Love != n {
			t.Errorf("love = %d, want %d", got.Reactions.Love, n)
		}
		seen := map[string]bool{}
		for _, u := range got.Reactions.UserReactions {
			seen[u] = true
		}
		if len(seen) != n || len(got.Reactions.UserReactions) != n {
			t.Errorf("expected %d distinct reactors, got %v", n, got.Reactions.UserReactions)
		}
	})
}

func TestStoreConcurrentSameUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		mustCreate(t, st, newTestConfession("c1"))

		const n = 10
		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			ok, dupes  int
			unexpected []error
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := st.AddReaction(ctx, "c1", Laugh, "same-user")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ErrDuplicateReaction):
					dupes++
				default:
					unexpected = append(unexpected, err)
				}
			}()
		}
		wg.Wait()

		if len(unexpected) > 0 {
			t.Fatalf("unexpected errors: %v", unexpected)
		}
		if ok != 1 || dupes != n-1 {
			t.Fatalf("got %d successes and %d duplicates", ok, dupes)
		}
		got, _ := st.GetConfession(ctx, "c1")
		if got.Reactions.Laugh != 1 {
			t.Errorf("laugh = %d, want 1", got.Reactions.Laugh)
		}
	})
}

func TestStoreConfessionsByTag(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		mustCreate(t, st, newTestConfession("c1", "work"))
		mustCreate(t, st, newTestConfession("c2", "love", "work"))
		mustCreate(t, st, newTestConfession("c3", "family"))
		mustCreate(t, st, newTestConfession("c4"))
		mustCreate(t, st, newTestConfession("c5", "love"))

		got, err := st.ConfessionsByTag(ctx, "work")
		if err != nil {
			t.Fatalf("by tag: %v", err)
		}
		ids := map[string]bool{}
		for _, c := range got {
			ids[c.ID] = true
		}
		if len(got) != 2 || !ids["c1"] || !ids["c2"] {
			t.Fatalf("expected c1 and c2, got %v", ids)
		}

		none, err := st.ConfessionsByTag(ctx, "nope")
		if err != nil {
			t.Fatalf("by missing tag: %v", err)
		}
		if none == nil || len(none) != 0 {
			t.Fatalf("expected empty slice, got %#v", none)
		}
	})
}

func TestStoreSampleConfessions(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		empty, err := st.SampleConfessions(ctx, 5)
		if err != nil {
			t.Fatalf("sample empty: %v", err)
		}
		if len(empty) != 0 {
			t.Fatalf("expected no confessions, got %d", len(empty))
		}

		for i := 0; i < 3; i++ {
			mustCreate(t, st, newTestConfession(fmt.Sprintf("c%d", i)))
		}
		few, err := st.SampleConfessions(ctx, 5)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if len(few) != 3 {
			t.Fatalf("expected 3, got %d", len(few))
		}

		for i := 3; i < 12; i++ {
			mustCreate(t, st, newTestConfession(fmt.Sprintf("c%d", i)))
		}
		many, err := st.SampleConfessions(ctx, 5)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if len(many) != 5 {
			t.Fatalf("expected 5, got %d", len(many))
		}
		seen := map[string]bool{}
		for _, c := range many {
			if seen[c.ID] {
				t.Fatalf("duplicate %s in sample", c.ID)
			}
			seen[c.ID] = true
		}
	})
}

func TestRedisAddReactionWrongKeyType(t *testing.T) {
	st := newRedisTestStore(t)
	ctx := context.Background()
	mustCreate(t, st, newTestConfession("c1"))
	if _, err := st.AddReaction(ctx, "c1", Love, "u1"); err != nil {
		t.Fatalf("add reaction: %v", err)
	}

	// c1:reactions names the hash of c1, not a document
	if _, err := st.AddReaction(ctx, "c1:reactions", Love, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	n, err := st.client.Exists(ctx, reactionsKey("c1:reactions"), reactorsKey("c1:reactions")).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if n != 0 {
		t.Errorf("script wrote %d stray keys", n)
	}
	got, err := st.GetConfession(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Reactions.Love != 1 || len(got.Reactions.UserReactions) != 1 {
		t.Errorf("reactions changed: %+v", got.Reactions)
	}
}

// assertReactionsUnchanged checks c1 still holds one sad reaction by u1.
func assertReactionsUnchanged(t *testing.T, st Store) {
	t.Helper()
	got, err := st.GetConfession(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Reactions.Sad != 1 || got.Reactions.Love != 0 || got.Reactions.Laugh != 0 {
		t.Errorf("counters changed after failure: %+v", got.Reactions)
	}
	if len(got.Reactions.UserReactions) != 1 || got.Reactions.UserReactions[0] != "u1" {
		t.Errorf("reactors changed after failure: %v", got.Reactions.UserReactions)
	}
}

func TestRedisAddReactionFailureLeavesRecord(t *testing.T) {
	st, mr := newRedisTestServer(t)
	ctx := context.Background()
	mustCreate(t, st, newTestConfession("c1"))
	if _, err := st.AddReaction(ctx, "c1", Sad, "u1"); err != nil {
		t.Fatalf("add reaction: %v", err)
	}

	mr.SetError("ERR injected failure")
	_, err := st.AddReaction(ctx, "c1", Love, "u2")
	mr.SetError("")
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateReaction) {
		t.Fatalf("expected a backend error, got %v", err)
	}
	assertReactionsUnchanged(t, st)

	// the failed attempt did not record u2
	if _, err := st.AddReaction(ctx, "c1", Love, "u2"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestSQLiteAddReactionFailureRollsBack(t *testing.T) {
	st := newSQLiteTestStore(t)
	ctx := context.Background()
	mustCreate(t, st, newTestConfession("c1"))
	if _, err := st.AddReaction(ctx, "c1", Sad, "u1"); err != nil {
		t.Fatalf("add reaction: %v", err)
	}

	// fail the counter update after the reaction row was inserted
	if _, err := st.db.Exec(`CREATE TRIGGER fail_love BEFORE UPDATE OF love ON confessions
BEGIN SELECT RAISE(ABORT, 'disk I/O error'); END;`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	_, err := st.AddReaction(ctx, "c1", Love, "u2")
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateReaction) {
		t.Fatalf("expected a backend error, got %v", err)
	}
	if _, err := st.db.Exec(`DROP TRIGGER fail_love`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	assertReactionsUnchanged(t, st)

	if _, err := st.AddReaction(ctx, "c1", Love, "u2"); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
}

func TestSQLiteConnectionPragmas(t *testing.T) {
	st := newSQLiteTestStore(t)
	var fk, timeout int
	if err := st.db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if err := st.db.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if fk != 1 || timeout != 5000 {
		t.Errorf("foreign_keys = %d, busy_timeout = %d", fk, timeout)
	}
}
