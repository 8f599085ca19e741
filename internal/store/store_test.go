package store_test

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AndrewDonelson/amber/internal/store"
)

// ── Conformance suite ────────────────────────────────────────────────────────

// runSuite runs the Store contract against one backend.
func runSuite(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		s := open(t)
		in := store.Entry{Payload: []byte{1, 2, 3}, Meta: []byte(`{"n":"a"}`)}
		require.NoError(t, s.Put(ctx, "slot1", in))

		got, err := s.Get(ctx, "slot1")
		require.NoError(t, err)
		assert.Equal(t, in.Payload, got.Payload)
		assert.Equal(t, in.Meta, got.Meta)
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, "slot1", store.Entry{Payload: []byte("old"), Meta: []byte("m1")}))
		require.NoError(t, s.Put(ctx, "slot1", store.Entry{Payload: []byte("new"), Meta: []byte("m2")}))

		got, err := s.Get(ctx, "slot1")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got.Payload)
		assert.Equal(t, []byte("m2"), got.Meta)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		s := open(t)
		for _, n := range []string{"b", "a", "c"} {
			require.NoError(t, s.Put(ctx, n, store.Entry{Payload: []byte(n), Meta: []byte("m")}))
		}
		names, err := s.List(ctx)
		require.NoError(t, err)
		sort.Strings(names)
		assert.Equal(t, []string{"a", "b", "c"}, names)
	})

	t.Run("Delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, "slot1", store.Entry{Payload: []byte("x"), Meta: []byte("m")}))
		require.NoError(t, s.Delete(ctx, "slot1"))
		_, err := s.Get(ctx, "slot1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		s := open(t)
		assert.ErrorIs(t, s.Delete(ctx, "nope"), store.ErrNotFound)
	})

	t.Run("BadName", func(t *testing.T) {
		s := open(t)
		err := s.Put(ctx, "../escape", store.Entry{Payload: []byte("x")})
		assert.ErrorIs(t, err, store.ErrBadName)
		assert.ErrorIs(t, s.Put(ctx, "", store.Entry{}), store.ErrBadName)
	})
}

func TestMemory_Conformance(t *testing.T) {
	runSuite(t, func(t *testing.T) store.Store {
		s := store.NewMemory(store.MemoryOptions{})
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestDir_Conformance(t *testing.T) {
	runSuite(t, func(t *testing.T) store.Store {
		s, err := store.NewDir(filepath.Join(t.TempDir(), "snaps"))
		require.NoError(t, err)
		return s
	})
}

func TestBolt_Conformance(t *testing.T) {
	runSuite(t, func(t *testing.T) store.Store {
		s, err := store.NewBolt(filepath.Join(t.TempDir(), "snaps.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func newRedisStore(t *testing.T, ttl time.Duration) (*store.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedis(store.RedisOptions{Client: client, TTL: ttl}), mr
}

func TestRedis_Conformance(t *testing.T) {
	runSuite(t, func(t *testing.T) store.Store {
		s, _ := newRedisStore(t, 0)
		return s
	})
}

func TestTiered_Conformance(t *testing.T) {
	runSuite(t, func(t *testing.T) store.Store {
		s := store.NewTiered(store.NewMemory(store.MemoryOptions{}), 4)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

// ── Backend specifics ────────────────────────────────────────────────────────

func TestMemory_EvictsLRU(t *testing.T) {
	ctx := context.Background()
	var evicted []string
	s := store.NewMemory(store.MemoryOptions{
		MaxEntries: 2,
		OnEvict:    func(name string) { evicted = append(evicted, name) },
	})

	require.NoError(t, s.Put(ctx, "a", store.Entry{Payload: []byte("1")}))
	require.NoError(t, s.Put(ctx, "b", store.Entry{Payload: []byte("2")}))
	_, err := s.Get(ctx, "a") // refresh a; b becomes the oldest
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "c", store.Entry{Payload: []byte("3")}))

	assert.Equal(t, []string{"b"}, evicted)
	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestMemory_CopiesBytes(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(store.MemoryOptions{})

	payload := []byte{1, 2, 3}
	require.NoError(t, s.Put(ctx, "a", store.Entry{Payload: payload}))
	payload[0] = 99 // caller mutates after Put

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, byte(1), got.Payload[0])

	got.Payload[0] = 77 // reader mutates its copy
	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, byte(1), again.Payload[0])
}

func TestMemory_Closed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(store.MemoryOptions{})
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Put(ctx, "a", store.Entry{}), store.ErrClosed)
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestDir_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "snaps")

	s1, err := store.NewDir(root)
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, "slot1", store.Entry{Payload: []byte("p"), Meta: []byte("m")}))
	require.NoError(t, s1.Close())

	s2, err := store.NewDir(root)
	require.NoError(t, err)
	got, err := s2.Get(ctx, "slot1")
	require.NoError(t, err)
	assert.Equal(t, []byte("p"), got.Payload)
	assert.Equal(t, []byte("m"), got.Meta)
}

func TestBolt_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snaps.db")

	s1, err := store.NewBolt(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, "slot1", store.Entry{Payload: []byte("p"), Meta: []byte("m")}))
	require.NoError(t, s1.Close())

	s2, err := store.NewBolt(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })
	got, err := s2.Get(ctx, "slot1")
	require.NoError(t, err)
	assert.Equal(t, []byte("p"), got.Payload)
}

func TestRedis_TTLExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, time.Minute)

	require.NoError(t, s.Put(ctx, "slot1", store.Entry{Payload: []byte("p"), Meta: []byte("m")}))
	_, err := s.Get(ctx, "slot1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "slot1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTiered_PromotesBackHits(t *testing.T) {
	ctx := context.Background()
	back := store.NewMemory(store.MemoryOptions{})
	tiered := store.NewTiered(back, 8)

	// Seed the back tier directly; the front has never seen it.
	require.NoError(t, back.Put(ctx, "slot1", store.Entry{Payload: []byte("p"), Meta: []byte("m")}))

	_, err := tiered.Get(ctx, "slot1")
	require.NoError(t, err)
	hits, misses := tiered.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), misses)

	_, err = tiered.Get(ctx, "slot1")
	require.NoError(t, err)
	hits, _ = tiered.Stats()
	assert.Equal(t, int64(1), hits)
}

func TestTiered_DeleteClearsBothTiers(t *testing.T) {
	ctx := context.Background()
	back := store.NewMemory(store.MemoryOptions{})
	tiered := store.NewTiered(back, 8)

	require.NoError(t, tiered.Put(ctx, "slot1", store.Entry{Payload: []byte("p")}))
	require.NoError(t, tiered.Delete(ctx, "slot1"))

	_, err := tiered.Get(ctx, "slot1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = back.Get(ctx, "slot1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
