package amber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/AndrewDonelson/amber/internal/clock"
	"github.com/AndrewDonelson/amber/internal/codec"
	"github.com/AndrewDonelson/amber/internal/metrics"
	"github.com/AndrewDonelson/amber/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/xxh3"
)

// Re-export types so callers only import this package.
type MetricsRecorder = metrics.MetricsRecorder
type Codec = codec.Codec
type Clock = clock.Clock
type Store = store.Store

// snapshotRootTag is the tag every snapshot document is serialized under.
const snapshotRootTag = "machine"

// archiveOptions assembles the per-pass options shared by the vault and
// the rewind ring.
func archiveOptions(l Logger, r *Registry) []Option {
	opts := []Option{WithLogger(l)}
	if r != nil {
		opts = append(opts, WithRegistry(r))
	}
	return opts
}

// ────────────────────────────────────────────────────────────────────────────
// Config
// ────────────────────────────────────────────────────────────────────────────

// Config contains all Vault configuration.
type Config struct {
	// Backend selection, first match wins: Store, PostgresDSN, RedisAddr,
	// BoltPath, Dir. With none set the vault keeps snapshots in memory.
	Store         Store
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	BoltPath      string
	Dir           string

	// FrontCache > 0 layers an in-memory cache of that many snapshots
	// over the backend.
	FrontCache int

	// Format selects the stream encoding for Save: FormatBinary (default)
	// or FormatPortable. Load detects the format from the stored bytes.
	Format Format

	// Machine names the emulated hardware configuration and is recorded
	// in snapshot metadata.
	Machine string

	// Registry resolves polymorphic type discriminators. Nil uses the
	// process-wide DefaultRegistry.
	Registry *Registry

	// Optional overrideable components
	Codec   codec.Codec
	Clock   clock.Clock
	Metrics metrics.MetricsRecorder
	Logger  Logger

	// Encryption key (must be 32 bytes for AES-256-GCM; nil = disabled).
	EncryptionKey []byte
}

func (c *Config) defaults() {
	if c.Format == 0 {
		c.Format = FormatBinary
	}
	if c.Codec == nil {
		c.Codec = codec.JSON{}
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop{}
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Meta
// ────────────────────────────────────────────────────────────────────────────

// Meta describes a stored snapshot. It is written next to the payload on
// Save and returned by Save, Load, and Stat.
type Meta struct {
	SnapshotID uuid.UUID `json:"snapshot_id" msgpack:"snapshot_id" cbor:"snapshot_id"`
	Name       string    `json:"name" msgpack:"name" cbor:"name"`
	Machine    string    `json:"machine" msgpack:"machine" cbor:"machine"`
	Creator    string    `json:"creator" msgpack:"creator" cbor:"creator"`
	Format     string    `json:"format" msgpack:"format" cbor:"format"`
	CreatedAt  time.Time `json:"created_at" msgpack:"created_at" cbor:"created_at"`
	Checksum   uint64    `json:"checksum" msgpack:"checksum" cbor:"checksum"`
	RawSize    int       `json:"raw_size" msgpack:"raw_size" cbor:"raw_size"`
	StoredSize int       `json:"stored_size" msgpack:"stored_size" cbor:"stored_size"`
	Encrypted  bool      `json:"encrypted" msgpack:"encrypted" cbor:"encrypted"`
}

// ────────────────────────────────────────────────────────────────────────────
// Stats
// ────────────────────────────────────────────────────────────────────────────

type vaultStats struct {
	Saves   atomic.Int64
	Loads   atomic.Int64
	Deletes atomic.Int64
	Errors  atomic.Int64
}

// VaultStats is the snapshot returned by Vault.Stats().
type VaultStats struct {
	Saves       int64
	Loads       int64
	Deletes     int64
	Errors      int64
	FrontHits   int64
	FrontMisses int64
}

// ────────────────────────────────────────────────────────────────────────────
// Vault
// ────────────────────────────────────────────────────────────────────────────

// Vault persists machine snapshots to a store backend. Save serializes a
// machine state, seals it into a container, optionally encrypts it, and
// writes it next to its metadata under a caller-chosen name.
type Vault struct {
	cfg       Config
	store     store.Store
	backend   string
	encryptor Encryptor
	stats     vaultStats
	metrics   metrics.MetricsRecorder
	logger    Logger
	owned     []func() error
	closed    atomic.Bool
}

// NewVault creates and initialises a Vault from the provided Config.
func NewVault(cfg Config) (*Vault, error) {
	cfg.defaults()
	if cfg.Format != FormatBinary && cfg.Format != FormatPortable {
		return nil, fmt.Errorf("%w: unknown format %s", ErrInvalidConfig, cfg.Format)
	}

	v := &Vault{
		cfg:     cfg,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}

	// Encryption
	if len(cfg.EncryptionKey) > 0 {
		enc, err := NewAES256GCM(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("amber: encryption init: %w", err)
		}
		v.encryptor = enc
	}

	// Backend
	backend, err := v.openBackend(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.FrontCache > 0 {
		backend = store.NewTiered(backend, cfg.FrontCache)
	}
	v.store = backend

	return v, nil
}

func (v *Vault) openBackend(cfg Config) (store.Store, error) {
	switch {
	case cfg.Store != nil:
		v.backend = "custom"
		return cfg.Store, nil

	case cfg.PostgresDSN != "":
		pgCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("amber: postgres config: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), pgCfg)
		if err != nil {
			return nil, fmt.Errorf("amber: postgres pool: %w", err)
		}
		pg, err := store.NewPostgres(context.Background(), pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("amber: postgres store: %w", err)
		}
		v.owned = append(v.owned, func() error { pool.Close(); return nil })
		v.backend = "postgres"
		return pg, nil

	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		v.owned = append(v.owned, client.Close)
		v.backend = "redis"
		return store.NewRedis(store.RedisOptions{Client: client, TTL: cfg.RedisTTL}), nil

	case cfg.BoltPath != "":
		b, err := store.NewBolt(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("amber: bolt store: %w", err)
		}
		v.backend = "bolt"
		return b, nil

	case cfg.Dir != "":
		d, err := store.NewDir(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("amber: dir store: %w", err)
		}
		v.backend = "dir"
		return d, nil

	default:
		v.backend = "memory"
		return store.NewMemory(store.MemoryOptions{}), nil
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Save / Load
// ────────────────────────────────────────────────────────────────────────────

// Save serializes root under name and stores the sealed stream with its
// metadata. The returned Meta is what Stat later reports.
func (v *Vault) Save(ctx context.Context, name string, root Serializable) (Meta, error) {
	if v.closed.Load() {
		return Meta{}, ErrClosed
	}
	if !store.ValidName(name) {
		return Meta{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	start := v.cfg.Clock.Now()

	a := v.newSaver()
	a.Serialize(snapshotRootTag, root)
	raw, err := a.Bytes()
	_ = a.Close()
	if err != nil {
		v.opFailed("save")
		return Meta{}, err
	}

	stored, err := v.seal(raw)
	if err != nil {
		v.opFailed("save")
		return Meta{}, err
	}
	if v.encryptor != nil {
		stored, err = v.encryptor.Encrypt(stored)
		if err != nil {
			v.opFailed("save")
			return Meta{}, fmt.Errorf("amber: encrypt snapshot: %w", err)
		}
	}

	meta := Meta{
		SnapshotID: uuid.New(),
		Name:       name,
		Machine:    v.cfg.Machine,
		Creator:    Creator(),
		Format:     v.cfg.Format.String(),
		CreatedAt:  v.cfg.Clock.Now().UTC(),
		Checksum:   xxh3.Hash(stored),
		RawSize:    len(raw),
		StoredSize: len(stored),
		Encrypted:  v.encryptor != nil,
	}
	mb, err := v.cfg.Codec.Marshal(meta)
	if err != nil {
		v.opFailed("save")
		return Meta{}, fmt.Errorf("amber: encode metadata: %w", err)
	}

	t0 := time.Now()
	if err := v.store.Put(ctx, name, store.Entry{Payload: stored, Meta: mb}); err != nil {
		v.opFailed("save")
		return Meta{}, storeErr(err)
	}
	v.metrics.RecordStoreOp(v.backend, "put", time.Since(t0))

	v.stats.Saves.Add(1)
	v.metrics.RecordSave(meta.Format, time.Since(start), len(stored))
	v.logger.Info("snapshot saved",
		"name", name, "format", meta.Format, "machine", meta.Machine, "bytes", len(stored))
	return meta, nil
}

// Load fetches the snapshot stored under name and deserializes it into
// root. The encoding is detected from the stored bytes, so a vault
// configured for one format still loads snapshots written in the other.
func (v *Vault) Load(ctx context.Context, name string, root Serializable) (Meta, error) {
	if v.closed.Load() {
		return Meta{}, ErrClosed
	}
	start := v.cfg.Clock.Now()

	t0 := time.Now()
	ent, err := v.store.Get(ctx, name)
	if err != nil {
		v.opFailed("load")
		return Meta{}, storeErr(err)
	}
	v.metrics.RecordStoreOp(v.backend, "get", time.Since(t0))

	stored := ent.Payload
	if v.encryptor != nil {
		stored, err = v.encryptor.Decrypt(stored)
		if err != nil {
			v.opFailed("load")
			return Meta{}, err
		}
	}

	var meta Meta
	if len(ent.Meta) > 0 {
		if err := v.cfg.Codec.Unmarshal(ent.Meta, &meta); err != nil {
			v.opFailed("load")
			return Meta{}, fmt.Errorf("%w: snapshot metadata: %v", ErrBadHeader, err)
		}
	}

	a, format, err := v.newLoader(stored)
	if err != nil {
		v.opFailed("load")
		return Meta{}, err
	}
	a.Serialize(snapshotRootTag, root)
	if err := a.Close(); err != nil {
		v.opFailed("load")
		return Meta{}, err
	}

	v.stats.Loads.Add(1)
	v.metrics.RecordLoad(format.String(), time.Since(start), len(ent.Payload))
	v.logger.Info("snapshot loaded", "name", name, "format", format.String(), "bytes", len(ent.Payload))
	return meta, nil
}

func (v *Vault) seal(raw []byte) ([]byte, error) {
	if v.cfg.Format == FormatBinary {
		return SealBinary(raw), nil
	}
	return SealPortable(raw)
}

func (v *Vault) newSaver() *Archive {
	if v.cfg.Format == FormatBinary {
		return NewBinarySaver(archiveOptions(v.logger, v.cfg.Registry)...)
	}
	return NewPortableSaver(archiveOptions(v.logger, v.cfg.Registry)...)
}

func (v *Vault) newLoader(stored []byte) (*Archive, Format, error) {
	if bytes.HasPrefix(stored, containerMagic) {
		body, err := OpenBinary(stored)
		if err != nil {
			return nil, 0, err
		}
		return NewBinaryLoader(body, archiveOptions(v.logger, v.cfg.Registry)...), FormatBinary, nil
	}
	doc, err := OpenPortable(stored)
	if err != nil {
		return nil, 0, err
	}
	a, err := NewPortableLoader(doc, archiveOptions(v.logger, v.cfg.Registry)...)
	if err != nil {
		return nil, 0, err
	}
	return a, FormatPortable, nil
}

// ────────────────────────────────────────────────────────────────────────────
// List / Stat / Delete
// ────────────────────────────────────────────────────────────────────────────

// List returns the names of all stored snapshots in lexical order.
func (v *Vault) List(ctx context.Context) ([]string, error) {
	if v.closed.Load() {
		return nil, ErrClosed
	}
	names, err := v.store.List(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	sort.Strings(names)
	return names, nil
}

// Stat returns the metadata stored with a snapshot without loading its
// payload into an archive. Snapshots written without metadata report a
// zero Meta.
func (v *Vault) Stat(ctx context.Context, name string) (Meta, error) {
	if v.closed.Load() {
		return Meta{}, ErrClosed
	}
	ent, err := v.store.Get(ctx, name)
	if err != nil {
		return Meta{}, storeErr(err)
	}
	var meta Meta
	if len(ent.Meta) == 0 {
		return meta, nil
	}
	if err := v.cfg.Codec.Unmarshal(ent.Meta, &meta); err != nil {
		return Meta{}, fmt.Errorf("%w: snapshot metadata: %v", ErrBadHeader, err)
	}
	return meta, nil
}

// Delete removes a snapshot and its metadata.
func (v *Vault) Delete(ctx context.Context, name string) error {
	if v.closed.Load() {
		return ErrClosed
	}
	t0 := time.Now()
	if err := v.store.Delete(ctx, name); err != nil {
		return storeErr(err)
	}
	v.metrics.RecordStoreOp(v.backend, "delete", time.Since(t0))
	v.stats.Deletes.Add(1)
	return nil
}

// ────────────────────────────────────────────────────────────────────────────
// Stats / Close
// ────────────────────────────────────────────────────────────────────────────

// Stats returns a snapshot of operational counters.
func (v *Vault) Stats() VaultStats {
	s := VaultStats{
		Saves:   v.stats.Saves.Load(),
		Loads:   v.stats.Loads.Load(),
		Deletes: v.stats.Deletes.Load(),
		Errors:  v.stats.Errors.Load(),
	}
	if t, ok := v.store.(*store.Tiered); ok {
		s.FrontHits, s.FrontMisses = t.Stats()
	}
	return s
}

// Close shuts down the vault, closing the store and any clients or pools
// the vault opened itself. Close is idempotent.
func (v *Vault) Close() error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := v.store.Close()
	for _, fn := range v.owned {
		if cerr := fn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (v *Vault) opFailed(op string) {
	v.stats.Errors.Add(1)
	v.metrics.RecordError(op)
}

// storeErr maps store backend errors onto the package sentinels.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrBadName):
		return ErrBadName
	case errors.Is(err, store.ErrClosed):
		return ErrClosed
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
