package amber_test

// integration_pg_test.go covers vault behaviour that needs a real PostgreSQL
// instance:
//
//   1. Save / Load / Stat round trips through the postgres backend
//   2. Upsert semantics when a snapshot name is reused
//   3. List / Delete against real rows
//   4. A second vault over the same database seeing committed snapshots

import (
	"context"
	"testing"

	"github.com/AndrewDonelson/amber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// ─── Fixtures ────────────────────────────────────────────────────────────────

const (
	pgTestImage = "postgres:16-alpine"
	pgTestDB    = "amberintegration"
	pgTestUser  = "ambertest"
	pgTestPass  = "ambertest"
)

// newPGVault spins up Postgres (testcontainers) and opens a vault over it.
// Skips if Docker is unavailable.
func newPGVault(t *testing.T, cfg amber.Config) (*amber.Vault, string) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	pgc, err := tcpg.Run(ctx, pgTestImage,
		tcpg.WithDatabase(pgTestDB),
		tcpg.WithUsername(pgTestUser),
		tcpg.WithPassword(pgTestPass),
		tcpg.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = pgc.Terminate(ctx) })

	dsn, err := pgc.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg.PostgresDSN = dsn
	v, err := amber.NewVault(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	return v, dsn
}

// ─── 1+2. Save / Load / Stat and upsert ──────────────────────────────────────

func TestVaultPG_SaveLoadStat(t *testing.T) {
	v, _ := newPGVault(t, amber.Config{Machine: "MSX2-FS-A1"})
	ctx := context.Background()

	in := cpuState{PC: 0x38AF, SP: 0xF380, Cycles: 123456789, Halted: true}
	meta, err := v.Save(ctx, "boss-fight", &in)
	require.NoError(t, err)
	assert.Equal(t, "MSX2-FS-A1", meta.Machine)

	var out cpuState
	got, err := v.Load(ctx, "boss-fight", &out)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, meta.SnapshotID, got.SnapshotID)

	st, err := v.Stat(ctx, "boss-fight")
	require.NoError(t, err)
	assert.Equal(t, meta.Checksum, st.Checksum)

	// Saving under the same name overwrites the row.
	in2 := cpuState{PC: 0x0066}
	meta2, err := v.Save(ctx, "boss-fight", &in2)
	require.NoError(t, err)
	assert.NotEqual(t, meta.SnapshotID, meta2.SnapshotID)

	var out2 cpuState
	_, err = v.Load(ctx, "boss-fight", &out2)
	require.NoError(t, err)
	assert.Equal(t, in2, out2)
}

// ─── 3. List / Delete ────────────────────────────────────────────────────────

func TestVaultPG_ListDelete(t *testing.T) {
	v, _ := newPGVault(t, amber.Config{Format: amber.FormatPortable})
	ctx := context.Background()

	for _, name := range []string{"stage2", "stage1", "stage3"} {
		_, err := v.Save(ctx, name, &cpuState{PC: 1})
		require.NoError(t, err)
	}

	names, err := v.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stage1", "stage2", "stage3"}, names)

	require.NoError(t, v.Delete(ctx, "stage2"))
	assert.ErrorIs(t, v.Delete(ctx, "stage2"), amber.ErrNotFound)

	names, err = v.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stage1", "stage3"}, names)

	var out cpuState
	_, err = v.Load(ctx, "stage2", &out)
	assert.ErrorIs(t, err, amber.ErrNotFound)
}

// ─── 4. Snapshots survive the vault that wrote them ──────────────────────────

func TestVaultPG_SecondVaultSeesSnapshots(t *testing.T) {
	v1, dsn := newPGVault(t, amber.Config{})
	ctx := context.Background()

	in := cpuState{PC: 0xC000, Cycles: 42}
	_, err := v1.Save(ctx, "persisted", &in)
	require.NoError(t, err)
	require.NoError(t, v1.Close())

	v2, err := amber.NewVault(amber.Config{PostgresDSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v2.Close() })

	var out cpuState
	_, err = v2.Load(ctx, "persisted", &out)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
