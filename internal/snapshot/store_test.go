package snapshot

import (
	"io"
	"log/slog"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karvel/ckpt/internal/config"
	"github.com/karvel/ckpt/internal/fsx"
	"github.com/karvel/ckpt/internal/hashing"
	"github.com/karvel/ckpt/internal/ignore"
	"github.com/karvel/ckpt/internal/walker"
)

const testSession = "sess-1"

type testEnv struct {
	fs      *fsx.MemoryFS
	store   *Store
	records RecordStore
	hooks   *Hooks
}

func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()
	fs := fsx.NewMemoryFS()
	require.NoError(t, fs.MkdirAll("/ws", 0o755))

	records, err := OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	cfg := config.Config{Enabled: true, BasePath: "/data", MaxCheckpoints: -1}
	for _, o := range opts {
		o(&cfg)
	}

	hooks := &Hooks{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{fs: fs, records: records, hooks: hooks}
	env.store = New(fs, records, cfg, "/ws", Hooks{
		CancelPendingEdits: func() {
			if hooks.CancelPendingEdits != nil {
				hooks.CancelPendingEdits()
			}
		},
		RefreshDocuments: func(changed, deleted []string) {
			if hooks.RefreshDocuments != nil {
				hooks.RefreshDocuments(changed, deleted)
			}
		},
	}, log)
	return env
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	full := path.Join("/ws", rel)
	require.NoError(t, e.fs.MkdirAll(path.Dir(full), 0o755))
	require.NoError(t, e.fs.WriteFile(full, []byte(content), 0o644))
}

func (e *testEnv) remove(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, e.fs.Remove(path.Join("/ws", rel)))
}

func (e *testEnv) create(t *testing.T, anchor int, label string) *Record {
	t.Helper()
	rec, err := e.store.Create(testSession, anchor, label, config.PhaseBefore)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

// workspaceState hashes the live tree the way the engine does.
func (e *testEnv) workspaceState(t *testing.T) (map[string]string, []string) {
	t.Helper()
	m := ignore.NewMatcherFromPatterns(nil, nil)
	tree, err := walker.Walk(e.fs, "/ws", m)
	require.NoError(t, err)
	hashes := make(map[string]string, len(tree.Files))
	for _, rel := range tree.Files {
		data, err := e.fs.ReadFile(path.Join("/ws", rel))
		require.NoError(t, err)
		hashes[rel] = hashing.Hash(data)
	}
	return hashes, tree.EmptyDirs
}

func TestCreateFirstSnapshotIsFull(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	env.write(t, "sub/b.txt", "2")
	require.NoError(t, env.fs.MkdirAll("/ws/empty", 0o755))

	rec := env.create(t, 1, "first")

	assert.Equal(t, KindFull, rec.Kind)
	assert.Empty(t, rec.BaseSnapshotID)
	assert.Equal(t, 2, rec.FileCount)
	assert.Len(t, rec.FileHashes, 2)
	assert.Equal(t, []string{"empty"}, rec.EmptyDirs)
	assert.NotEmpty(t, rec.Signature)

	// payload holds every file plus the materialized empty dir
	assert.True(t, fsx.Exists(env.fs, path.Join("/data", rec.PayloadDir, "a.txt")))
	assert.True(t, fsx.Exists(env.fs, path.Join("/data", rec.PayloadDir, "sub/b.txt")))
	assert.True(t, fsx.IsDir(env.fs, path.Join("/data", rec.PayloadDir, "empty")))
}

func TestCreateIncrementalRecordsDelta(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	s1 := env.create(t, 1, "s1")

	env.write(t, "a.txt", "2")
	env.write(t, "b.txt", "x")
	s2 := env.create(t, 2, "s2")

	assert.Equal(t, KindIncremental, s2.Kind)
	assert.Equal(t, s1.ID, s2.BaseSnapshotID)
	assert.Equal(t, 2, s2.FileCount)
	assert.ElementsMatch(t, []Change{
		{Path: "a.txt", Type: ChangeModified, Hash: hashing.Hash([]byte("2"))},
		{Path: "b.txt", Type: ChangeAdded, Hash: hashing.Hash([]byte("x"))},
	}, s2.Changes)
	assert.Equal(t, map[string]string{
		"a.txt": hashing.Hash([]byte("2")),
		"b.txt": hashing.Hash([]byte("x")),
	}, s2.FileHashes)

	// payload holds only the changed files
	assert.True(t, fsx.Exists(env.fs, path.Join("/data", s2.PayloadDir, "a.txt")))
	assert.True(t, fsx.Exists(env.fs, path.Join("/data", s2.PayloadDir, "b.txt")))
}

// The concrete scenario: restore S1 after drift must delete b.txt,
// recreate a.txt="1", and report restored=1 deleted=1 skipped=0.
func TestRestoreRewindsToFirstSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	s1 := env.create(t, 1, "s1")

	env.write(t, "a.txt", "2")
	env.write(t, "b.txt", "x")
	env.create(t, 2, "s2")

	env.remove(t, "a.txt")

	res := env.store.Restore(testSession, s1.ID)
	require.True(t, res.Success, "restore failed: %v", res.Err)
	assert.Equal(t, 1, res.Restored)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 0, res.Skipped)

	data, err := env.fs.ReadFile("/ws/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))
	assert.False(t, fsx.Exists(env.fs, "/ws/b.txt"))
}

func TestRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "one")
	env.write(t, "dir/b.txt", "two")
	require.NoError(t, env.fs.MkdirAll("/ws/hollow", 0o755))

	rec := env.create(t, 1, "checkpoint")

	// drift: modify, delete, add, drop the empty dir
	env.write(t, "a.txt", "changed")
	env.remove(t, "dir/b.txt")
	env.write(t, "new.txt", "fresh")
	require.NoError(t, env.fs.Remove("/ws/hollow"))

	res := env.store.Restore(testSession, rec.ID)
	require.True(t, res.Success, "restore failed: %v", res.Err)

	hashes, emptyDirs := env.workspaceState(t)
	assert.Equal(t, rec.FileHashes, hashes)
	assert.Equal(t, rec.EmptyDirs, emptyDirs)
}

func TestRestoreIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	env.write(t, "b.txt", "2")
	rec := env.create(t, 1, "s1")

	env.write(t, "a.txt", "drift")
	first := env.store.Restore(testSession, rec.ID)
	require.True(t, first.Success)

	second := env.store.Restore(testSession, rec.ID)
	require.True(t, second.Success)
	assert.Equal(t, 0, second.Restored)
	assert.Equal(t, 0, second.Deleted)
	assert.Equal(t, len(rec.FileHashes), second.Skipped)
}

func TestChainAcrossZeroChangeSnapshots(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	env.write(t, "b.txt", "1")
	env.create(t, 1, "s1")

	env.write(t, "a.txt", "2")
	env.create(t, 2, "s2")

	// zero-change checkpoint
	s3 := env.create(t, 3, "s3")
	assert.Equal(t, KindIncremental, s3.Kind)
	assert.Empty(t, s3.Changes)
	assert.Equal(t, 0, s3.FileCount)

	env.write(t, "c.txt", "3")
	env.remove(t, "b.txt")
	s4 := env.create(t, 4, "s4")

	// drift away, then rewind to the end of the chain
	env.write(t, "a.txt", "zzz")
	env.write(t, "d.txt", "noise")

	res := env.store.Restore(testSession, s4.ID)
	require.True(t, res.Success, "restore failed: %v", res.Err)

	hashes, _ := env.workspaceState(t)
	assert.Equal(t, s4.FileHashes, hashes)

	data, err := env.fs.ReadFile("/ws/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "2", string(data)) // from s2, untouched since
	data, err = env.fs.ReadFile("/ws/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "3", string(data))
	assert.False(t, fsx.Exists(env.fs, "/ws/b.txt"))
	assert.False(t, fsx.Exists(env.fs, "/ws/d.txt"))
}

func TestZeroChangeSnapshotKeepsSignature(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	s1 := env.create(t, 1, "s1")
	s2 := env.create(t, 2, "s2")

	assert.Equal(t, s1.Signature, s2.Signature)
	assert.True(t, fsx.IsDir(env.fs, path.Join("/data", s2.PayloadDir)))
}

func TestRestoreBrokenChainFails(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	env.create(t, 1, "s1")
	env.write(t, "a.txt", "2")
	s2 := env.create(t, 2, "s2")
	env.write(t, "a.txt", "3")
	s3 := env.create(t, 3, "s3")

	ok, err := env.store.Delete(testSession, s2.ID)
	require.NoError(t, err)
	require.True(t, ok)

	res := env.store.Restore(testSession, s3.ID)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrChainBroken)
}

func TestRestoreMissingPayloadFails(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	s1 := env.create(t, 1, "s1")
	env.write(t, "a.txt", "2")
	s2 := env.create(t, 2, "s2")

	require.NoError(t, env.fs.RemoveAll(path.Join("/data", s1.PayloadDir)))

	res := env.store.Restore(testSession, s2.ID)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrPayloadMissing)

	// nothing was touched
	data, err := env.fs.ReadFile("/ws/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))
}

func TestRestoreUnknownSnapshotFails(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	env.create(t, 1, "s1")

	res := env.store.Restore(testSession, "nope")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrSnapshotNotFound)
}

func TestCorruptPayloadEntrySkipped(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	env.write(t, "b.txt", "keep")
	env.create(t, 1, "s1")
	env.write(t, "a.txt", "2")
	s2 := env.create(t, 2, "s2")

	// corrupt the chain entry, then drift so a.txt needs resolving
	require.NoError(t, env.fs.WriteFile(path.Join("/data", s2.PayloadDir, "a.txt"), []byte("junk"), 0o644))
	env.remove(t, "a.txt")

	res := env.store.Restore(testSession, s2.ID)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Restored) // a.txt skipped on mismatch
	assert.False(t, fsx.Exists(env.fs, "/ws/a.txt"))
	assert.True(t, fsx.Exists(env.fs, "/ws/b.txt"))
}

func TestCreateSoftSkips(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Enabled = false })
	env.write(t, "a.txt", "1")
	rec, err := env.store.Create(testSession, 1, "s1", config.PhaseBefore)
	require.NoError(t, err)
	assert.Nil(t, rec)

	// missing workspace root
	env2 := newTestEnv(t)
	env2.store = New(env2.fs, env2.records, config.Config{Enabled: true, BasePath: "/data", MaxCheckpoints: -1},
		"/nowhere", Hooks{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec, err = env2.store.Create(testSession, 1, "s1", config.PhaseBefore)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRestoreWithoutWorkspaceFails(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	rec := env.create(t, 1, "s1")

	broken := New(env.fs, env.records, config.Config{Enabled: true, BasePath: "/data", MaxCheckpoints: -1},
		"/nowhere", Hooks{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res := broken.Restore(testSession, rec.ID)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNoWorkspace)
}

func TestRetentionEvictsOldest(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxCheckpoints = 3 })
	var ids []string
	for i := 0; i < 5; i++ {
		env.write(t, "a.txt", time.Now().String()+string(rune('a'+i)))
		rec := env.create(t, i, "s")
		ids = append(ids, rec.PayloadDir)
	}

	records, err := env.store.List(testSession)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	// the two oldest payloads are gone, the three newest remain
	assert.False(t, fsx.Exists(env.fs, path.Join("/data", ids[0])))
	assert.False(t, fsx.Exists(env.fs, path.Join("/data", ids[1])))
	for _, id := range ids[2:] {
		assert.True(t, fsx.IsDir(env.fs, path.Join("/data", id)))
	}
}

// Eviction removed the full snapshot the survivors chain to; the gap is
// only discovered, explicitly, at restore time.
func TestRetentionCanBreakChains(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxCheckpoints = 2 })
	env.write(t, "a.txt", "1")
	env.create(t, 1, "s1")
	env.write(t, "a.txt", "2")
	env.create(t, 2, "s2")
	env.write(t, "a.txt", "3")
	s3 := env.create(t, 3, "s3")

	res := env.store.Restore(testSession, s3.ID)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrChainBroken)
}

func TestDeleteFromAnchor(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	env.create(t, 1, "turn-1")
	env.write(t, "a.txt", "2")
	s2 := env.create(t, 2, "turn-2")
	env.write(t, "a.txt", "3")
	s3 := env.create(t, 3, "turn-3")

	n, err := env.store.DeleteFrom(testSession, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := env.store.List(testSession)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].SequenceAnchor)
	assert.False(t, fsx.Exists(env.fs, path.Join("/data", s2.PayloadDir)))
	assert.False(t, fsx.Exists(env.fs, path.Join("/data", s3.PayloadDir)))
}

func TestDeleteAll(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	env.create(t, 1, "s1")
	env.write(t, "a.txt", "2")
	env.create(t, 2, "s2")

	n, err := env.store.DeleteAll(testSession)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := env.store.List(testSession)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSweepOrphans(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	_, err := env.store.Create("alive", 1, "s", config.PhaseBefore)
	require.NoError(t, err)
	_, err = env.store.Create("dead", 1, "s", config.PhaseBefore)
	require.NoError(t, err)

	n, err := env.store.SweepOrphans([]string{"alive"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records, err := env.store.List("dead")
	require.NoError(t, err)
	assert.Empty(t, records)
	records, err = env.store.List("alive")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSessionsListing(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	_, err := env.store.Create("first", 1, "older", config.PhaseBefore)
	require.NoError(t, err)
	env.write(t, "a.txt", "22")
	_, err = env.store.Create("second", 1, "newer", config.PhaseBefore)
	require.NoError(t, err)

	infos, err := env.store.Sessions()
	require.NoError(t, err)
	require.Len(t, infos, 2)

	for _, info := range infos {
		assert.Equal(t, 1, info.SnapshotCount)
		assert.Positive(t, info.TotalBytes)
		assert.False(t, info.CreatedAt.IsZero())
	}
	assert.False(t, infos[0].UpdatedAt.Before(infos[1].UpdatedAt))
}

// Files under hard-coded excluded directories never enter fileHashes and
// are never deleted by a restore.
func TestIgnoredTreesUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	env.write(t, "node_modules/pkg/index.js", "x")
	rec := env.create(t, 1, "s1")

	assert.NotContains(t, rec.FileHashes, "node_modules/pkg/index.js")

	env.write(t, "node_modules/pkg/extra.js", "y")
	res := env.store.Restore(testSession, rec.ID)
	require.True(t, res.Success)
	assert.True(t, fsx.Exists(env.fs, "/ws/node_modules/pkg/index.js"))
	assert.True(t, fsx.Exists(env.fs, "/ws/node_modules/pkg/extra.js"))
}

func TestRestoreNotifiesCollaborators(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	env.write(t, "b.txt", "1")
	rec := env.create(t, 1, "s1")

	env.write(t, "a.txt", "drift")
	env.write(t, "c.txt", "extra")

	var cancelled bool
	var gotChanged, gotDeleted []string
	env.hooks.CancelPendingEdits = func() { cancelled = true }
	env.hooks.RefreshDocuments = func(changed, deleted []string) {
		gotChanged, gotDeleted = changed, deleted
	}

	res := env.store.Restore(testSession, rec.ID)
	require.True(t, res.Success)
	assert.True(t, cancelled)
	assert.Equal(t, []string{"a.txt"}, gotChanged)
	assert.Equal(t, []string{"c.txt"}, gotDeleted)
}

func TestLegacyRecordRestore(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "live")
	env.write(t, "stale.txt", "gone soon")

	// a record from before chained restores: payload only, no hash map
	legacy := Record{
		ID:         "legacy-1",
		SessionID:  testSession,
		Label:      "old format",
		CreatedAt:  time.Now(),
		PayloadDir: "legacy-1",
		Kind:       KindFull,
	}
	require.NoError(t, env.fs.MkdirAll("/data/legacy-1/sub", 0o755))
	require.NoError(t, env.fs.WriteFile("/data/legacy-1/a.txt", []byte("archived"), 0o644))
	require.NoError(t, env.fs.WriteFile("/data/legacy-1/sub/b.txt", []byte("nested"), 0o644))
	require.NoError(t, env.records.SaveRecords(testSession, []Record{legacy}))

	loaded, err := env.records.LoadRecords(testSession)
	require.NoError(t, err)
	require.True(t, loaded[0].Legacy())

	res := env.store.Restore(testSession, "legacy-1")
	require.True(t, res.Success, "restore failed: %v", res.Err)
	assert.Equal(t, 2, res.Restored)
	assert.Equal(t, 1, res.Deleted)

	data, err := env.fs.ReadFile("/ws/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "archived", string(data))
	data, err = env.fs.ReadFile("/ws/sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))
	assert.False(t, fsx.Exists(env.fs, "/ws/stale.txt"))
}

func TestRestorePrunesEmptiedDirs(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "1")
	rec := env.create(t, 1, "s1")

	env.write(t, "only/deep/file.txt", "drift")

	res := env.store.Restore(testSession, rec.ID)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Deleted)
	assert.False(t, fsx.Exists(env.fs, "/ws/only/deep"))
	assert.False(t, fsx.Exists(env.fs, "/ws/only"))
}
