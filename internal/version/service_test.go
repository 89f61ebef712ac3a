package version_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/alto"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/coordination"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/storage"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/version"
)

const testPID = "uuid:page-1"

func altoDoc(text string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<alto xmlns="http://www.loc.gov/standards/alto/ns-v2#">
  <Layout><Page ID="P1" HEIGHT="100" WIDTH="100" PHYSICAL_IMG_NR="1"><PrintSpace><TextBlock><TextLine>
    <String CONTENT=%q/>
  </TextLine></TextBlock></PrintSpace></Page></Layout>
</alto>`, text))
}

type fixture struct {
	svc    *version.Service
	repo   *memRepo
	store  storage.Store
	remote *fakeRemote
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "xx")
	require.NoError(t, err)

	f := &fixture{
		repo:   newMemRepo(),
		store:  storage.NewValidatingStore(store),
		remote: &fakeRemote{alto: map[string][]byte{}, fail: map[string]error{}},
	}
	f.svc, err = version.NewService(version.Config{
		Repository:  f.repo,
		Locker:      coordination.NewKeyedMutex(),
		Store:       f.store,
		Remote:      f.remote,
		RemoteOwner: "kramerius",
	})
	require.NoError(t, err)
	return f
}

func TestSubmitUserContent_CreatesThenOverwritesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("one"))
	require.NoError(t, err)
	assert.Equal(t, 0, first.Version)
	assert.Equal(t, domain.VersionStatePending, first.State)

	second, err := f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("two"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0, second.Version)

	got, err := f.svc.Get(ctx, testPID, 0)
	require.NoError(t, err)
	assert.Contains(t, string(got.Content), "two")

	ocr, err := f.svc.OCR(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "two", string(ocr))

	stored, err := f.store.Retrieve(ctx, testPID, domain.DatastreamTextOCR, 0)
	require.NoError(t, err)
	assert.Equal(t, "two", string(stored))
}

func TestSubmitUserContent_FailedOverwriteKeepsContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("one"))
	require.NoError(t, err)

	f.repo.mu.Lock()
	f.repo.updateErr = errors.New("connection reset")
	f.repo.mu.Unlock()

	_, err = f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("two"))
	require.Error(t, err)

	stored, err := f.store.Retrieve(ctx, testPID, domain.DatastreamALTO, first.Version)
	require.NoError(t, err)
	assert.Equal(t, altoDoc("one"), stored)

	v, err := f.repo.GetVersion(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, alto.Hash(stored), v.Hash)
}

func TestSubmitUserContent_SeparateOwners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("a"))
	require.NoError(t, err)
	b, err := f.svc.SubmitUserContent(ctx, testPID, "bob", altoDoc("b"))
	require.NoError(t, err)

	assert.Equal(t, 0, a.Version)
	assert.Equal(t, 1, b.Version)
	assert.Len(t, f.repo.byState(testPID, domain.VersionStatePending), 2)
}

func TestSubmitUserContent_InvalidAltoStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitUserContent(ctx, testPID, "alice", []byte("<not-alto/>"))
	require.ErrorIs(t, err, domain.ErrValidation)

	versions, err := f.svc.Versions(ctx, testPID)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestAccept_DemotesActiveAndStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active, err := f.svc.SyncRemoteContent(ctx, testPID, "mzk", altoDoc("remote"))
	require.NoError(t, err)
	require.Equal(t, domain.VersionStateActive, active.State)

	stale, err := f.svc.SyncRemoteContent(ctx, testPID, "dk", altoDoc("other"))
	require.NoError(t, err)
	require.Equal(t, domain.VersionStateStale, stale.State)

	pending, err := f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("edited"))
	require.NoError(t, err)

	accepted, err := f.svc.Accept(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStateActive, accepted.State)

	assert.Len(t, f.repo.byState(testPID, domain.VersionStateActive), 1)
	assert.Empty(t, f.repo.byState(testPID, domain.VersionStateStale))
	assert.Len(t, f.repo.byState(testPID, domain.VersionStateArchived), 2)
}

func TestAccept_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("x"))
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, v.ID)
	require.NoError(t, err)
	again, err := f.svc.Accept(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStateActive, again.State)

	active, err := f.svc.Active(ctx, testPID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, active.Version.ID)
}

func TestAccept_ConcurrentLeavesOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []int64
	for i := range 8 {
		v, err := f.svc.SubmitUserContent(ctx, testPID, fmt.Sprintf("user-%d", i), altoDoc(fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Accept(ctx, id)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, f.repo.byState(testPID, domain.VersionStateActive), 1)
	assert.Len(t, f.repo.byState(testPID, domain.VersionStateArchived), len(ids)-1)
}

func TestRejectAndArchive_OnlyFromPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("x"))
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStateRejected, rejected.State)

	_, err = f.svc.Reject(ctx, v.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Archive(ctx, v.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	w, err := f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("y"))
	require.NoError(t, err)
	assert.Equal(t, 1, w.Version)
	archived, err := f.svc.Archive(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStateArchived, archived.State)

	_, err = f.svc.Reject(ctx, 999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncRemoteContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active, err := f.svc.SyncRemoteContent(ctx, testPID, "mzk", altoDoc("same"))
	require.NoError(t, err)
	assert.Equal(t, "kramerius", active.Owner)
	assert.Equal(t, domain.InstanceSet{"mzk"}, active.Instances)

	// same content on a second instance joins the ACTIVE version
	joined, err := f.svc.SyncRemoteContent(ctx, testPID, "nkp", altoDoc("same"))
	require.NoError(t, err)
	assert.Equal(t, active.ID, joined.ID)
	assert.Equal(t, domain.InstanceSet{"mzk", "nkp"}, joined.Instances)

	// diverging content becomes STALE and leaves the ACTIVE set
	stale, err := f.svc.SyncRemoteContent(ctx, testPID, "dk", altoDoc("diverged"))
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStateStale, stale.State)
	assert.Equal(t, 1, stale.Version)

	moved, err := f.svc.SyncRemoteContent(ctx, testPID, "nkp", altoDoc("diverged"))
	require.NoError(t, err)
	assert.Equal(t, stale.ID, moved.ID)
	assert.Equal(t, domain.InstanceSet{"dk", "nkp"}, moved.Instances)

	current, err := f.svc.Active(ctx, testPID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceSet{"mzk"}, current.Version.Instances)
}

func TestSubmitEngineContent_ReusesByHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := altoDoc("engine")

	first, err := f.svc.SubmitEngineContent(ctx, testPID, "pero", content, []byte("engine"))
	require.NoError(t, err)
	again, err := f.svc.SubmitEngineContent(ctx, testPID, "pero", content, []byte("engine"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = f.svc.Archive(ctx, first.ID)
	require.NoError(t, err)
	other, err := f.svc.SubmitEngineContent(ctx, testPID, "pero", altoDoc("different"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, other.Version)

	resurrected, err := f.svc.SubmitEngineContent(ctx, testPID, "pero", content, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, resurrected.ID)
	assert.Equal(t, domain.VersionStatePending, resurrected.State)

	pending := f.repo.byState(testPID, domain.VersionStatePending)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
}

func TestFetchInitialContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.alto["mzk"] = altoDoc("initial")

	got, err := f.svc.FetchInitialContent(ctx, testPID, "mzk")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Version.Version)
	assert.Equal(t, domain.VersionStateActive, got.Version.State)

	_, err = f.svc.FetchInitialContent(ctx, testPID, "mzk")
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.svc.FetchInitialContent(ctx, "uuid:other", "nkp")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRelated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Related(ctx, testPID, "alice")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.SyncRemoteContent(ctx, testPID, "mzk", altoDoc("remote"))
	require.NoError(t, err)

	got, err := f.svc.Related(ctx, testPID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStateActive, got.Version.State)

	mine, err := f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("mine"))
	require.NoError(t, err)
	got, err = f.svc.Related(ctx, testPID, "alice")
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.Version.ID)

	got, err = f.svc.Related(ctx, testPID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStateActive, got.Version.State)
}

func TestPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SyncRemoteContent(ctx, testPID, "mzk", altoDoc("remote"))
	require.NoError(t, err)
	_, err = f.svc.SyncRemoteContent(ctx, testPID, "dk", altoDoc("other"))
	require.NoError(t, err)
	v, err := f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("edit"))
	require.NoError(t, err)

	handles, err := f.svc.Publish(ctx, v.ID, nil)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, []string{"dk/" + testPID, "mzk/" + testPID}, f.remote.uploads)

	got, err := f.svc.Get(ctx, testPID, v.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceSet{"dk", "mzk"}, got.Version.Instances)
}

func TestPublish_StopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.fail["nkp"] = &domain.UpstreamError{Op: "upload", Instance: "nkp", StatusCode: 500, Err: errors.New("boom")}

	v, err := f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("edit"))
	require.NoError(t, err)

	handles, err := f.svc.Publish(ctx, v.ID, []string{"mzk", "nkp", "dk"})
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Len(t, handles, 1)

	got, err := f.svc.Get(ctx, testPID, v.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceSet{"mzk"}, got.Version.Instances)
}

func TestPublish_NoInstances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.SubmitUserContent(ctx, testPID, "alice", altoDoc("edit"))
	require.NoError(t, err)

	_, err = f.svc.Publish(ctx, v.ID, nil)
	require.ErrorIs(t, err, domain.ErrValidation)
}
