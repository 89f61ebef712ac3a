package version_test

import (
	"context"
	"sync"
	"time"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/database"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/kramerius"
)

// memRepo keeps versions in memory. Transactions work on copies and are
// applied on success, mirroring rollback on error.
type memRepo struct {
	mu       sync.Mutex
	nextID   int64
	versions map[int64]*domain.ContentVersion
	// updateErr, when set, fails every row update.
	updateErr error
}

func newMemRepo() *memRepo {
	return &memRepo{versions: make(map[int64]*domain.ContentVersion)}
}

func clone(v *domain.ContentVersion) *domain.ContentVersion {
	c := *v
	c.Instances = append(domain.InstanceSet(nil), v.Instances...)
	return &c
}

func (r *memRepo) GetVersion(_ context.Context, id int64) (*domain.ContentVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[id]
	if !ok {
		return nil, domain.NotFoundf("version %d", id)
	}
	return clone(v), nil
}

func (r *memRepo) listLocked(pid string) []*domain.ContentVersion {
	var out []*domain.ContentVersion
	for _, v := range r.versions {
		if v.PID == pid {
			out = append(out, clone(v))
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Version < out[j-1].Version; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (r *memRepo) ListVersions(_ context.Context, pid string) ([]*domain.ContentVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(pid), nil
}

func (r *memRepo) WithObjectTx(ctx context.Context, pid string, fn func(ctx context.Context, tx database.ObjectTx) error) error {
	tx := &memTx{repo: r, pid: pid, pending: make(map[int64]*domain.ContentVersion)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, v := range tx.pending {
		r.versions[id] = v
	}
	r.checkLocked(pid)
	return nil
}

// checkLocked panics when a committed state breaks the object invariants.
func (r *memRepo) checkLocked(pid string) {
	active := 0
	pending := map[string]int{}
	for _, v := range r.listLocked(pid) {
		switch v.State {
		case domain.VersionStateActive:
			active++
		case domain.VersionStatePending:
			pending[v.Owner]++
			if pending[v.Owner] > 1 {
				panic("two pending versions for " + v.Owner)
			}
		}
	}
	if active > 1 {
		panic("more than one active version of " + pid)
	}
}

func (r *memRepo) byState(pid string, state domain.VersionState) []*domain.ContentVersion {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ContentVersion
	for _, v := range r.listLocked(pid) {
		if v.State == state {
			out = append(out, v)
		}
	}
	return out
}

type memTx struct {
	repo    *memRepo
	pid     string
	pending map[int64]*domain.ContentVersion
}

func (t *memTx) Versions(_ context.Context) ([]*domain.ContentVersion, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	return t.repo.listLocked(t.pid), nil
}

func (t *memTx) Insert(_ context.Context, v *domain.ContentVersion) error {
	t.repo.mu.Lock()
	t.repo.nextID++
	v.ID = t.repo.nextID
	t.repo.mu.Unlock()

	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	t.pending[v.ID] = clone(v)
	return nil
}

func (t *memTx) Update(_ context.Context, v *domain.ContentVersion) error {
	t.repo.mu.Lock()
	err := t.repo.updateErr
	t.repo.mu.Unlock()
	if err != nil {
		return err
	}
	v.UpdatedAt = time.Now()
	t.pending[v.ID] = clone(v)
	return nil
}

// fakeRemote serves ALTO per instance and records uploads.
type fakeRemote struct {
	mu      sync.Mutex
	alto    map[string][]byte
	fail    map[string]error
	uploads []string
}

func (f *fakeRemote) Alto(_ context.Context, instance, pid string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.alto[instance]
	if !ok {
		return nil, domain.NotFoundf("alto of %s", pid)
	}
	return data, nil
}

func (f *fakeRemote) UploadAltoOcr(_ context.Context, instance, pid string, _, _ []byte) (*kramerius.UploadHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[instance]; err != nil {
		return nil, err
	}
	f.uploads = append(f.uploads, instance+"/"+pid)
	return &kramerius.UploadHandle{Instance: instance, ProcessID: "proc-" + instance}, nil
}
