package api_test

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/database"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/dispatcher"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/kramerius"
)

// fakeJobs implements the subset of the job repository the facade calls.
type fakeJobs struct {
	database.JobRepositoryInterface

	mu   sync.Mutex
	jobs []*domain.Job
	last domain.JobFilter
}

func (r *fakeJobs) Create(_ context.Context, j *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j.ID = int64(len(r.jobs) + 1)
	c := *j
	r.jobs = append(r.jobs, &c)
	return nil
}

func (r *fakeJobs) GetByID(_ context.Context, id int64) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id <= 0 || int(id) > len(r.jobs) {
		return nil, domain.NotFoundf("job %d", id)
	}
	c := *r.jobs[id-1]
	return &c, nil
}

func (r *fakeJobs) List(_ context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = filter
	var out []*domain.Job
	for _, j := range slices.Backward(r.jobs) {
		if len(filter.States) > 0 && !slices.Contains(filter.States, j.State) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

type fakeSubmitter struct {
	mu    sync.Mutex
	tasks []dispatcher.Task
	err   error
}

func (s *fakeSubmitter) Submit(task dispatcher.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tasks = append(s.tasks, task)
	return nil
}

type fakeVersions struct {
	mu         sync.Mutex
	versions   map[int64]*domain.ContentVersion
	content    map[int64][]byte
	publishErr error
	published  []int64
	accepted   []int64
}

func newFakeVersions() *fakeVersions {
	return &fakeVersions{versions: map[int64]*domain.ContentVersion{}, content: map[int64][]byte{}}
}

func (f *fakeVersions) put(v *domain.ContentVersion, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[v.ID] = v
	f.content[v.ID] = []byte(content)
}

func (f *fakeVersions) byID(id int64) (*domain.ContentVersion, error) {
	v, ok := f.versions[id]
	if !ok {
		return nil, domain.NotFoundf("version %d", id)
	}
	return v, nil
}

func (f *fakeVersions) SubmitUserContent(_ context.Context, pid, owner string, alto []byte) (*domain.ContentVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := &domain.ContentVersion{ID: int64(len(f.versions) + 1), PID: pid, Version: len(f.versions) + 1, Owner: owner, State: domain.VersionStatePending}
	f.versions[v.ID] = v
	f.content[v.ID] = alto
	return v, nil
}

func (f *fakeVersions) FetchInitialContent(_ context.Context, pid, instance string) (*domain.VersionWithContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions {
		if v.PID == pid {
			return nil, domain.Conflictf("object %s already has versions", pid)
		}
	}
	v := &domain.ContentVersion{ID: int64(len(f.versions) + 1), PID: pid, Version: 1, Owner: "kramerius",
		State: domain.VersionStateActive, Instances: domain.InstanceSet{instance}}
	f.versions[v.ID] = v
	f.content[v.ID] = []byte("<alto/>")
	return &domain.VersionWithContent{Version: v, Content: f.content[v.ID]}, nil
}

func (f *fakeVersions) Accept(_ context.Context, id int64) (*domain.ContentVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.byID(id)
	if err != nil {
		return nil, err
	}
	f.accepted = append(f.accepted, id)
	v.State = domain.VersionStateActive
	return v, nil
}

func (f *fakeVersions) fromPending(id int64, to domain.VersionState) (*domain.ContentVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.byID(id)
	if err != nil {
		return nil, err
	}
	if v.State != domain.VersionStatePending {
		return nil, domain.ErrInvalidTransition
	}
	v.State = to
	return v, nil
}

func (f *fakeVersions) Reject(_ context.Context, id int64) (*domain.ContentVersion, error) {
	return f.fromPending(id, domain.VersionStateRejected)
}

func (f *fakeVersions) Archive(_ context.Context, id int64) (*domain.ContentVersion, error) {
	return f.fromPending(id, domain.VersionStateArchived)
}

func (f *fakeVersions) Publish(_ context.Context, id int64, instances []string) ([]*kramerius.UploadHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.byID(id); err != nil {
		return nil, err
	}
	f.published = append(f.published, id)
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	if len(instances) == 0 {
		instances = []string{"mzk"}
	}
	var out []*kramerius.UploadHandle
	for _, instance := range instances {
		out = append(out, &kramerius.UploadHandle{Instance: instance, ProcessID: "p-1"})
	}
	return out, nil
}

func (f *fakeVersions) Related(_ context.Context, pid, owner string) (*domain.VersionWithContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *domain.ContentVersion
	for _, v := range f.versions {
		if v.PID != pid {
			continue
		}
		if v.Owner == owner || (best == nil && v.State == domain.VersionStateActive) {
			best = v
		}
	}
	if best == nil {
		return nil, domain.NotFoundf("no content for %s", pid)
	}
	return &domain.VersionWithContent{Version: best, Content: f.content[best.ID]}, nil
}

func (f *fakeVersions) Get(_ context.Context, pid string, number int) (*domain.VersionWithContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions {
		if v.PID == pid && v.Version == number {
			return &domain.VersionWithContent{Version: v, Content: f.content[v.ID]}, nil
		}
	}
	return nil, domain.NotFoundf("version %d of %s", number, pid)
}

func (f *fakeVersions) Versions(_ context.Context, pid string) ([]*domain.ContentVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.ContentVersion
	for _, v := range f.versions {
		if v.PID == pid {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b *domain.ContentVersion) int { return a.Version - b.Version })
	return out, nil
}

func (f *fakeVersions) OCR(_ context.Context, id int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.byID(id); err != nil {
		return nil, err
	}
	return []byte("plain text"), nil
}

var errQueueClosed = errors.New("dispatcher is not running")
