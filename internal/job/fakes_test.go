package job_test

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/kramerius"
)

type memJobs struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*domain.Job
	// states records every state a job was moved into, in order.
	states map[int64][]domain.JobState
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[int64]*domain.Job), states: make(map[int64][]domain.JobState)}
}

func (r *memJobs) add(kind domain.JobKind, pid string, mutate func(*domain.Job)) *domain.Job {
	j, err := domain.NewJob(kind, pid, domain.PriorityMedium)
	if err != nil {
		panic(err)
	}
	if mutate != nil {
		mutate(j)
	}
	if err = r.Create(context.Background(), j); err != nil {
		panic(err)
	}
	return j
}

func (r *memJobs) get(id int64) domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.jobs[id]
}

func (r *memJobs) history(id int64) []domain.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.states[id])
}

func (r *memJobs) Create(_ context.Context, j *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	j.ID = r.nextID
	j.CreatedAt = time.Now().Add(time.Duration(r.nextID) * time.Millisecond)
	c := *j
	r.jobs[j.ID] = &c
	return nil
}

func (r *memJobs) GetByID(_ context.Context, id int64) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.NotFoundf("job %d", id)
	}
	c := *j
	return &c, nil
}

func (r *memJobs) List(_ context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Job
	for _, j := range r.jobs {
		if len(filter.States) > 0 && !slices.Contains(filter.States, j.State) {
			continue
		}
		if filter.Kind != "" && filter.Kind != j.Kind {
			continue
		}
		c := *j
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *domain.Job) int { return int(b.ID - a.ID) })
	return out, nil
}

func (r *memJobs) ListByState(ctx context.Context, state domain.JobState) ([]*domain.Job, error) {
	out, err := r.List(ctx, domain.JobFilter{States: []domain.JobState{state}})
	slices.Reverse(out)
	return out, err
}

func (r *memJobs) UpdateState(_ context.Context, id int64, from, to domain.JobState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.NotFoundf("job %d", id)
	}
	if !from.CanTransitionTo(to) {
		return domain.ErrInvalidTransition
	}
	if j.State != from {
		return domain.Conflictf("job %d is %s", id, j.State)
	}
	j.State = to
	r.states[id] = append(r.states[id], to)
	if to == domain.JobStateDone {
		j.Substate = domain.JobSubstateNone
	}
	return nil
}

func (r *memJobs) UpdateSubstate(_ context.Context, id int64, substate domain.JobSubstate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j := r.jobs[id]; j.State == domain.JobStateRunning {
		j.Substate = substate
	}
	return nil
}

func (r *memJobs) SetFailed(_ context.Context, id int64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	if j.State != domain.JobStateRunning {
		return domain.Conflictf("job %d is %s", id, j.State)
	}
	j.State = domain.JobStateFailed
	r.states[id] = append(r.states[id], domain.JobStateFailed)
	j.Log += message + "\n"
	return nil
}

func (r *memJobs) SetEstimated(_ context.Context, id int64, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].EstimatedItemCount = count
	return nil
}

func (r *memJobs) IncrementProcessed(_ context.Context, id int64, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].ProcessedItemCount += delta
	return nil
}

func (r *memJobs) AppendLog(_ context.Context, id int64, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	r.jobs[id].Log += line
	return nil
}

func (r *memJobs) FailRunning(_ context.Context, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, j := range r.jobs {
		if j.State == domain.JobStateRunning {
			j.State = domain.JobStateFailed
			j.Log += reason + "\n"
			n++
		}
	}
	return n, nil
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string]*domain.DigitalObject
	pages   map[string][]string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string]*domain.DigitalObject{}, pages: map[string][]string{}}
}

func (o *memObjects) Upsert(_ context.Context, obj *domain.DigitalObject) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[obj.PID] = obj
	return nil
}

func (o *memObjects) Get(_ context.Context, pid string) (*domain.DigitalObject, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	obj, ok := o.objects[pid]
	if !ok {
		return nil, domain.NotFoundf("object %s", pid)
	}
	return obj, nil
}

func (o *memObjects) PageDescendants(_ context.Context, root string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pages[root], nil
}

type submission struct {
	PID      string
	Owner    string
	Instance string
	Alto     string
	OCR      string
}

type recordingVersions struct {
	mu     sync.Mutex
	engine []submission
	remote []submission
}

func (v *recordingVersions) SubmitEngineContent(_ context.Context, pid, owner string, alto, ocr []byte) (*domain.ContentVersion, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.engine = append(v.engine, submission{PID: pid, Owner: owner, Alto: string(alto), OCR: string(ocr)})
	return &domain.ContentVersion{PID: pid, Owner: owner, State: domain.VersionStatePending}, nil
}

func (v *recordingVersions) SyncRemoteContent(_ context.Context, pid, instance string, alto []byte) (*domain.ContentVersion, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.remote = append(v.remote, submission{PID: pid, Instance: instance, Alto: string(alto)})
	return &domain.ContentVersion{PID: pid, State: domain.VersionStateActive}, nil
}

func (v *recordingVersions) enginePIDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, s := range v.engine {
		out = append(out, s.PID)
	}
	return out
}

// fakeLibrary is a remote hierarchy keyed by pid.
type fakeLibrary struct {
	objects  map[string]kramerius.ObjectMetadata
	children map[string][]string
	images   map[string][]byte
	alto     map[string][]byte
	failOn   string
}

func (l *fakeLibrary) ObjectMetadata(_ context.Context, instance, pid string) (*kramerius.ObjectMetadata, error) {
	m, ok := l.objects[pid]
	if !ok {
		return nil, &domain.UpstreamError{Op: "metadata", Instance: instance, StatusCode: 404, Err: domain.ErrNotFound}
	}
	return &m, nil
}

func (l *fakeLibrary) Children(_ context.Context, instance, pid string) ([]kramerius.ObjectMetadata, error) {
	if pid == l.failOn {
		return nil, &domain.UpstreamError{Op: "children", Instance: instance, StatusCode: 500, Err: domain.ErrUpstream}
	}
	var out []kramerius.ObjectMetadata
	for _, child := range l.children[pid] {
		out = append(out, l.objects[child])
	}
	return out, nil
}

func (l *fakeLibrary) Image(_ context.Context, instance, pid string) ([]byte, error) {
	data, ok := l.images[pid]
	if !ok {
		return nil, &domain.UpstreamError{Op: "image", Instance: instance, StatusCode: 404, Err: domain.ErrNotFound}
	}
	return data, nil
}

func (l *fakeLibrary) Alto(_ context.Context, instance, pid string) ([]byte, error) {
	data, ok := l.alto[pid]
	if !ok {
		return nil, &domain.UpstreamError{Op: "alto", Instance: instance, StatusCode: 404, Err: domain.ErrNotFound}
	}
	return data, nil
}

type fakeIndexer struct {
	mu    sync.Mutex
	built []string
	fail  map[string]error
}

func (f *fakeIndexer) Rebuild(_ context.Context, kind string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[kind]; err != nil {
		return 0, err
	}
	f.built = append(f.built, kind)
	return 3, nil
}
