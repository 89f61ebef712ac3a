package search

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

type fakeCluster struct {
	mu         sync.Mutex
	requests   []string
	bulkLines  int
	aliasOwner string
	bulkBody   string
	failBulk   bool
}

func (c *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, r.Method+" "+r.URL.Path)
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/_bulk":
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			c.bulkLines++
		}
		if c.failBulk {
			_, _ = w.Write([]byte(`{"errors":true,"items":[{"index":{"_id":"x","error":{"type":"mapper_parsing_exception","reason":"bad"}}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	case strings.HasPrefix(r.URL.Path, "/_alias/"):
		if c.aliasOwner == "" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"alias missing","status":404}`))
			return
		}
		alias := strings.TrimPrefix(r.URL.Path, "/_alias/")
		_, _ = w.Write([]byte(`{"` + c.aliasOwner + `":{"aliases":{"` + alias + `":{}}}}`))
	default:
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	}
}

func (c *fakeCluster) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.requests...)
}

type sources struct {
	objects  []*domain.DigitalObject
	versions []*domain.ContentVersion
}

func (s sources) EachObject(_ context.Context, fn func(*domain.DigitalObject) error) error {
	for _, o := range s.objects {
		if err := fn(o); err != nil {
			return err
		}
	}
	return nil
}

func (s sources) EachVersion(_ context.Context, fn func(*domain.ContentVersion) error) error {
	for _, v := range s.versions {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func newTestIndexer(t *testing.T, cluster *fakeCluster, src sources) *Indexer {
	t.Helper()
	server := httptest.NewServer(cluster)
	t.Cleanup(server.Close)

	client, err := es.NewClient(es.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)

	idx := NewIndexer(client, "alto_editor", src, src, logger.NewNop())
	idx.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return idx
}

const newIndex = "alto_editor_digital_object_20260102t030405000000000"

func TestRebuild_FirstBuild(t *testing.T) {
	cluster := &fakeCluster{}
	idx := newTestIndexer(t, cluster, sources{objects: []*domain.DigitalObject{
		{PID: "uuid:root", Model: "monograph"},
		{PID: "uuid:p1", ParentPID: "uuid:root", Model: "page"},
		{PID: "uuid:p2", ParentPID: "uuid:root", Model: "page"},
	}})
	idx.bulkSize = 2

	count, err := idx.Rebuild(context.Background(), KindDigitalObject)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 6, cluster.bulkLines)

	calls := cluster.calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "PUT /"+newIndex, calls[0])
	assert.Contains(t, calls, "POST /_aliases")
	for _, c := range calls {
		assert.False(t, strings.HasPrefix(c, "DELETE"), "unexpected delete %s", c)
	}
}

func TestRebuild_SwapsAndDeletesPrevious(t *testing.T) {
	cluster := &fakeCluster{aliasOwner: "alto_editor_alto_version_old"}
	idx := newTestIndexer(t, cluster, sources{versions: []*domain.ContentVersion{
		{ID: 1, PID: "uuid:p1", State: domain.VersionStateActive},
	}})

	count, err := idx.Rebuild(context.Background(), KindAltoVersion)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	calls := cluster.calls()
	assert.Equal(t, "DELETE /alto_editor_alto_version_old", calls[len(calls)-1])
}

func TestRebuild_BulkFailureRemovesNewIndex(t *testing.T) {
	cluster := &fakeCluster{aliasOwner: "alto_editor_digital_object_old", failBulk: true}
	idx := newTestIndexer(t, cluster, sources{objects: []*domain.DigitalObject{{PID: "uuid:p1"}}})

	_, err := idx.Rebuild(context.Background(), KindDigitalObject)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")

	calls := cluster.calls()
	assert.NotContains(t, calls, "POST /_aliases")
	last := calls[len(calls)-1]
	assert.True(t, strings.HasPrefix(last, "DELETE /alto_editor_digital_object_2026"), last)
}

func TestRebuild_UnknownKind(t *testing.T) {
	idx := newTestIndexer(t, &fakeCluster{}, sources{})
	_, err := idx.Rebuild(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9200", normalizeURL(""))
	assert.Equal(t, "http://es:9200", normalizeURL("es:9200"))
	assert.Equal(t, "https://es:9200", normalizeURL("https://es:9200"))
}
