package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

// DefaultBulkSize is the number of documents per bulk request.
const DefaultBulkSize = 500

// Indexer rebuilds search indices. Readers query the alias <prefix>_<kind>,
// which is moved to a freshly built index in one request, so they never see
// a partially loaded index.
type Indexer struct {
	client   *es.Client
	prefix   string
	objects  ObjectSource
	versions VersionSource
	bulkSize int
	log      logger.Logger
	now      func() time.Time
}

// NewIndexer creates an indexer reading from the given sources.
func NewIndexer(client *es.Client, prefix string, objects ObjectSource, versions VersionSource, log logger.Logger) *Indexer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Indexer{
		client:   client,
		prefix:   prefix,
		objects:  objects,
		versions: versions,
		bulkSize: DefaultBulkSize,
		log:      log,
		now:      time.Now,
	}
}

// Alias returns the read alias of kind.
func (i *Indexer) Alias(kind string) string {
	return i.prefix + "_" + kind
}

// Rebuild creates a new index for kind, loads every document into it, points
// the alias at it and deletes the indices the alias pointed to before. On
// failure the new index is removed and the alias is left untouched.
func (i *Indexer) Rebuild(ctx context.Context, kind string) (int, error) {
	mapping, ok := mappings[kind]
	if !ok {
		return 0, domain.Validationf("unknown index kind %q", kind)
	}

	alias := i.Alias(kind)
	index := alias + "_" + i.now().UTC().Format("20060102t150405.000000000")
	index = strings.ReplaceAll(index, ".", "")
	log := i.log.With(logger.String("index", index), logger.String("alias", alias))

	if err := i.createIndex(ctx, index, mapping); err != nil {
		return 0, err
	}

	count, err := i.load(ctx, kind, index)
	if err == nil {
		err = i.refresh(ctx, index)
	}
	var previous []string
	if err == nil {
		previous, err = i.aliasTargets(ctx, alias)
	}
	if err == nil {
		err = i.swapAlias(ctx, alias, index, previous)
	}
	if err != nil {
		if delErr := i.deleteIndices(context.WithoutCancel(ctx), []string{index}); delErr != nil {
			log.Warn("Failed to remove partial index", logger.Error(delErr))
		}
		return count, fmt.Errorf("rebuild %s: %w", kind, err)
	}

	if len(previous) > 0 {
		if delErr := i.deleteIndices(ctx, previous); delErr != nil {
			log.Warn("Failed to delete previous indices", logger.Strings("previous", previous), logger.Error(delErr))
		}
	}

	log.Info("Search index rebuilt", logger.Int("documents", count))
	return count, nil
}

func (i *Indexer) load(ctx context.Context, kind, index string) (int, error) {
	batch := make([]document, 0, i.bulkSize)
	total := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := i.bulk(ctx, index, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}
	add := func(d document) error {
		batch = append(batch, d)
		if len(batch) >= i.bulkSize {
			return flush()
		}
		return nil
	}

	var err error
	switch kind {
	case KindDigitalObject:
		err = i.objects.EachObject(ctx, func(o *domain.DigitalObject) error { return add(objectDoc(o)) })
	case KindAltoVersion:
		err = i.versions.EachVersion(ctx, func(v *domain.ContentVersion) error { return add(versionDoc(v)) })
	}
	if err != nil {
		return total, err
	}
	return total, flush()
}

func (i *Indexer) createIndex(ctx context.Context, index string, mapping map[string]any) error {
	body, err := json.Marshal(map[string]any{"mappings": mapping})
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	res, err := i.client.Indices.Create(index,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	return closeResponse("create index "+index, res, err)
}

func (i *Indexer) bulk(ctx context.Context, index string, docs []document) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		meta := map[string]any{"index": map[string]any{"_index": index, "_id": d.id}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("encode bulk metadata: %w", err)
		}
		if err := enc.Encode(d.body); err != nil {
			return fmt.Errorf("encode document %s: %w", d.id, err)
		}
	}

	res, err := i.client.Bulk(&buf, i.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk index: [%s] %s", res.Status(), body)
	}

	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID    string `json:"_id"`
			Error *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err = json.NewDecoder(res.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !result.Errors {
		return nil
	}
	for _, item := range result.Items {
		for _, op := range item {
			if op.Error != nil {
				return fmt.Errorf("bulk index document %s: %s: %s", op.ID, op.Error.Type, op.Error.Reason)
			}
		}
	}
	return errors.New("bulk index reported errors")
}

func (i *Indexer) refresh(ctx context.Context, index string) error {
	res, err := i.client.Indices.Refresh(
		i.client.Indices.Refresh.WithContext(ctx),
		i.client.Indices.Refresh.WithIndex(index),
	)
	return closeResponse("refresh "+index, res, err)
}

// aliasTargets returns the indices alias currently points to.
func (i *Indexer) aliasTargets(ctx context.Context, alias string) ([]string, error) {
	res, err := i.client.Indices.GetAlias(
		i.client.Indices.GetAlias.WithContext(ctx),
		i.client.Indices.GetAlias.WithName(alias),
	)
	if err != nil {
		return nil, fmt.Errorf("get alias %s: %w", alias, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("get alias %s: [%s] %s", alias, res.Status(), body)
	}

	var indices map[string]json.RawMessage
	if err = json.NewDecoder(res.Body).Decode(&indices); err != nil {
		return nil, fmt.Errorf("decode alias %s: %w", alias, err)
	}
	out := make([]string, 0, len(indices))
	for index := range indices {
		out = append(out, index)
	}
	return out, nil
}

func (i *Indexer) swapAlias(ctx context.Context, alias, index string, previous []string) error {
	actions := make([]map[string]any, 0, len(previous)+1)
	for _, old := range previous {
		actions = append(actions, map[string]any{"remove": map[string]any{"index": old, "alias": alias}})
	}
	actions = append(actions, map[string]any{"add": map[string]any{"index": index, "alias": alias}})

	body, err := json.Marshal(map[string]any{"actions": actions})
	if err != nil {
		return fmt.Errorf("marshal alias actions: %w", err)
	}
	res, err := i.client.Indices.UpdateAliases(bytes.NewReader(body),
		i.client.Indices.UpdateAliases.WithContext(ctx),
	)
	return closeResponse("swap alias "+alias, res, err)
}

func (i *Indexer) deleteIndices(ctx context.Context, indices []string) error {
	res, err := i.client.Indices.Delete(indices, i.client.Indices.Delete.WithContext(ctx))
	return closeResponse("delete "+strings.Join(indices, ","), res, err)
}

// closeResponse turns a transport error or an error status into an error
// and closes the response body.
func closeResponse(op string, res *esapi.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s: [%s] %s", op, res.Status(), body)
	}
	return nil
}
