package kramerius

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

const (
	maxErrorBody = 4096
	// maxChildren bounds one children query; Kramerius objects rarely exceed it.
	maxChildren = 10000

	reindexProcessDef = "new_indexer_index_object"
)

// Client talks to one Kramerius instance. Requests carry the service token;
// a 401 or 403 response invalidates the token and the request is repeated
// exactly once. No other retries are made.
type Client struct {
	instance   string
	baseURL    string
	adminURL   string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
	log        logger.Logger
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit limits requests per second; zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithAdminURL sets the admin UI base used for process links.
func WithAdminURL(adminURL string) Option {
	return func(c *Client) {
		c.adminURL = strings.TrimRight(adminURL, "/")
	}
}

// WithLogger sets the client logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a client of the instance reachable at baseURL.
func NewClient(instance, baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		instance:   instance,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		tokens:     tokens,
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Instance returns the configured instance id.
func (c *Client) Instance() string {
	return c.instance
}

func (c *Client) upstream(op string, status int, err error) error {
	return &domain.UpstreamError{Op: op, Instance: c.instance, StatusCode: status, Err: err}
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

// do executes r and returns the response body of a 2xx reply. A 404 yields an
// error matching both domain.ErrUpstream and domain.ErrNotFound.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	status, body, err := c.send(ctx, r)
	if err == nil && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
		c.log.Debug("Kramerius rejected token, refreshing",
			logger.String("instance", c.instance),
			logger.Int("status", status))
		c.tokens.Invalidate()
		status, body, err = c.send(ctx, r)
	}
	if err != nil {
		return nil, c.upstream(r.op, 0, err)
	}

	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return body, nil
	case status == http.StatusNotFound:
		return nil, c.upstream(r.op, status, domain.ErrNotFound)
	default:
		return nil, c.upstream(r.op, status, fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))))
	}
}

func (c *Client) send(ctx context.Context, r request) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("acquire token: %w", err)
	}

	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader = http.NoBody
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		reader = io.LimitReader(resp.Body, maxErrorBody)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) search(ctx context.Context, op string, query url.Values) ([]ObjectMetadata, error) {
	body, err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/search/api/client/v7.0/search", query: query})
	if err != nil {
		return nil, err
	}

	var resp solrResponse
	if err = json.Unmarshal(body, &resp); err != nil {
		return nil, c.upstream(op, 0, fmt.Errorf("decode search response: %w", err))
	}
	docs, err := decodeDocs(resp.Response.Docs)
	if err != nil {
		return nil, c.upstream(op, 0, err)
	}
	return docs, nil
}

// ObjectMetadata returns the indexed metadata of one object.
func (c *Client) ObjectMetadata(ctx context.Context, pid string) (*ObjectMetadata, error) {
	docs, err := c.search(ctx, "object metadata", url.Values{
		"q":  {`pid:"` + pid + `"`},
		"fl": {searchFields},
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, c.upstream("object metadata", http.StatusNotFound,
			fmt.Errorf("object %s: %w", pid, domain.ErrNotFound))
	}
	return &docs[0], nil
}

// Children returns the direct children of pid ordered by their position.
func (c *Client) Children(ctx context.Context, pid string) ([]ObjectMetadata, error) {
	return c.search(ctx, "children", url.Values{
		"q":    {`own_parent.pid:"` + pid + `"`},
		"fl":   {searchFields},
		"sort": {"rels_ext_index.sort asc"},
		"rows": {strconv.Itoa(maxChildren)},
	})
}

// Image downloads the full page image.
func (c *Client) Image(ctx context.Context, pid string) ([]byte, error) {
	return c.do(ctx, request{op: "image", method: http.MethodGet, path: "/search/api/v7.0/item/" + url.PathEscape(pid) + "/image"})
}

// Alto downloads the ALTO datastream; a missing datastream matches domain.ErrNotFound.
func (c *Client) Alto(ctx context.Context, pid string) ([]byte, error) {
	return c.do(ctx, request{op: "alto", method: http.MethodGet, path: "/search/api/v7.0/item/" + url.PathEscape(pid) + "/ocr/alto"})
}

// UploadAltoOcr replaces the ALTO and TEXT_OCR datastreams of pid and plans
// its reindexation.
func (c *Client) UploadAltoOcr(ctx context.Context, pid string, alto, ocr []byte) (*UploadHandle, error) {
	if err := c.replaceDatastream(ctx, pid, domain.DatastreamALTO, alto); err != nil {
		return nil, err
	}
	if err := c.replaceDatastream(ctx, pid, domain.DatastreamTextOCR, ocr); err != nil {
		return nil, err
	}
	return c.planReindex(ctx, pid)
}

func (c *Client) replaceDatastream(ctx context.Context, pid string, ds domain.Datastream, content []byte) error {
	query := url.Values{"dsId": {string(ds)}, "pid": {pid}}

	// the datastream may not exist yet
	_, err := c.do(ctx, request{
		op:     "delete datastream",
		method: http.MethodDelete,
		path:   "/search/api/admin/v7.0/repository/deleteDatastream",
		query:  query,
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	body, err := c.do(ctx, request{
		op:          "upload datastream",
		method:      http.MethodPost,
		path:        "/search/api/admin/v7.0/repository/uploadDatastream",
		query:       query,
		body:        content,
		contentType: "application/octet-stream",
	})
	if err != nil {
		return err
	}

	var resp akubraOpResponse
	if err = json.Unmarshal(body, &resp); err != nil || resp.DSID != string(ds) {
		return c.upstream("upload datastream", 0, fmt.Errorf("datastream %s of %s was not confirmed", ds, pid))
	}
	return nil
}

func (c *Client) planReindex(ctx context.Context, pid string) (*UploadHandle, error) {
	payload, err := json.Marshal(reindexProcess{
		DefID:  reindexProcessDef,
		Params: reindexParams{Type: "OBJECT", PID: pid},
	})
	if err != nil {
		return nil, fmt.Errorf("encode process: %w", err)
	}

	body, err := c.do(ctx, request{
		op:          "plan reindex",
		method:      http.MethodPost,
		path:        "/search/api/admin/v7.0/processes",
		body:        payload,
		contentType: "application/json",
	})
	if err != nil {
		return nil, err
	}

	var planned planProcessResponse
	if err = json.Unmarshal(body, &planned); err != nil || planned.UUID == "" {
		return nil, c.upstream("plan reindex", 0, errors.New("process uuid missing in response"))
	}

	link, err := c.processLink(ctx, planned.UUID)
	if err != nil {
		return nil, err
	}
	return &UploadHandle{Instance: c.instance, ProcessID: planned.UUID, Link: link}, nil
}

func (c *Client) processLink(ctx context.Context, processUUID string) (string, error) {
	body, err := c.do(ctx, request{
		op:     "process detail",
		method: http.MethodGet,
		path:   "/search/api/admin/v7.0/processes/by_process_uuid/" + url.PathEscape(processUUID),
	})
	if err != nil {
		return "", err
	}

	var batch processBatch
	if err = json.Unmarshal(body, &batch); err != nil || batch.Process.ID == "" {
		return "", c.upstream("process detail", 0, errors.New("process id missing in response"))
	}

	if c.adminURL != "" {
		return c.adminURL + "/processes/standard-output/" + batch.Process.ID, nil
	}
	return c.baseURL + "/search/api/admin/v7.0/processes/by_process_id/" + batch.Process.ID, nil
}
