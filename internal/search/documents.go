package search

import (
	"context"
	"strconv"
	"time"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

// Entity kinds that have a search index.
const (
	KindDigitalObject = "digital_object"
	KindAltoVersion   = "alto_version"
)

// Kinds lists every indexed entity kind in rebuild order.
var Kinds = []string{KindDigitalObject, KindAltoVersion}

// ObjectSource streams every digital object.
type ObjectSource interface {
	EachObject(ctx context.Context, fn func(*domain.DigitalObject) error) error
}

// VersionSource streams every content version.
type VersionSource interface {
	EachVersion(ctx context.Context, fn func(*domain.ContentVersion) error) error
}

type document struct {
	id   string
	body any
}

type objectDocument struct {
	PID           string `json:"pid"`
	ParentPID     string `json:"parent_pid,omitempty"`
	Model         string `json:"model"`
	Title         string `json:"title"`
	Level         int    `json:"level"`
	IndexInParent int    `json:"index_in_parent"`
	Instance      string `json:"instance"`
}

type versionDocument struct {
	PID       string    `json:"pid"`
	Version   int       `json:"version"`
	Owner     string    `json:"owner"`
	State     string    `json:"state"`
	Instances []string  `json:"instances"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func objectDoc(o *domain.DigitalObject) document {
	return document{
		id: o.PID,
		body: objectDocument{
			PID:           o.PID,
			ParentPID:     o.ParentPID,
			Model:         o.Model,
			Title:         o.Title,
			Level:         o.Level,
			IndexInParent: o.IndexInParent,
			Instance:      o.Instance,
		},
	}
}

func versionDoc(v *domain.ContentVersion) document {
	instances := []string(v.Instances)
	if instances == nil {
		instances = []string{}
	}
	return document{
		id: strconv.FormatInt(v.ID, 10),
		body: versionDocument{
			PID:       v.PID,
			Version:   v.Version,
			Owner:     v.Owner,
			State:     string(v.State),
			Instances: instances,
			Hash:      v.Hash,
			CreatedAt: v.CreatedAt,
			UpdatedAt: v.UpdatedAt,
		},
	}
}

var mappings = map[string]map[string]any{
	KindDigitalObject: {
		"properties": map[string]any{
			"pid":             map[string]any{"type": "keyword"},
			"parent_pid":      map[string]any{"type": "keyword"},
			"model":           map[string]any{"type": "keyword"},
			"title":           map[string]any{"type": "text", "fields": map[string]any{"raw": map[string]any{"type": "keyword"}}},
			"level":           map[string]any{"type": "integer"},
			"index_in_parent": map[string]any{"type": "integer"},
			"instance":        map[string]any{"type": "keyword"},
		},
	},
	KindAltoVersion: {
		"properties": map[string]any{
			"pid":        map[string]any{"type": "keyword"},
			"version":    map[string]any{"type": "integer"},
			"owner":      map[string]any{"type": "keyword"},
			"state":      map[string]any{"type": "keyword"},
			"instances":  map[string]any{"type": "keyword"},
			"hash":       map[string]any{"type": "keyword"},
			"created_at": map[string]any{"type": "date"},
			"updated_at": map[string]any{"type": "date"},
		},
	},
}
