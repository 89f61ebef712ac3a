// Package kramerius is the client of remote Kramerius 7 digital-library instances.
package kramerius

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

// ObjectMetadata describes one object as indexed by a Kramerius instance.
type ObjectMetadata struct {
	PID           string `json:"pid"            mapstructure:"pid"`
	Model         string `json:"model"          mapstructure:"model"`
	Title         string `json:"title"          mapstructure:"title.search"`
	Level         int    `json:"level"          mapstructure:"level"`
	IndexInParent int    `json:"index_in_parent" mapstructure:"rels_ext_index.sort"`
	ParentPID     string `json:"parent_pid"     mapstructure:"own_parent.pid"`
	RootPID       string `json:"root_pid"       mapstructure:"root.pid"`
	PagesCount    int    `json:"pages_count"    mapstructure:"count_page"`
}

// IsPage reports whether the object is a leaf page.
func (m *ObjectMetadata) IsPage() bool {
	return m.Model == domain.ModelPage
}

// ToDigitalObject converts the metadata to the locally mirrored form.
func (m *ObjectMetadata) ToDigitalObject(instance string) *domain.DigitalObject {
	return &domain.DigitalObject{
		PID:           m.PID,
		ParentPID:     m.ParentPID,
		Model:         m.Model,
		Title:         m.Title,
		Level:         m.Level,
		IndexInParent: m.IndexInParent,
		Instance:      instance,
	}
}

// UploadHandle tracks the indexation process planned after an upload.
type UploadHandle struct {
	Instance  string `json:"instance"`
	ProcessID string `json:"process_id"`
	Link      string `json:"link"`
}

// searchFields are the Solr fields requested for object metadata.
const searchFields = "pid,model,title.search,level,rels_ext_index.sort,own_parent.pid,root.pid,count_page"

type solrResponse struct {
	Response struct {
		NumFound int              `json:"numFound"`
		Docs     []map[string]any `json:"docs"`
	} `json:"response"`
}

func decodeDocs(docs []map[string]any) ([]ObjectMetadata, error) {
	out := make([]ObjectMetadata, 0, len(docs))
	for _, doc := range docs {
		var m ObjectMetadata
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &m,
		})
		if err != nil {
			return nil, fmt.Errorf("create decoder: %w", err)
		}
		if err = decoder.Decode(doc); err != nil {
			return nil, fmt.Errorf("decode solr doc: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

type akubraOpResponse struct {
	DSID string `json:"dsId"`
}

type reindexProcess struct {
	DefID  string        `json:"defid"`
	Params reindexParams `json:"params"`
}

type reindexParams struct {
	Type string `json:"type"`
	PID  string `json:"pid"`
}

type planProcessResponse struct {
	ID    string `json:"id"`
	UUID  string `json:"uuid"`
	State string `json:"state"`
}

type processBatch struct {
	Process struct {
		ID   string `json:"id"`
		UUID string `json:"uuid"`
	} `json:"process"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}
