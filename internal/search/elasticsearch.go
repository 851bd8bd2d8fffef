package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shortage/config"
	"example.com/backstage/services/shortage/internal/models"
)

// MinTermLength is the shortest search term that triggers a lookup
const MinTermLength = 3

// indexMapping keeps the lowercase search keys as exact keywords so wildcard queries match
// substrings without analysis
const indexMapping = `{
  "mappings": {
    "properties": {
      "partCode":        {"type": "keyword"},
      "Description":     {"type": "text"},
      "MaterialSummary": {"type": "text"},
      "Source":          {"type": "keyword"},
      "SupplierName":    {"type": "text"},
      "searchKeys":      {"type": "keyword"}
    }
  }
}`

// ElasticClient indexes and searches the part catalog
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// materialDoc is the indexed form of a catalog entry
type materialDoc struct {
	models.Material
	SearchKeys []string `json:"searchKeys"`
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

func (c *ElasticClient) index() string {
	return config.FormatIndex(c.config, c.config.Index)
}

// EnsureIndex creates the catalog index with its mapping when it does not exist
func (c *ElasticClient) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{c.index()}}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to check index")
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	log.Info().Str("index", c.index()).Msg("Creating index")
	res, err = esapi.IndicesCreateRequest{
		Index: c.index(),
		Body:  strings.NewReader(indexMapping),
	}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to create index")
	}
	defer res.Body.Close()
	return responseError(res, "create index")
}

// IndexMaterials bulk-indexes catalog entries keyed by part code
func (c *ElasticClient) IndexMaterials(ctx context.Context, materials []models.Material) error {
	if len(materials) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, m := range materials {
		meta := map[string]interface{}{
			"index": map[string]interface{}{"_index": c.index(), "_id": m.PartCode},
		}
		if err := enc.Encode(meta); err != nil {
			return errors.Wrap(err, "failed to encode bulk metadata")
		}
		if err := enc.Encode(newMaterialDoc(m)); err != nil {
			return errors.Wrap(err, "failed to encode material document")
		}
	}

	res, err := esapi.BulkRequest{Body: &body}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch bulk request")
	}
	defer res.Body.Close()
	if err := responseError(res, "bulk index"); err != nil {
		return err
	}

	var result struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return errors.Wrap(err, "failed to parse bulk response")
	}
	if result.Errors {
		return errors.New("Elasticsearch bulk request reported item errors")
	}

	log.Debug().Int("count", len(materials)).Msg("Materials indexed")
	return nil
}

// SearchMaterials returns catalog entries whose part code, description or summary contain term,
// ignoring case. Terms shorter than MinTermLength return nothing.
func (c *ElasticClient) SearchMaterials(ctx context.Context, term string, limit int) ([]models.Material, error) {
	term = strings.TrimSpace(term)
	if len([]rune(term)) < MinTermLength {
		return []models.Material{}, nil
	}

	query, err := json.Marshal(buildQuery(term, limit))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	res, err := esapi.SearchRequest{
		Index: []string{c.index()},
		Body:  bytes.NewReader(query),
	}.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()
	if err := responseError(res, "search"); err != nil {
		return nil, err
	}
	return parseHits(res.Body)
}

func newMaterialDoc(m models.Material) materialDoc {
	return materialDoc{
		Material: m,
		SearchKeys: []string{
			strings.ToLower(m.PartCode),
			strings.ToLower(m.Description),
			strings.ToLower(m.MaterialSummary),
		},
	}
}

func buildQuery(term string, limit int) map[string]interface{} {
	if limit <= 0 {
		limit = 20
	}
	pattern := "*" + escapeWildcard(strings.ToLower(term)) + "*"
	return map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"wildcard": map[string]interface{}{
				"searchKeys": map[string]interface{}{"value": pattern},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"partCode": "asc"},
		},
	}
}

func parseHits(body io.Reader) ([]models.Material, error) {
	var result struct {
		Hits struct {
			Hits []struct {
				Source models.Material `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	materials := make([]models.Material, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		materials = append(materials, hit.Source)
	}
	return materials, nil
}

func responseError(res *esapi.Response, op string) error {
	if !res.IsError() {
		return nil
	}
	var e map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
		return errors.Wrapf(err, "failed to parse Elasticsearch %s error response", op)
	}
	return errors.Errorf("Elasticsearch %s error: %v", op, e)
}

func escapeWildcard(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`).Replace(s)
}
