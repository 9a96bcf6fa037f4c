package audit

import (
	"context"
	"fmt"
	"time"

	"verification-service/internal/client"
	"verification-service/internal/config"
	"verification-service/internal/hashing"
	"verification-service/internal/model"
)

// document is the ES projection of an audit entry. The raw phone number is
// replaced by its digest before indexing.
type document struct {
	EntryID        string            `json:"entry_id"`
	PhoneHash      string            `json:"phone_hash"`
	Channel        string            `json:"channel"`
	Action         string            `json:"action"`
	Outcome        string            `json:"outcome"`
	IPAddress      string            `json:"ip_address"`
	UserAgent      string            `json:"user_agent"`
	VerificationID string            `json:"verification_id,omitempty"`
	FraudScore     float64           `json:"fraud_score"`
	RiskLevel      string            `json:"risk_level,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Indexer mirrors audit entries into Elasticsearch for operator search.
type Indexer struct {
	es    *client.ESClient
	index string
}

func NewIndexer(es *client.ESClient, cfg *config.Config) *Indexer {
	return &Indexer{
		es:    es,
		index: cfg.Elasticsearch.Index,
	}
}

func (i *Indexer) Index(ctx context.Context, entry *model.AuditEntry) error {
	doc := document{
		EntryID:        entry.ID,
		PhoneHash:      hashing.PhoneHash(entry.PhoneNumber),
		Channel:        string(entry.Channel),
		Action:         string(entry.Action),
		Outcome:        string(entry.Outcome),
		IPAddress:      entry.IPAddress,
		UserAgent:      entry.UserAgent,
		VerificationID: entry.VerificationID,
		FraudScore:     entry.FraudScore,
		RiskLevel:      entry.RiskLevel,
		Metadata:       entry.Metadata,
		Timestamp:      entry.Timestamp.UTC(),
	}

	res, err := i.es.IndexDocument(i.index, entry.ID, doc)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch indexing error: %s", res.Status())
	}
	return nil
}

// SearchResult is one hit returned to the audit search endpoint.
type SearchResult struct {
	EntryID        string    `json:"entry_id"`
	PhoneHash      string    `json:"phone_hash"`
	Channel        string    `json:"channel"`
	Action         string    `json:"action"`
	Outcome        string    `json:"outcome"`
	VerificationID string    `json:"verification_id,omitempty"`
	FraudScore     float64   `json:"fraud_score"`
	RiskLevel      string    `json:"risk_level,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SearchQuery narrows an audit search. Phone is hashed before it reaches the
// index, so searching by phone never ships the raw number either.
type SearchQuery struct {
	Phone          string
	Action         string
	Outcome        string
	VerificationID string
	Limit          int
}

// Search returns the most recent matching entries, newest first.
func (i *Indexer) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	must := []map[string]interface{}{}
	if q.Phone != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"phone_hash": hashing.PhoneHash(q.Phone)},
		})
	}
	if q.Action != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"action": q.Action},
		})
	}
	if q.Outcome != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"outcome": q.Outcome},
		})
	}
	if q.VerificationID != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"verification_id": q.VerificationID},
		})
	}

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	esQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": must,
			},
		},
		"sort": []map[string]interface{}{
			{"timestamp": map[string]interface{}{"order": "desc"}},
		},
		"size": limit,
	}

	res, err := i.es.Search(ctx, i.index, esQuery)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source SearchResult `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := i.es.ParseResponse(res, &parsed); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		results = append(results, hit.Source)
	}
	return results, nil
}
