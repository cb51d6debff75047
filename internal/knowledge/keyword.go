package knowledge

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

// chunkDoc is the shape indexed into bleve for keyword fallback search.
type chunkDoc struct {
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
}

// KeywordIndex holds one in-memory bleve index per tenant. It serves
// deployments without an embedding provider and explicit keyword-mode
// queries; namespaces stay isolated by construction since each tenant owns
// a separate index.
type KeywordIndex struct {
	mu      sync.RWMutex
	indexes map[string]bleve.Index
	chunks  map[string]map[string]chunkDoc
}

// NewKeywordIndex builds an empty keyword index.
func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{
		indexes: make(map[string]bleve.Index),
		chunks:  make(map[string]map[string]chunkDoc),
	}
}

func (k *KeywordIndex) indexFor(tenantID string) (bleve.Index, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if idx, ok := k.indexes[tenantID]; ok {
		return idx, nil
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	k.indexes[tenantID] = idx
	k.chunks[tenantID] = make(map[string]chunkDoc)
	return idx, nil
}

// IndexChunks adds or replaces a document's chunks in its tenant's index.
func (k *KeywordIndex) IndexChunks(tenantID string, records []store.ChunkRecord) error {
	idx, err := k.indexFor(tenantID)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, rec := range records {
		if rec.TenantID != tenantID {
			return fmt.Errorf("chunk tenant %q does not belong to index tenant %q", rec.TenantID, tenantID)
		}
		doc := chunkDoc{TenantID: rec.TenantID, DocumentID: rec.DocumentID, Ordinal: rec.Ordinal, Text: rec.Text}
		id := fmt.Sprintf("%s:%d", rec.DocumentID, rec.Ordinal)
		if err := idx.Index(id, doc); err != nil {
			return err
		}
		k.chunks[tenantID][id] = doc
	}
	return nil
}

// Search runs a keyword query against one tenant's index.
func (k *KeywordIndex) Search(tenantID, text string, topK int) ([]Result, error) {
	k.mu.RLock()
	idx, ok := k.indexes[tenantID]
	docs := k.chunks[tenantID]
	k.mu.RUnlock()
	if !ok {
		return []Result{}, nil
	}

	query := bleve.NewMatchQuery(text)
	searchReq := bleve.NewSearchRequestOptions(query, topK, 0, false)
	res, err := idx.Search(searchReq)
	if err != nil {
		return nil, err
	}

	var maxScore float64
	for _, hit := range res.Hits {
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}
	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, ok := docs[hit.ID]
		if !ok {
			continue
		}
		score := 0.0
		if maxScore > 0 {
			score = hit.Score / maxScore
		}
		out = append(out, Result{
			Text:    doc.Text,
			Source:  doc.DocumentID,
			Score:   score,
			Ordinal: doc.Ordinal,
		})
	}
	return out, nil
}
