// Package search finds cards across a project partition. Meilisearch is
// used when reachable; otherwise cards are matched in memory.
package search

import (
	"regexp"

	"cadence/api/internal/item"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"projectId"`
	Instance  item.Instance `json:"instance"`
	Title     string        `json:"title"`
	Snippet   string        `json:"snippet"`
	Location  item.Location `json:"location"`
}

// Query describes a search request.
type Query struct {
	ProjectID string
	Instance  item.Instance
	Text      string
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ItemRecord is the data we index for a card.
type ItemRecord struct {
	DocID     string `json:"docId"`
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Instance  string `json:"instance"`
	Title     string `json:"title"`
	Caption   string `json:"caption"`
	Label     string `json:"label"`
	Comments  string `json:"comments"`
	Location  string `json:"location"`
}

var invalidDocIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// DocID is the index primary key of a card. Meilisearch only accepts
// alphanumerics, hyphens and underscores.
func DocID(projectID string, instance item.Instance, itemID string) string {
	return invalidDocIDChars.ReplaceAllString(projectID+"_"+string(instance)+"_"+itemID, "-")
}

// RecordFor flattens a card into its index record.
func RecordFor(projectID string, instance item.Instance, it item.Item) ItemRecord {
	var comments string
	for i, c := range it.Comments {
		if i > 0 {
			comments += "\n"
		}
		comments += c.Text
	}
	return ItemRecord{
		DocID:     DocID(projectID, instance, it.ID),
		ID:        it.ID,
		ProjectID: projectID,
		Instance:  string(instance),
		Title:     it.Title,
		Caption:   it.Caption,
		Label:     it.Label,
		Comments:  comments,
		Location:  string(it.Location),
	}
}
