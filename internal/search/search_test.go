package search

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"cadence/api/internal/item"
)

func sampleItems() []item.Item {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return []item.Item{
		{ID: "a", Title: "Spring launch teaser", Caption: "Coming soon", Location: item.Pool, UploadedAt: now},
		{ID: "b", Title: "Team photo", Caption: "Our spring offsite", Location: item.SlotKey(2024, 2, 14), UploadedAt: now},
		{ID: "c", Title: "Recipe", Caption: "Pasta", Label: "food", Location: item.Pool, UploadedAt: now,
			Comments: []item.Comment{{ID: "c1", Text: "Swap for the spring menu?"}}},
		{ID: "d", Title: "Unrelated", Caption: "nothing here", Location: item.Pool, UploadedAt: now},
	}
}

func TestMatchItemsRanksTitleFirst(t *testing.T) {
	results, total := MatchItems(sampleItems(), Query{ProjectID: "p1", Instance: item.Instagram, Text: "SPRING"})
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if results[0].ID != "a" {
		t.Fatalf("first hit = %q, want title match a", results[0].ID)
	}
	if results[1].ID != "b" || !strings.Contains(results[1].Snippet, "<mark>spring</mark>") {
		t.Fatalf("second hit = %+v", results[1])
	}
	if results[2].ID != "c" || !strings.Contains(results[2].Snippet, "<mark>spring</mark>") {
		t.Fatalf("third hit = %+v", results[2])
	}
	if results[0].ProjectID != "p1" || results[0].Instance != item.Instagram {
		t.Fatalf("partition not carried: %+v", results[0])
	}
}

func TestMatchItemsPaging(t *testing.T) {
	results, total := MatchItems(sampleItems(), Query{Text: "", Limit: 2, Offset: 3})
	if total != 4 {
		t.Fatalf("total = %d, want 4", total)
	}
	if len(results) != 1 || results[0].ID != "d" {
		t.Fatalf("page = %+v", results)
	}

	results, _ = MatchItems(sampleItems(), Query{Text: "x", Offset: 10})
	if len(results) != 0 {
		t.Fatalf("offset past end returned %d results", len(results))
	}
}

func TestMatchItemsLabel(t *testing.T) {
	results, _ := MatchItems(sampleItems(), Query{Text: "food"})
	if len(results) != 1 || results[0].ID != "c" {
		t.Fatalf("results = %+v", results)
	}
}

func TestHighlightEscapesHTML(t *testing.T) {
	got, ok := highlight("<b>Spring</b> sale", "spring")
	if !ok {
		t.Fatal("expected match")
	}
	if got != "&lt;b&gt;<mark>Spring</mark>&lt;/b&gt; sale" {
		t.Fatalf("highlight = %q", got)
	}
}

func TestDocIDSanitizes(t *testing.T) {
	got := DocID("p1", item.Facebook, "img.01/x")
	if got != "p1_fbig_img-01-x" {
		t.Fatalf("DocID = %q", got)
	}
}

func TestRecordForJoinsComments(t *testing.T) {
	it := sampleItems()[2]
	it.Comments = append(it.Comments, item.Comment{ID: "c2", Text: "yes"})
	rec := RecordFor("p1", item.Instagram, it)
	if rec.Comments != "Swap for the spring menu?\nyes" {
		t.Fatalf("comments = %q", rec.Comments)
	}
	if rec.Location != "pool" || rec.Label != "food" || rec.DocID != "p1_instagram_c" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestHitToResultPrefersHighlightedFields(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":        raw("b"),
		"projectId": raw("p1"),
		"instance":  raw("instagram"),
		"location":  raw("2024-2-14"),
		"title":     raw("Team photo"),
		"caption":   raw("Our spring offsite"),
		"_formatted": raw(map[string]string{
			"title":   "Team photo",
			"caption": "Our <mark>spring</mark> offsite",
		}),
	}
	r := hitToResult(hit)
	if r.ID != "b" || r.Instance != item.Instagram || r.Location != item.SlotKey(2024, 2, 14) {
		t.Fatalf("result = %+v", r)
	}
	if r.Title != "Team photo" {
		t.Fatalf("title = %q", r.Title)
	}
	if r.Snippet != "Our <mark>spring</mark> offsite" {
		t.Fatalf("snippet = %q", r.Snippet)
	}
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	svc := NewService(nil)
	if svc.Healthy() {
		t.Fatal("service without meili reported healthy")
	}
	resp := svc.Search(Query{Text: "recipe"}, sampleItems)
	if resp.Total != 1 || resp.Results[0].ID != "c" || resp.Query != "recipe" {
		t.Fatalf("response = %+v", resp)
	}

	resp = svc.Search(Query{Text: "recipe"}, nil)
	if resp.Results == nil || resp.Total != 0 {
		t.Fatalf("nil fallback response = %+v", resp)
	}

	svc.Sync("p1", item.Instagram, sampleItems())
	svc.Close()
}

func TestPartitionFilter(t *testing.T) {
	got := partitionFilter(Query{ProjectID: "p1", Instance: item.TikTok})
	want := []string{`projectId = "p1"`, `instance = "tiktok"`}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("filters = %v", got)
	}
}
