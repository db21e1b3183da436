package etims

import (
	"context"
	"fmt"
	"testing"
)

func pageOf(ids ...string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		out = append(out, map[string]interface{}{"id": id})
	}
	return out
}

func responseWithResults(count int, results []map[string]interface{}) *Response {
	raw := make([]interface{}, 0, len(results))
	for _, r := range results {
		raw = append(raw, map[string]interface{}(r))
	}
	return &Response{
		StatusCode: 200,
		Data: map[string]interface{}{
			"count":   float64(count),
			"results": raw,
		},
	}
}

func TestPaginator_StopsAtReportedCount(t *testing.T) {
	pages := map[int][]map[string]interface{}{
		1: pageOf("a", "b"),
		2: pageOf("c"),
	}

	var fetched []int
	var handled []string
	p := &Paginator{
		Fetch: func(ctx context.Context, page int) (*Response, error) {
			fetched = append(fetched, page)
			return responseWithResults(3, pages[page]), nil
		},
		Handle: func(ctx context.Context, results []map[string]interface{}) error {
			for _, r := range results {
				handled = append(handled, r["id"].(string))
			}
			return nil
		},
	}

	n, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("handled %d records, want 3", n)
	}
	if len(fetched) != 2 {
		t.Fatalf("fetched pages %v, want [1 2]", fetched)
	}
	if fmt.Sprint(handled) != "[a b c]" {
		t.Fatalf("handled = %v", handled)
	}
}

func TestPaginator_StopsOnEmptyPage(t *testing.T) {
	p := &Paginator{
		Fetch: func(ctx context.Context, page int) (*Response, error) {
			if page == 1 {
				return responseWithResults(0, pageOf("a")), nil
			}
			return responseWithResults(0, nil), nil
		},
		Handle: func(ctx context.Context, results []map[string]interface{}) error {
			return nil
		},
	}

	n, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("handled %d records, want 1", n)
	}
}

// A gateway that keeps returning full pages must not spin forever.
func TestPaginator_PageCap(t *testing.T) {
	var fetches int
	p := &Paginator{
		Fetch: func(ctx context.Context, page int) (*Response, error) {
			fetches++
			return responseWithResults(0, pageOf("x")), nil
		},
		Handle: func(ctx context.Context, results []map[string]interface{}) error {
			return nil
		},
		MaxPages: 5,
	}

	_, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error after hitting page cap")
	}
	if fetches != 5 {
		t.Fatalf("fetched %d pages, want 5", fetches)
	}
}

func TestPaginator_HandlerErrorAborts(t *testing.T) {
	var fetches int
	p := &Paginator{
		Fetch: func(ctx context.Context, page int) (*Response, error) {
			fetches++
			return responseWithResults(100, pageOf("x")), nil
		},
		Handle: func(ctx context.Context, results []map[string]interface{}) error {
			return fmt.Errorf("upsert failed")
		},
	}

	_, err := p.Run(context.Background())
	if err == nil || err.Error() != "upsert failed" {
		t.Fatalf("err = %v", err)
	}
	if fetches != 1 {
		t.Fatalf("fetched %d pages after handler failure, want 1", fetches)
	}
}

func TestFetchAll(t *testing.T) {
	all, err := FetchAll(context.Background(), func(ctx context.Context, page int) (*Response, error) {
		if page == 1 {
			return responseWithResults(2, pageOf("a", "b")), nil
		}
		return responseWithResults(2, nil), nil
	}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d results, want 2", len(all))
	}
}
