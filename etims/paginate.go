package etims

import (
	"context"
	"fmt"
)

// defaultMaxPages bounds any paginated pull so a gateway that keeps
// reporting more records cannot spin a worker forever.
const defaultMaxPages = 100

// PageFetcher returns one page of a paginated search. Implementations wrap
// Executor.Execute with the route key and fixed filter params.
type PageFetcher func(ctx context.Context, page int) (*Response, error)

// PageHandler consumes the results of one page. Returning an error aborts
// the walk.
type PageHandler func(ctx context.Context, results []map[string]interface{}) error

// Paginator walks a paginated search response to completion.
type Paginator struct {
	Fetch    PageFetcher
	Handle   PageHandler
	MaxPages int
}

// Run fetches pages starting at 1 until the accumulated results reach the
// reported count, a page comes back empty, or the page cap is hit. It
// returns the number of records handled.
func (p *Paginator) Run(ctx context.Context) (int, error) {
	maxPages := p.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	handled := 0
	for page := 1; page <= maxPages; page++ {
		resp, err := p.Fetch(ctx, page)
		if err != nil {
			return handled, err
		}

		results := resp.Results()
		if len(results) == 0 {
			return handled, nil
		}

		if err := p.Handle(ctx, results); err != nil {
			return handled, err
		}
		handled += len(results)

		if count := resp.Count(); count > 0 && handled >= count {
			return handled, nil
		}
	}
	return handled, fmt.Errorf("pagination aborted after %d pages", maxPages)
}

// FetchAll is a convenience for pulls small enough to buffer: it walks all
// pages and returns the concatenated results.
func FetchAll(ctx context.Context, fetch PageFetcher, maxPages int) ([]map[string]interface{}, error) {
	var all []map[string]interface{}
	p := &Paginator{
		Fetch: fetch,
		Handle: func(ctx context.Context, results []map[string]interface{}) error {
			all = append(all, results...)
			return nil
		},
		MaxPages: maxPages,
	}
	if _, err := p.Run(ctx); err != nil {
		return nil, err
	}
	return all, nil
}
