package scraper

import (
	"context"
)

// Limits bounds one pagination run. The run stops once MaxPages pages
// have been fetched or MaxPages*PerPageCeiling records have accumulated.
type Limits struct {
	MaxPages       int
	PerPageCeiling int
}

// Page is one fetched page of raw items plus the absolute URL of the next
// page, empty when there is none.
type Page[C any] struct {
	URL   string
	Items []C
	Next  string
}

// PageFunc fetches one page.
type PageFunc[C any] func(ctx context.Context, url string) (Page[C], error)

// Paginate follows next links from start, normalizing each page's items
// into the accumulated result. normalize is expected to drop records it
// has already seen. A missing next link, a next link pointing at an
// already visited page, or an exhausted budget all end the run without
// error. A failed fetch discards everything and returns the error.
func Paginate[C, T any](ctx context.Context, start string, limits Limits, fetch PageFunc[C], normalize func(Page[C]) []T) ([]T, error) {
	ceiling := limits.MaxPages * limits.PerPageCeiling
	visited := make(map[string]struct{})

	var acc []T
	current := start
	pages := 0
	for current != "" && pages < limits.MaxPages {
		if ceiling > 0 && len(acc) >= ceiling {
			break
		}
		if _, ok := visited[current]; ok {
			break
		}
		visited[current] = struct{}{}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := fetch(ctx, current)
		if err != nil {
			return nil, err
		}
		acc = append(acc, normalize(page)...)
		current = page.Next
		pages++
	}
	return acc, nil
}
