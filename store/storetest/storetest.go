// Package storetest holds behaviour tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/shopspring/decimal"
)

// Run exercises s through the store.Store contract. newStore must return an
// empty store for every call.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"NavigationInsertThenUpdate", testNavigationInsertThenUpdate},
		{"NotFound", testNotFound},
		{"DuplicateSlugRejected", testDuplicateSlugRejected},
		{"CategoryFilter", testCategoryFilter},
		{"ProductLookups", testProductLookups},
		{"ProductFilters", testProductFilters},
		{"ProductPaging", testProductPaging},
		{"DetailUpsert", testDetailUpsert},
		{"ReviewsReplace", testReviewsReplace},
		{"JobsNewestFirst", testJobsNewestFirst},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func mustSaveProduct(t *testing.T, s store.Store, p models.Product) models.Product {
	t.Helper()
	if p.Currency == "" {
		p.Currency = "GBP"
	}
	if p.SourceURL == "" {
		p.SourceURL = "https://shop.example.test/products/" + p.SourceID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = epoch
	}
	p.UpdatedAt = p.CreatedAt
	p.LastScrapedAt = p.CreatedAt
	if err := s.SaveProduct(context.Background(), &p); err != nil {
		t.Fatalf("SaveProduct(%s): %v", p.SourceID, err)
	}
	return p
}

func testNavigationInsertThenUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	n := &models.Navigation{
		Title: "Fiction", Slug: "fiction", URL: "https://shop.example.test/collections/fiction",
		LastScrapedAt: epoch, CreatedAt: epoch, UpdatedAt: epoch,
	}
	if err := s.SaveNavigation(ctx, n); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n.ID == "" {
		t.Fatal("insert should assign an id")
	}
	id := n.ID

	n.Title = "Fiction Books"
	n.LastScrapedAt = epoch.Add(time.Hour)
	if err := s.SaveNavigation(ctx, n); err != nil {
		t.Fatalf("update: %v", err)
	}
	if n.ID != id {
		t.Fatalf("update changed id %s -> %s", id, n.ID)
	}

	got, err := s.NavigationBySlug(ctx, "fiction")
	if err != nil {
		t.Fatalf("NavigationBySlug: %v", err)
	}
	if got.Title != "Fiction Books" || !got.LastScrapedAt.Equal(epoch.Add(time.Hour)) {
		t.Fatalf("update not persisted: %+v", got)
	}
	all, err := s.ListNavigation(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListNavigation = %d items, err %v", len(all), err)
	}
	if byID, err := s.NavigationByID(ctx, id); err != nil || byID.Slug != "fiction" {
		t.Fatalf("NavigationByID = %+v, %v", byID, err)
	}
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	checks := map[string]error{}
	_, checks["navigation slug"] = s.NavigationBySlug(ctx, "missing")
	_, checks["category id"] = s.CategoryByID(ctx, "missing")
	_, checks["product source id"] = s.ProductBySourceID(ctx, "missing")
	_, checks["product url"] = s.ProductBySourceURL(ctx, "https://missing.test/")
	_, checks["product id"] = s.ProductByID(ctx, "missing")
	_, checks["detail"] = s.DetailByProductID(ctx, "missing")

	for name, err := range checks {
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("%s: err = %v, want ErrNotFound", name, err)
		}
		var nf *store.NotFoundError
		if !errors.As(err, &nf) || nf.Entity == "" {
			t.Errorf("%s: expected *NotFoundError with entity, got %v", name, err)
		}
	}
}

func testDuplicateSlugRejected(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := &models.Category{Title: "Crime", Slug: "crime", URL: "u1", CreatedAt: epoch, UpdatedAt: epoch, LastScrapedAt: epoch}
	if err := s.SaveCategory(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	second := &models.Category{Title: "Crime!", Slug: "crime", URL: "u2", CreatedAt: epoch, UpdatedAt: epoch, LastScrapedAt: epoch}
	if err := s.SaveCategory(ctx, second); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("duplicate insert err = %v, want ErrDuplicate", err)
	}
}

func testCategoryFilter(t *testing.T, s store.Store) {
	ctx := context.Background()
	nav := &models.Navigation{Title: "Books", Slug: "books", URL: "n", CreatedAt: epoch, UpdatedAt: epoch, LastScrapedAt: epoch}
	if err := s.SaveNavigation(ctx, nav); err != nil {
		t.Fatalf("SaveNavigation: %v", err)
	}
	parent := &models.Category{NavigationID: nav.ID, Title: "Fiction", Slug: "fiction", URL: "c1", CreatedAt: epoch, UpdatedAt: epoch, LastScrapedAt: epoch}
	if err := s.SaveCategory(ctx, parent); err != nil {
		t.Fatalf("SaveCategory: %v", err)
	}
	child := &models.Category{ParentID: parent.ID, Title: "Crime", Slug: "crime", URL: "c2", ProductCount: 42, CreatedAt: epoch, UpdatedAt: epoch, LastScrapedAt: epoch}
	if err := s.SaveCategory(ctx, child); err != nil {
		t.Fatalf("SaveCategory: %v", err)
	}

	byNav, err := s.ListCategories(ctx, store.CategoryFilter{NavigationID: nav.ID})
	if err != nil || len(byNav) != 1 || byNav[0].Slug != "fiction" {
		t.Fatalf("by navigation = %+v, %v", byNav, err)
	}
	byParent, err := s.ListCategories(ctx, store.CategoryFilter{ParentID: parent.ID})
	if err != nil || len(byParent) != 1 || byParent[0].ProductCount != 42 {
		t.Fatalf("by parent = %+v, %v", byParent, err)
	}
	if byParent[0].NavigationID != "" {
		t.Fatalf("absent navigation link came back as %q", byParent[0].NavigationID)
	}
	all, err := s.ListCategories(ctx, store.CategoryFilter{})
	if err != nil || len(all) != 2 {
		t.Fatalf("all = %d, %v", len(all), err)
	}
}

func testProductLookups(t *testing.T, s store.Store) {
	ctx := context.Background()
	saved := mustSaveProduct(t, s, models.Product{SourceID: "emma", Title: "Emma", Price: price("4.50")})

	bySource, err := s.ProductBySourceID(ctx, "emma")
	if err != nil || bySource.ID != saved.ID {
		t.Fatalf("ProductBySourceID = %+v, %v", bySource, err)
	}
	byURL, err := s.ProductBySourceURL(ctx, saved.SourceURL)
	if err != nil || byURL.ID != saved.ID {
		t.Fatalf("ProductBySourceURL = %+v, %v", byURL, err)
	}
	if !byURL.Price.Valid || !byURL.Price.Decimal.Equal(decimal.RequireFromString("4.50")) {
		t.Fatalf("price = %v", byURL.Price)
	}

	saved.Price = decimal.NullDecimal{}
	if err := s.SaveProduct(ctx, &saved); err != nil {
		t.Fatalf("update: %v", err)
	}
	byID, err := s.ProductByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("ProductByID: %v", err)
	}
	if byID.Price.Valid {
		t.Fatalf("price should be cleared, got %v", byID.Price)
	}

	dup := models.Product{SourceID: "emma-2", Title: "Emma", SourceURL: saved.SourceURL, Currency: "GBP", CreatedAt: epoch}
	if err := s.SaveProduct(ctx, &dup); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("duplicate url err = %v, want ErrDuplicate", err)
	}
}

func testProductFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	cat := &models.Category{Title: "Classics", Slug: "classics", URL: "c", CreatedAt: epoch, UpdatedAt: epoch, LastScrapedAt: epoch}
	if err := s.SaveCategory(ctx, cat); err != nil {
		t.Fatalf("SaveCategory: %v", err)
	}
	emma := mustSaveProduct(t, s, models.Product{SourceID: "emma", CategoryID: cat.ID, Title: "Emma", Author: "Jane Austen", Price: price("4.50")})
	mustSaveProduct(t, s, models.Product{SourceID: "persuasion", CategoryID: cat.ID, Title: "Persuasion", Author: "Jane Austen", Price: price("9.99"), CreatedAt: epoch.Add(time.Minute)})
	mustSaveProduct(t, s, models.Product{SourceID: "dracula", Title: "Dracula", Author: "Bram Stoker", CreatedAt: epoch.Add(2 * time.Minute)})

	avg := 4.5
	if err := s.SaveDetail(ctx, &models.ProductDetail{ProductID: emma.ID, RatingsAvg: &avg, ReviewsCount: 2, CreatedAt: epoch, UpdatedAt: epoch}); err != nil {
		t.Fatalf("SaveDetail: %v", err)
	}

	minRating := 4.0
	tests := []struct {
		name   string
		filter store.ProductFilter
		want   []string
	}{
		{"newest first by default", store.ProductFilter{}, []string{"dracula", "persuasion", "emma"}},
		{"category", store.ProductFilter{CategoryID: cat.ID, SortBy: store.SortTitle}, []string{"emma", "persuasion"}},
		{"price range", store.ProductFilter{MinPrice: price("5"), MaxPrice: price("10")}, []string{"persuasion"}},
		{"author substring", store.ProductFilter{Author: "austen", SortBy: store.SortTitle}, []string{"emma", "persuasion"}},
		{"title search", store.ProductFilter{Search: "DRAC"}, []string{"dracula"}},
		{"min rating", store.ProductFilter{MinRating: &minRating}, []string{"emma"}},
		{"price desc, unpriced last", store.ProductFilter{SortBy: store.SortPrice, Order: "desc"}, []string{"persuasion", "emma", "dracula"}},
		{"price asc, unpriced last", store.ProductFilter{SortBy: store.SortPrice, Order: "asc"}, []string{"emma", "persuasion", "dracula"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := s.ListProducts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListProducts: %v", err)
			}
			if total != len(tt.want) {
				t.Fatalf("total = %d, want %d", total, len(tt.want))
			}
			ids := make([]string, len(got))
			for i, p := range got {
				ids[i] = p.SourceID
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("got %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", ids, tt.want)
				}
			}
		})
	}
}

func testProductPaging(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		mustSaveProduct(t, s, models.Product{SourceID: id, Title: id, CreatedAt: epoch.Add(time.Duration(i) * time.Second)})
	}

	page, total, err := s.ListProducts(ctx, store.ProductFilter{SortBy: store.SortTitle, Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if total != 5 || len(page) != 2 || page[0].SourceID != "c" || page[1].SourceID != "d" {
		t.Fatalf("page 2 = %+v (total %d)", page, total)
	}

	last, _, err := s.ListProducts(ctx, store.ProductFilter{SortBy: store.SortTitle, Page: 3, Limit: 2})
	if err != nil || len(last) != 1 || last[0].SourceID != "e" {
		t.Fatalf("page 3 = %+v, %v", last, err)
	}
}

func testDetailUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustSaveProduct(t, s, models.Product{SourceID: "hobbit", Title: "The Hobbit"})
	published := time.Date(1937, 9, 21, 0, 0, 0, 0, time.UTC)

	d := &models.ProductDetail{
		ProductID:         p.ID,
		Description:       "There and back again.",
		Specs:             map[string]string{"Format": "Paperback"},
		ISBN:              "9780261102217",
		PublicationDate:   &published,
		RelatedProductIDs: []string{"lotr"},
		CreatedAt:         epoch,
		UpdatedAt:         epoch,
	}
	if err := s.SaveDetail(ctx, d); err != nil {
		t.Fatalf("insert: %v", err)
	}
	id := d.ID

	avg := 4.0
	d.RatingsAvg = &avg
	d.ReviewsCount = 3
	d.Specs = map[string]string{"Format": "Hardback", "Pages": "310"}
	if err := s.SaveDetail(ctx, d); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.DetailByProductID(ctx, p.ID)
	if err != nil {
		t.Fatalf("DetailByProductID: %v", err)
	}
	if got.ID != id || got.ReviewsCount != 3 || got.RatingsAvg == nil || *got.RatingsAvg != 4.0 {
		t.Fatalf("unexpected detail %+v", got)
	}
	if got.Specs["Format"] != "Hardback" || got.Specs["Pages"] != "310" {
		t.Fatalf("specs = %v", got.Specs)
	}
	if got.PublicationDate == nil || !got.PublicationDate.Equal(published) {
		t.Fatalf("publication date = %v", got.PublicationDate)
	}
	if len(got.RelatedProductIDs) != 1 || got.RelatedProductIDs[0] != "lotr" {
		t.Fatalf("related = %v", got.RelatedProductIDs)
	}
}

func testReviewsReplace(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustSaveProduct(t, s, models.Product{SourceID: "emma", Title: "Emma"})

	save := func(ratings ...int) {
		t.Helper()
		for i, rating := range ratings {
			r := &models.Review{ProductID: p.ID, Rating: rating, Position: i, CreatedAt: epoch}
			if err := s.SaveReview(ctx, r); err != nil {
				t.Fatalf("SaveReview: %v", err)
			}
			if r.ID == "" {
				t.Fatal("SaveReview should assign an id")
			}
		}
	}

	save(5, 3, 4)
	if err := s.DeleteReviews(ctx, p.ID); err != nil {
		t.Fatalf("DeleteReviews: %v", err)
	}
	save(2, 1)

	got, err := s.ListReviews(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if len(got) != 2 || got[0].Rating != 2 || got[1].Rating != 1 {
		t.Fatalf("reviews = %+v", got)
	}
}

func testJobsNewestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		started := epoch.Add(time.Duration(i) * time.Minute)
		job := &models.ScrapeJob{
			TargetURL:  "https://shop.example.test/",
			TargetType: models.StageNavigation,
			Status:     models.JobRunning,
			StartedAt:  &started,
			CreatedAt:  started,
			UpdatedAt:  started,
		}
		if err := s.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
		if i == 2 {
			finished := started.Add(time.Second)
			job.Status = models.JobFailed
			job.ErrorLog = "boom"
			job.FinishedAt = &finished
			if err := s.SaveJob(ctx, job); err != nil {
				t.Fatalf("SaveJob update: %v", err)
			}
		}
	}

	jobs, err := s.ListJobs(ctx, 2)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].Status != models.JobFailed || jobs[0].ErrorLog != "boom" || jobs[0].FinishedAt == nil {
		t.Fatalf("newest job = %+v", jobs[0])
	}
	if !jobs[0].CreatedAt.After(jobs[1].CreatedAt) {
		t.Fatalf("jobs not newest first")
	}
}
