package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/google/uuid"
)

const navigationColumns = `id, title, slug, url, last_scraped_at, created_at, updated_at`

func scanNavigation(row scanner) (*models.Navigation, error) {
	var n models.Navigation
	if err := row.Scan(&n.ID, &n.Title, &n.Slug, &n.URL, &n.LastScrapedAt, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Store) NavigationBySlug(ctx context.Context, slug string) (*models.Navigation, error) {
	n, err := scanNavigation(s.queryRow(ctx, `SELECT `+navigationColumns+` FROM navigation WHERE slug = ?`, slug))
	if err != nil {
		return nil, notFound(err, "navigation", slug)
	}
	return n, nil
}

func (s *Store) NavigationByID(ctx context.Context, id string) (*models.Navigation, error) {
	n, err := scanNavigation(s.queryRow(ctx, `SELECT `+navigationColumns+` FROM navigation WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "navigation", id)
	}
	return n, nil
}

func (s *Store) ListNavigation(ctx context.Context) ([]models.Navigation, error) {
	rows, err := s.query(ctx, `SELECT `+navigationColumns+` FROM navigation ORDER BY created_at, slug`)
	if err != nil {
		return nil, fmt.Errorf("list navigation: %w", err)
	}
	defer rows.Close()

	var out []models.Navigation
	for rows.Next() {
		n, err := scanNavigation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan navigation: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *Store) SaveNavigation(ctx context.Context, n *models.Navigation) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return s.upsert(ctx, "navigation", n.Slug,
		`UPDATE navigation SET title = ?, slug = ?, url = ?, last_scraped_at = ?, created_at = ?, updated_at = ? WHERE id = ?`,
		[]any{n.Title, n.Slug, n.URL, utc(n.LastScrapedAt), utc(n.CreatedAt), utc(n.UpdatedAt), n.ID},
		`INSERT INTO navigation (`+navigationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		[]any{n.ID, n.Title, n.Slug, n.URL, utc(n.LastScrapedAt), utc(n.CreatedAt), utc(n.UpdatedAt)},
	)
}

const categoryColumns = `id, navigation_id, parent_id, title, slug, url, product_count, last_scraped_at, created_at, updated_at`

func scanCategory(row scanner) (*models.Category, error) {
	var c models.Category
	var navigationID, parentID sql.NullString
	if err := row.Scan(&c.ID, &navigationID, &parentID, &c.Title, &c.Slug, &c.URL, &c.ProductCount,
		&c.LastScrapedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.NavigationID = navigationID.String
	c.ParentID = parentID.String
	return &c, nil
}

func (s *Store) CategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	c, err := scanCategory(s.queryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE slug = ?`, slug))
	if err != nil {
		return nil, notFound(err, "category", slug)
	}
	return c, nil
}

func (s *Store) CategoryByID(ctx context.Context, id string) (*models.Category, error) {
	c, err := scanCategory(s.queryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "category", id)
	}
	return c, nil
}

func (s *Store) ListCategories(ctx context.Context, filter store.CategoryFilter) ([]models.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE 1 = 1`
	var args []any
	if filter.NavigationID != "" {
		query += ` AND navigation_id = ?`
		args = append(args, filter.NavigationID)
	}
	if filter.ParentID != "" {
		query += ` AND parent_id = ?`
		args = append(args, filter.ParentID)
	}
	query += ` ORDER BY created_at, slug`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) SaveCategory(ctx context.Context, c *models.Category) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return s.upsert(ctx, "category", c.Slug,
		`UPDATE categories SET navigation_id = ?, parent_id = ?, title = ?, slug = ?, url = ?, product_count = ?,
			last_scraped_at = ?, created_at = ?, updated_at = ? WHERE id = ?`,
		[]any{nullString(c.NavigationID), nullString(c.ParentID), c.Title, c.Slug, c.URL, c.ProductCount,
			utc(c.LastScrapedAt), utc(c.CreatedAt), utc(c.UpdatedAt), c.ID},
		`INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{c.ID, nullString(c.NavigationID), nullString(c.ParentID), c.Title, c.Slug, c.URL, c.ProductCount,
			utc(c.LastScrapedAt), utc(c.CreatedAt), utc(c.UpdatedAt)},
	)
}

const productColumns = `p.id, p.source_id, p.category_id, p.title, p.author, p.price, p.currency, p.image_url,
	p.source_url, p.last_scraped_at, p.created_at, p.updated_at`

func scanProduct(row scanner) (*models.Product, error) {
	var p models.Product
	var categoryID sql.NullString
	if err := row.Scan(&p.ID, &p.SourceID, &categoryID, &p.Title, &p.Author, &p.Price, &p.Currency, &p.ImageURL,
		&p.SourceURL, &p.LastScrapedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.CategoryID = categoryID.String
	return &p, nil
}

func (s *Store) productBy(ctx context.Context, column, value string) (*models.Product, error) {
	p, err := scanProduct(s.queryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.`+column+` = ?`, value))
	if err != nil {
		return nil, notFound(err, "product", value)
	}
	return p, nil
}

func (s *Store) ProductBySourceID(ctx context.Context, sourceID string) (*models.Product, error) {
	return s.productBy(ctx, "source_id", sourceID)
}

func (s *Store) ProductBySourceURL(ctx context.Context, sourceURL string) (*models.Product, error) {
	return s.productBy(ctx, "source_url", sourceURL)
}

func (s *Store) ProductByID(ctx context.Context, id string) (*models.Product, error) {
	return s.productBy(ctx, "id", id)
}

func (s *Store) ListProducts(ctx context.Context, filter store.ProductFilter) ([]models.Product, int, error) {
	filter = filter.Normalized()

	where := ` FROM products p LEFT JOIN product_details d ON d.product_id = p.id WHERE 1 = 1`
	var args []any
	if filter.CategoryID != "" {
		where += ` AND p.category_id = ?`
		args = append(args, filter.CategoryID)
	}
	if filter.MinPrice.Valid {
		where += ` AND p.price >= ?`
		args = append(args, filter.MinPrice.Decimal)
	}
	if filter.MaxPrice.Valid {
		where += ` AND p.price <= ?`
		args = append(args, filter.MaxPrice.Decimal)
	}
	if filter.Author != "" {
		where += ` AND LOWER(p.author) LIKE ?`
		args = append(args, "%"+strings.ToLower(filter.Author)+"%")
	}
	if filter.Search != "" {
		where += ` AND LOWER(p.title) LIKE ?`
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.MinRating != nil {
		where += ` AND d.ratings_avg >= ?`
		args = append(args, *filter.MinRating)
	}

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	direction := "ASC"
	if filter.Order == "desc" {
		direction = "DESC"
	}
	var order string
	switch filter.SortBy {
	case store.SortPrice:
		order = `(p.price IS NULL), p.price ` + direction
	case store.SortTitle:
		order = `p.title ` + direction
	default:
		order = `p.created_at ` + direction
	}

	query := `SELECT ` + productColumns + where + ` ORDER BY ` + order + `, p.id LIMIT ? OFFSET ?`
	rows, err := s.query(ctx, query, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func (s *Store) SaveProduct(ctx context.Context, p *models.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return s.upsert(ctx, "product", p.SourceID,
		`UPDATE products SET source_id = ?, category_id = ?, title = ?, author = ?, price = ?, currency = ?, image_url = ?,
			source_url = ?, last_scraped_at = ?, created_at = ?, updated_at = ? WHERE id = ?`,
		[]any{p.SourceID, nullString(p.CategoryID), p.Title, p.Author, p.Price, p.Currency, p.ImageURL,
			p.SourceURL, utc(p.LastScrapedAt), utc(p.CreatedAt), utc(p.UpdatedAt), p.ID},
		`INSERT INTO products (id, source_id, category_id, title, author, price, currency, image_url,
			source_url, last_scraped_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{p.ID, p.SourceID, nullString(p.CategoryID), p.Title, p.Author, p.Price, p.Currency, p.ImageURL,
			p.SourceURL, utc(p.LastScrapedAt), utc(p.CreatedAt), utc(p.UpdatedAt)},
	)
}

const detailColumns = `id, product_id, description, specs, ratings_avg, reviews_count, isbn, publisher,
	publication_date, related_product_ids, created_at, updated_at`

func (s *Store) DetailByProductID(ctx context.Context, productID string) (*models.ProductDetail, error) {
	var (
		d          models.ProductDetail
		specs      sql.NullString
		related    sql.NullString
		ratingsAvg sql.NullFloat64
		published  sql.NullTime
	)
	err := s.queryRow(ctx, `SELECT `+detailColumns+` FROM product_details WHERE product_id = ?`, productID).Scan(
		&d.ID, &d.ProductID, &d.Description, &specs, &ratingsAvg, &d.ReviewsCount, &d.ISBN, &d.Publisher,
		&published, &related, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "product detail", productID)
	}

	if specs.Valid && specs.String != "" {
		if err := json.Unmarshal([]byte(specs.String), &d.Specs); err != nil {
			return nil, fmt.Errorf("decode specs of %s: %w", productID, err)
		}
	}
	if related.Valid && related.String != "" {
		if err := json.Unmarshal([]byte(related.String), &d.RelatedProductIDs); err != nil {
			return nil, fmt.Errorf("decode related products of %s: %w", productID, err)
		}
	}
	if ratingsAvg.Valid {
		avg := ratingsAvg.Float64
		d.RatingsAvg = &avg
	}
	d.PublicationDate = timePtr(published)
	return &d, nil
}

func (s *Store) SaveDetail(ctx context.Context, d *models.ProductDetail) error {
	if d.ID == "" {
		var existing string
		err := s.queryRow(ctx, `SELECT id FROM product_details WHERE product_id = ?`, d.ProductID).Scan(&existing)
		switch {
		case err == nil:
			d.ID = existing
		case errors.Is(err, sql.ErrNoRows):
			d.ID = uuid.NewString()
		default:
			return fmt.Errorf("load product detail %q: %w", d.ProductID, err)
		}
	}

	specs, err := encodeJSON(len(d.Specs) > 0, d.Specs)
	if err != nil {
		return fmt.Errorf("encode specs: %w", err)
	}
	related, err := encodeJSON(len(d.RelatedProductIDs) > 0, d.RelatedProductIDs)
	if err != nil {
		return fmt.Errorf("encode related products: %w", err)
	}
	var ratingsAvg sql.NullFloat64
	if d.RatingsAvg != nil {
		ratingsAvg = sql.NullFloat64{Float64: *d.RatingsAvg, Valid: true}
	}

	return s.upsert(ctx, "product detail", d.ProductID,
		`UPDATE product_details SET product_id = ?, description = ?, specs = ?, ratings_avg = ?, reviews_count = ?,
			isbn = ?, publisher = ?, publication_date = ?, related_product_ids = ?, created_at = ?, updated_at = ? WHERE id = ?`,
		[]any{d.ProductID, d.Description, specs, ratingsAvg, d.ReviewsCount, d.ISBN, d.Publisher,
			nullTime(d.PublicationDate), related, utc(d.CreatedAt), utc(d.UpdatedAt), d.ID},
		`INSERT INTO product_details (`+detailColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{d.ID, d.ProductID, d.Description, specs, ratingsAvg, d.ReviewsCount, d.ISBN, d.Publisher,
			nullTime(d.PublicationDate), related, utc(d.CreatedAt), utc(d.UpdatedAt)},
	)
}

func encodeJSON(present bool, v any) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

const reviewColumns = `id, product_id, author, rating, body, title, verified, review_date, position, created_at`

func (s *Store) ListReviews(ctx context.Context, productID string) ([]models.Review, error) {
	rows, err := s.query(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE product_id = ? ORDER BY position, id`, productID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []models.Review
	for rows.Next() {
		var r models.Review
		var reviewDate sql.NullTime
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Author, &r.Rating, &r.Text, &r.Title, &r.Verified,
			&reviewDate, &r.Position, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.ReviewDate = timePtr(reviewDate)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteReviews(ctx context.Context, productID string) error {
	if _, err := s.exec(ctx, `DELETE FROM reviews WHERE product_id = ?`, productID); err != nil {
		return fmt.Errorf("delete reviews of %s: %w", productID, err)
	}
	return nil
}

func (s *Store) SaveReview(ctx context.Context, r *models.Review) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return s.upsert(ctx, "review", r.ID,
		`UPDATE reviews SET product_id = ?, author = ?, rating = ?, body = ?, title = ?, verified = ?, review_date = ?,
			position = ?, created_at = ? WHERE id = ?`,
		[]any{r.ProductID, r.Author, r.Rating, r.Text, r.Title, r.Verified, nullTime(r.ReviewDate),
			r.Position, utc(r.CreatedAt), r.ID},
		`INSERT INTO reviews (`+reviewColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{r.ID, r.ProductID, r.Author, r.Rating, r.Text, r.Title, r.Verified, nullTime(r.ReviewDate),
			r.Position, utc(r.CreatedAt)},
	)
}

const jobColumns = `id, target_url, target_type, status, started_at, finished_at, error_log, items_scraped, created_at, updated_at`

func (s *Store) SaveJob(ctx context.Context, j *models.ScrapeJob) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return s.upsert(ctx, "scrape job", j.ID,
		`UPDATE scrape_jobs SET target_url = ?, target_type = ?, status = ?, started_at = ?, finished_at = ?,
			error_log = ?, items_scraped = ?, created_at = ?, updated_at = ? WHERE id = ?`,
		[]any{j.TargetURL, string(j.TargetType), string(j.Status), nullTime(j.StartedAt), nullTime(j.FinishedAt),
			j.ErrorLog, j.ItemsScraped, utc(j.CreatedAt), utc(j.UpdatedAt), j.ID},
		`INSERT INTO scrape_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{j.ID, j.TargetURL, string(j.TargetType), string(j.Status), nullTime(j.StartedAt), nullTime(j.FinishedAt),
			j.ErrorLog, j.ItemsScraped, utc(j.CreatedAt), utc(j.UpdatedAt)},
	)
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]models.ScrapeJob, error) {
	if limit <= 0 {
		limit = store.DefaultJobLimit
	}
	rows, err := s.query(ctx, `SELECT `+jobColumns+` FROM scrape_jobs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.ScrapeJob
	for rows.Next() {
		var j models.ScrapeJob
		var targetType, status string
		var started, finished sql.NullTime
		if err := rows.Scan(&j.ID, &j.TargetURL, &targetType, &status, &started, &finished,
			&j.ErrorLog, &j.ItemsScraped, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.TargetType = models.Stage(targetType)
		j.Status = models.JobStatus(status)
		j.StartedAt = timePtr(started)
		j.FinishedAt = timePtr(finished)
		out = append(out, j)
	}
	return out, rows.Err()
}
