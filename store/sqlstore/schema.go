package sqlstore

import "fmt"

func schema(d dialect) []string {
	ts, float := d.timestamp, d.float
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS navigation (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	url TEXT NOT NULL,
	last_scraped_at %[1]s NOT NULL,
	created_at %[1]s NOT NULL,
	updated_at %[1]s NOT NULL
)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS categories (
	id TEXT PRIMARY KEY,
	navigation_id TEXT REFERENCES navigation(id),
	parent_id TEXT REFERENCES categories(id),
	title TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	url TEXT NOT NULL,
	product_count INTEGER NOT NULL DEFAULT 0,
	last_scraped_at %[1]s NOT NULL,
	created_at %[1]s NOT NULL,
	updated_at %[1]s NOT NULL
)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_categories_navigation ON categories(navigation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_categories_parent ON categories(parent_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL UNIQUE,
	category_id TEXT REFERENCES categories(id),
	title TEXT NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	price NUMERIC(12, 2),
	currency TEXT NOT NULL,
	image_url TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL UNIQUE,
	last_scraped_at %[1]s NOT NULL,
	created_at %[1]s NOT NULL,
	updated_at %[1]s NOT NULL
)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS product_details (
	id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL UNIQUE REFERENCES products(id) ON DELETE CASCADE,
	description TEXT NOT NULL DEFAULT '',
	specs TEXT,
	ratings_avg %[2]s,
	reviews_count INTEGER NOT NULL DEFAULT 0,
	isbn TEXT NOT NULL DEFAULT '',
	publisher TEXT NOT NULL DEFAULT '',
	publication_date %[1]s,
	related_product_ids TEXT,
	created_at %[1]s NOT NULL,
	updated_at %[1]s NOT NULL
)`, ts, float),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	author TEXT NOT NULL DEFAULT '',
	rating INTEGER NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	verified BOOLEAN NOT NULL DEFAULT FALSE,
	review_date %[1]s,
	position INTEGER NOT NULL DEFAULT 0,
	created_at %[1]s NOT NULL
)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_reviews_product ON reviews(product_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS scrape_jobs (
	id TEXT PRIMARY KEY,
	target_url TEXT NOT NULL,
	target_type TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at %[1]s,
	finished_at %[1]s,
	error_log TEXT NOT NULL DEFAULT '',
	items_scraped INTEGER NOT NULL DEFAULT 0,
	created_at %[1]s NOT NULL,
	updated_at %[1]s NOT NULL
)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_created ON scrape_jobs(created_at)`,
	}
}
