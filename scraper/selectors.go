package scraper

import (
	"fmt"
	"os"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

// Query selects nodes below a root selection.
type Query func(*goquery.Selection) *goquery.Selection

// CSS returns a Query running a CSS selector.
func CSS(selector string) Query {
	return func(s *goquery.Selection) *goquery.Selection {
		return s.Find(selector)
	}
}

// Chain is an ordered list of queries. The first query that matches
// anything wins.
type Chain []Query

// ChainOf builds a chain of CSS queries.
func ChainOf(selectors ...string) Chain {
	chain := make(Chain, 0, len(selectors))
	for _, sel := range selectors {
		chain = append(chain, CSS(sel))
	}
	return chain
}

// Find runs the chain against root. When no query matches it returns an
// empty selection, never nil.
func (c Chain) Find(root *goquery.Selection) *goquery.Selection {
	for _, q := range c {
		if found := q(root); found.Length() > 0 {
			return found
		}
	}
	return root.Slice(0, 0)
}

// UnmarshalYAML accepts either a list of CSS selectors or a single one.
func (c *Chain) UnmarshalYAML(node *yaml.Node) error {
	var selectors []string
	if node.Kind == yaml.ScalarNode {
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		selectors = []string{single}
	} else if err := node.Decode(&selectors); err != nil {
		return err
	}
	*c = ChainOf(selectors...)
	return nil
}

// Selectors holds the query chains for every stage. Card and review
// field chains run relative to a single card or review block.
type Selectors struct {
	NavigationLinks Chain `yaml:"navigation_links"`

	CategoryLinks     Chain    `yaml:"category_links"`
	CategoryPathHints []string `yaml:"category_path_hints"`

	ProductCards Chain `yaml:"product_cards"`
	CardTitle    Chain `yaml:"card_title"`
	CardAuthor   Chain `yaml:"card_author"`
	CardPrice    Chain `yaml:"card_price"`
	CardImage    Chain `yaml:"card_image"`
	CardLink     Chain `yaml:"card_link"`
	NextPage     Chain `yaml:"next_page"`

	Description     Chain `yaml:"description"`
	ISBN            Chain `yaml:"isbn"`
	Publisher       Chain `yaml:"publisher"`
	PublicationDate Chain `yaml:"publication_date"`
	RelatedLinks    Chain `yaml:"related_links"`
	SpecRows        Chain `yaml:"spec_rows"`

	Reviews        Chain `yaml:"reviews"`
	ReviewAuthor   Chain `yaml:"review_author"`
	ReviewRating   Chain `yaml:"review_rating"`
	ReviewText     Chain `yaml:"review_text"`
	ReviewTitle    Chain `yaml:"review_title"`
	ReviewDate     Chain `yaml:"review_date"`
	ReviewVerified Chain `yaml:"review_verified"`
}

// DefaultSelectors matches the World of Books storefront markup.
func DefaultSelectors() *Selectors {
	return &Selectors{
		NavigationLinks: ChainOf("nav a", "header a", ".navigation a", ".nav-item a", `[role="navigation"] a`),

		CategoryLinks:     ChainOf(".list-menu__item a", ".facets__item a", ".collection-list a"),
		CategoryPathHints: []string{"/collections/", "/category/"},

		ProductCards: ChainOf(".main-product-card", ".card-wrapper", ".product-card"),
		CardTitle:    ChainOf(".card__heading", "h3.title", ".product-title"),
		CardAuthor:   ChainOf(".caption-with-letter-spacing", ".author", ".product-author"),
		CardPrice:    ChainOf(".price-item--sale", ".price-item--regular", ".price"),
		CardImage:    ChainOf(".card__media img", ".media img", "img"),
		CardLink:     ChainOf("a.full-unstyled-link", ".card__heading a", "a"),
		NextPage:     ChainOf(".pagination__item--next", `a[rel="next"]`, ".next"),

		Description:     ChainOf(".description", ".product-description", "[data-description]"),
		ISBN:            ChainOf("[data-isbn]", ".isbn"),
		Publisher:       ChainOf(".publisher", "[data-publisher]"),
		PublicationDate: ChainOf(".publication-date", "[data-publication-date]"),
		RelatedLinks:    ChainOf(".related-product a", ".recommended a"),
		SpecRows:        ChainOf(".specs tr", ".product-specs tr"),

		Reviews:        ChainOf(".review", ".product-review", "[data-review]"),
		ReviewAuthor:   ChainOf(".author", ".reviewer"),
		ReviewRating:   ChainOf("[data-rating]", ".rating"),
		ReviewText:     ChainOf(".review-text", ".comment"),
		ReviewTitle:    ChainOf(".review-title"),
		ReviewDate:     ChainOf(".review-date", ".date"),
		ReviewVerified: ChainOf(".verified", ".verified-badge", "[data-verified]"),
	}
}

// LoadSelectors reads a YAML selector profile. Keys missing from the file
// keep their default chains.
func LoadSelectors(path string) (*Selectors, error) {
	sel := DefaultSelectors()
	if path == "" {
		return sel, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read selector profile: %w", err)
	}
	if err := yaml.Unmarshal(data, sel); err != nil {
		return nil, fmt.Errorf("parse selector profile: %w", err)
	}
	return sel, nil
}
