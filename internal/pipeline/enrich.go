package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/store"
)

const (
	maxBullets = 8
	maxTags    = 10
)

// bulletPriority is the fixed attribute order for bullet generation;
// remaining attributes fill in afterwards until the cap.
var bulletPriority = []string{"description", "key_features", "dimensions", "weight", "color", "material", "warranty"}

var numericToken = regexp.MustCompile(`[\d.]+`)

// Enricher generates deterministic content from standardized attributes.
// Same inputs always produce the same enrichment.
type Enricher struct {
	store store.Store
	title cases.Caser
}

// NewEnricher creates an enricher.
func NewEnricher(st store.Store) *Enricher {
	return &Enricher{store: st, title: cases.Title(language.English)}
}

// Enrich builds the SEO title, bullets, tags, and inferred attributes for
// a product, upserts the enrichment record, and audits the pass.
func (e *Enricher) Enrich(ctx context.Context, product *model.Product, stdAttrs []model.StandardizedAttribute) (*model.Enrichment, error) {
	attrs := make(map[string]string, len(stdAttrs))
	var order []string
	for _, a := range stdAttrs {
		attrs[a.AttributeName] = a.StandardValue
		order = append(order, a.AttributeName)
	}

	enrichment := model.Enrichment{
		ProductID:          product.ID,
		SEOTitle:           e.seoTitle(product, attrs),
		Bullets:            e.bullets(attrs, order),
		Tags:               e.tags(attrs, order),
		InferredAttributes: inferAttributes(attrs),
	}
	if err := e.store.UpsertEnrichment(ctx, enrichment); err != nil {
		return nil, eris.Wrap(err, "enrich: upsert")
	}

	entry := model.AuditEntry{
		ProductID:     product.ID,
		AttributeName: "enrichment",
		SelectedValue: enrichment.SEOTitle,
		SourceUsed:    "enrichment-engine",
		Reason: fmt.Sprintf("generated %d bullets, %d tags, %d inferred attributes",
			len(enrichment.Bullets), len(enrichment.Tags), len(enrichment.InferredAttributes)),
		Stage: model.StageEnrichment,
	}
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		return nil, eris.Wrap(err, "enrich: audit")
	}

	zap.L().Debug("enrich: product done",
		zap.String("product_id", product.ID),
		zap.Int("bullets", len(enrichment.Bullets)),
		zap.Int("tags", len(enrichment.Tags)),
	)
	return &enrichment, nil
}

func (e *Enricher) seoTitle(product *model.Product, attrs map[string]string) string {
	brand := attrs["brand"]
	if brand == "" {
		brand = product.Brand
	}
	mdl := firstNonEmpty(attrs["model"], attrs["model_number"])
	category := firstNonEmpty(attrs["type"], attrs["category"])
	if category == "" {
		category = "Product"
	}
	return strings.TrimSpace(strings.Join(nonEmpty(brand, mdl, category), " "))
}

func (e *Enricher) bullets(attrs map[string]string, order []string) []string {
	var bullets []string
	used := map[string]bool{}

	add := func(name string) {
		if len(bullets) >= maxBullets || used[name] {
			return
		}
		value, ok := attrs[name]
		if !ok || value == "" {
			return
		}
		label := e.title.String(strings.ReplaceAll(name, "_", " "))
		bullets = append(bullets, fmt.Sprintf("%s: %s", label, value))
		used[name] = true
	}

	for _, name := range bulletPriority {
		add(name)
	}
	for _, name := range order {
		add(name)
	}
	return bullets
}

func (e *Enricher) tags(attrs map[string]string, order []string) []string {
	var tags []string
	seen := map[string]bool{}

	add := func(tag string) {
		if tag == "" || seen[tag] || len(tags) >= maxTags {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	add(attrs["category"])
	add(attrs["brand"])
	for _, name := range order {
		value := attrs[name]
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "type") || strings.Contains(lower, "style"):
			add(value)
		case strings.Contains(lower, "color"):
			add("Color: " + value)
		case strings.Contains(lower, "material"):
			add("Material: " + value)
		}
	}
	return tags
}

// inferAttributes derives price_range, size_category, and durability.
func inferAttributes(attrs map[string]string) map[string]any {
	inferred := map[string]any{}

	if price, err := strconv.ParseFloat(strings.TrimPrefix(attrs["price"], "$"), 64); err == nil {
		switch {
		case price < 50:
			inferred["price_range"] = "budget"
		case price < 200:
			inferred["price_range"] = "mid-range"
		default:
			inferred["price_range"] = "premium"
		}
	}

	if dims := attrs["dimensions"]; dims != "" {
		var largest float64
		found := false
		for _, tok := range numericToken.FindAllString(dims, -1) {
			if n, err := strconv.ParseFloat(tok, 64); err == nil {
				found = true
				if n > largest {
					largest = n
				}
			}
		}
		if found {
			switch {
			case largest < 100:
				inferred["size_category"] = "compact"
			case largest < 500:
				inferred["size_category"] = "medium"
			default:
				inferred["size_category"] = "large"
			}
		}
	}

	material := strings.ToLower(attrs["material"])
	switch {
	case strings.Contains(material, "metal"):
		inferred["durability"] = "high"
	case strings.Contains(material, "plastic"):
		inferred["durability"] = "medium"
	}

	return inferred
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
