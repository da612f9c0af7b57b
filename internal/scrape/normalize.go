// Package scrape turns raw upstream payloads (JSON trees or rendered HTML)
// into canonical Favorite records. Every field is resolved by an ordered
// chain of extractors; the first non-empty result wins, which is what keeps
// the engine alive when the upstream renames or relocates fields between
// API revisions.
package scrape

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"vintedfav-engine/internal/domain"
)

type extractor func(item map[string]any) string

// chain applies extractors in order and keeps the first non-empty result.
func chain(item map[string]any, extractors ...extractor) string {
	for _, ex := range extractors {
		if v := ex(item); v != "" {
			return v
		}
	}
	return ""
}

func field(keys ...string) extractor {
	return func(item map[string]any) string {
		node := any(item)
		for _, key := range keys {
			m, ok := node.(map[string]any)
			if !ok {
				return ""
			}
			node = m[key]
		}
		return asString(node)
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		// JSON numbers decode as float64; ids are integral
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

type Normalizer struct {
	log *zap.Logger
}

func NewNormalizer(log *zap.Logger) *Normalizer {
	return &Normalizer{log: log}
}

// Normalize maps one raw listing item into a Favorite. Category and gender
// are not reliably present on the listing endpoint; they stay empty here and
// are filled by enrichment.
func (n *Normalizer) Normalize(item map[string]any) (domain.Favorite, bool) {
	id := chain(item, field("id"))
	if id == "" {
		n.log.Debug("listing item without id, skipped")
		return domain.Favorite{}, false
	}

	f := domain.Favorite{
		ExternalID: id,
		Title:      chain(item, field("title")),
		Brand:      chain(item, field("brand_title"), field("brand", "title")),
		Price:      parsePrice(chain(item, field("price", "amount"), field("price"))),
		ImageURL: chain(item,
			field("photo", "url"),
			field("photo", "full_size_url"),
			firstPhotoURL,
		),
		ProductURL: chain(item, field("url")),
		Sold:       isSold(item),
		SellerName: chain(item, field("user", "login"), field("user", "username")),
		Size:       chain(item, field("size_title"), field("size")),
		Condition:  chain(item, field("status"), field("condition")),
	}
	return f, true
}

// EnrichFromDetail fills category, gender and listing date from the richer
// item-detail payload, without touching fields the record already has. A
// field no strategy can resolve stays empty and is logged, never fatal.
func (n *Normalizer) EnrichFromDetail(f *domain.Favorite, item map[string]any) {
	if f.Category == "" {
		f.Category = chain(item,
			field("catalog", "title"),
			field("catalog_title"),
			lastCatalogNode,
			field("category"),
			field("service_fee_catalog_title"),
			field("catalog_branch_title"),
		)
		if f.Category == "" {
			n.log.Warn("category not found in detail payload",
				zap.String("externalId", f.ExternalID))
		}
	}

	if f.Gender == "" {
		f.Gender = chain(item,
			genderField("gender"),
			genderField("user", "gender"),
			genderFromCatalogTree,
			genderFromText(field("catalog", "title")),
			genderFromURLField,
		)
		if f.Gender == "" {
			n.log.Warn("gender not found in detail payload",
				zap.String("externalId", f.ExternalID))
		}
	}

	if f.ListedAt == nil {
		if ts := numberField(item, "created_at_ts"); ts == 0 {
			if ts = numberField(item, "created_at"); ts > 0 {
				t := time.Unix(ts, 0)
				f.ListedAt = &t
			}
		} else {
			t := time.Unix(ts, 0)
			f.ListedAt = &t
		}
	}
}

func firstPhotoURL(item map[string]any) string {
	photos, ok := item["photos"].([]any)
	if !ok || len(photos) == 0 {
		return ""
	}
	first, ok := photos[0].(map[string]any)
	if !ok {
		return ""
	}
	return asString(first["url"])
}

func lastCatalogNode(item map[string]any) string {
	tree, ok := item["catalog_tree"].([]any)
	if !ok || len(tree) == 0 {
		return ""
	}
	// last node is the most specific
	node, ok := tree[len(tree)-1].(map[string]any)
	if !ok {
		return ""
	}
	return asString(node["title"])
}

func isSold(item map[string]any) bool {
	if closed, ok := item["is_closed"].(bool); ok {
		return closed
	}
	return strings.EqualFold(asString(item["status"]), "sold")
}

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func numberField(item map[string]any, key string) int64 {
	switch t := item[key].(type) {
	case float64:
		return int64(t)
	case string:
		v, _ := strconv.ParseInt(t, 10, 64)
		return v
	default:
		return 0
	}
}

// genderField wraps a direct field lookup with keyword normalization, so
// free-form upstream values still map onto the three canonical labels.
func genderField(keys ...string) extractor {
	return genderFromText(field(keys...))
}

func genderFromText(ex extractor) extractor {
	return func(item map[string]any) string {
		return GenderFromKeywords(ex(item))
	}
}

func genderFromCatalogTree(item map[string]any) string {
	tree, ok := item["catalog_tree"].([]any)
	if !ok {
		return ""
	}
	for _, el := range tree {
		node, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if g := GenderFromKeywords(asString(node["title"])); g != "" {
			return g
		}
	}
	return ""
}

func genderFromURLField(item map[string]any) string {
	return GenderFromPath(asString(item["url"]))
}

// GenderFromKeywords maps free text onto Femme/Homme/Enfant by keyword,
// French and English variants included. The feminine and kids checks run
// first: "women" contains "men", and so does "vêtements", so the masculine
// match needs "men" as a standalone word.
func GenderFromKeywords(text string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "femme") || strings.Contains(lower, "women"):
		return "Femme"
	case strings.Contains(lower, "enfant") || strings.Contains(lower, "kids") ||
		strings.Contains(lower, "bébé") || strings.Contains(lower, "fille") ||
		strings.Contains(lower, "garçon"):
		return "Enfant"
	case strings.Contains(lower, "homme") || hasWord(lower, "men"):
		return "Homme"
	}
	return ""
}

func hasWord(text, word string) bool {
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if w == word {
			return true
		}
	}
	return false
}

// GenderFromPath infers gender from the category segment of a product URL.
func GenderFromPath(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "/femmes") || strings.Contains(lower, "/women"):
		return "Femme"
	case strings.Contains(lower, "/hommes") || strings.Contains(lower, "/men/"):
		return "Homme"
	case strings.Contains(lower, "/enfants") || strings.Contains(lower, "/kids"):
		return "Enfant"
	}
	return ""
}
