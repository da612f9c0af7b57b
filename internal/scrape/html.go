package scrape

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"vintedfav-engine/internal/domain"
)

// htmlScanLimit bounds how much markup is parsed; the signals we need sit in
// the head and breadcrumb region of the page.
const htmlScanLimit = 100 << 10

// breadcrumb nodes that name the site or a gender label, not a category
var genericBreadcrumbs = map[string]struct{}{
	"home":    {},
	"accueil": {},
	"femmes":  {},
	"hommes":  {},
	"enfants": {},
	"femme":   {},
	"homme":   {},
	"enfant":  {},
}

// categoryVocabulary is the literal-substring fallback when no breadcrumb
// matches; first hit wins, no ordering preference beyond that.
var categoryVocabulary = []string{
	"Robe", "Pantalon", "Jean", "Jupe", "Chemise", "T-shirt", "Pull",
	"Manteau", "Veste", "Blouson", "Chaussures", "Baskets", "Bottes",
	"Sandales", "Sac", "Accessoires", "Ceinture", "Écharpe", "Short",
	"Sweat", "Gilet", "Combinaison", "Maillot",
}

// EnrichFromHTML scrapes category and gender from rendered item-page markup,
// for the times the upstream blocks the JSON detail endpoint but still
// serves HTML. Existing non-empty fields are preserved.
func (n *Normalizer) EnrichFromHTML(f *domain.Favorite, markup []byte) {
	if len(markup) > htmlScanLimit {
		markup = markup[:htmlScanLimit]
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		n.log.Warn("item page markup unparseable",
			zap.String("externalId", f.ExternalID), zap.Error(err))
		return
	}

	if f.Gender == "" {
		f.Gender = genderFromMarkup(doc, markup)
		if f.Gender == "" {
			n.log.Debug("gender not found in markup",
				zap.String("externalId", f.ExternalID))
		}
	}

	if f.Category == "" {
		f.Category = categoryFromMarkup(doc, markup)
		if f.Category == "" {
			n.log.Debug("category not found in markup",
				zap.String("externalId", f.ExternalID))
		}
	}
}

func genderFromMarkup(doc *goquery.Document, markup []byte) string {
	// path segments anywhere in the scanned markup
	if g := GenderFromPath(string(markup)); g != "" {
		return g
	}

	// capitalized link text as a weaker signal
	gender := ""
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		switch strings.TrimSpace(a.Text()) {
		case "Femmes", "Femme":
			gender = "Femme"
		case "Hommes", "Homme":
			gender = "Homme"
		case "Enfants", "Enfant":
			gender = "Enfant"
		}
		return gender == ""
	})
	return gender
}

func categoryFromMarkup(doc *goquery.Document, markup []byte) string {
	// breadcrumb anchors, last (most specific) non-generic node wins
	category := ""
	doc.Find("nav a, ul.breadcrumbs a, .breadcrumbs a, [itemprop=itemListElement] a").
		Each(func(_ int, a *goquery.Selection) {
			text := strings.TrimSpace(a.Text())
			if text == "" {
				return
			}
			if _, generic := genericBreadcrumbs[strings.ToLower(text)]; generic {
				return
			}
			category = text
		})
	if category != "" {
		return category
	}

	// vocabulary fallback: literal substring scan
	page := string(markup)
	for _, word := range categoryVocabulary {
		if strings.Contains(page, word) {
			return word
		}
	}
	return ""
}
