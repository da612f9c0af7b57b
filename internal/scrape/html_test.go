package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"vintedfav-engine/internal/domain"
)

const itemPage = `<html><body>
<nav>
  <a href="/">Accueil</a>
  <a href="/femmes">Femmes</a>
  <a href="/femmes/vetements">Vêtements</a>
  <a href="/femmes/vetements/robes">Robes</a>
</nav>
<h1>Robe fleurie Zara</h1>
</body></html>`

func TestEnrichFromHTMLBreadcrumbs(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	f := domain.Favorite{ExternalID: "1"}
	n.EnrichFromHTML(&f, []byte(itemPage))
	assert.Equal(t, "Femme", f.Gender)
	assert.Equal(t, "Robes", f.Category)
}

func TestEnrichFromHTMLGenderFromAnchorText(t *testing.T) {
	markup := `<html><body><a href="/catalog/5">Hommes</a></body></html>`
	n := NewNormalizer(zap.NewNop())
	f := domain.Favorite{ExternalID: "1"}
	n.EnrichFromHTML(&f, []byte(markup))
	assert.Equal(t, "Homme", f.Gender)
}

func TestEnrichFromHTMLVocabularyFallback(t *testing.T) {
	markup := `<html><body><p>Superbe Pantalon en laine, taille 40.</p></body></html>`
	n := NewNormalizer(zap.NewNop())
	f := domain.Favorite{ExternalID: "1"}
	n.EnrichFromHTML(&f, []byte(markup))
	assert.Equal(t, "Pantalon", f.Category)
}

func TestEnrichFromHTMLPreservesExistingFields(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	f := domain.Favorite{ExternalID: "1", Gender: "Enfant", Category: "Jouets"}
	n.EnrichFromHTML(&f, []byte(itemPage))
	assert.Equal(t, "Enfant", f.Gender)
	assert.Equal(t, "Jouets", f.Category)
}

func TestEnrichFromHTMLNothingFound(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	f := domain.Favorite{ExternalID: "1"}
	n.EnrichFromHTML(&f, []byte(`<html><body><p>rien ici</p></body></html>`))
	assert.Empty(t, f.Gender)
	assert.Empty(t, f.Category)
}
