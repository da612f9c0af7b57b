package domain

import "time"

// Favorite is one item of the mirrored favourites list. ExternalID is the
// upstream marketplace id and the sole identity key; sync never creates two
// rows with the same ExternalID.
type Favorite struct {
	ID         int64
	ExternalID string
	Title      string
	Brand      string
	Category   string // empty until enriched
	Gender     string // Femme/Homme/Enfant, empty until enriched
	Price      float64
	ImageURL   string
	ProductURL string
	Sold       bool
	SellerName string
	Size       string
	Condition  string
	ListedAt   *time.Time
	SortOrder  int // position in the upstream listing, rewritten every sync
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NeedsEnrichment reports whether the detail endpoint still has something to
// tell us about this record.
func (f *Favorite) NeedsEnrichment() bool {
	return f.Category == "" || f.Gender == ""
}

// Merge applies a freshly fetched view of the same item onto an existing
// record. Volatile upstream facts (price, sold, title, image, condition) are
// always replaced; everything else only fills gaps, so an enriched field is
// never reset by a later listing fetch that omits it.
func (f *Favorite) Merge(fresh Favorite) {
	f.Price = fresh.Price
	f.Sold = fresh.Sold
	f.Title = fresh.Title
	f.ImageURL = fresh.ImageURL
	f.Condition = fresh.Condition

	if f.Brand == "" {
		f.Brand = fresh.Brand
	}
	if f.Category == "" {
		f.Category = fresh.Category
	}
	if f.Gender == "" {
		f.Gender = fresh.Gender
	}
	if f.Size == "" {
		f.Size = fresh.Size
	}
	if f.SellerName == "" {
		f.SellerName = fresh.SellerName
	}
	if f.ProductURL == "" {
		f.ProductURL = fresh.ProductURL
	}
	if f.ListedAt == nil {
		f.ListedAt = fresh.ListedAt
	}
}

// Credential is the single active login used by the external login agent.
// The secret is stored encoded (or in the OS keyring), never as plaintext
// in a column.
type Credential struct {
	ID          int64
	Email       string
	Secret      string // encoded; empty when held by the keyring
	UserID      string // upstream numeric user id, optional
	LastRefresh *time.Time
	Active      bool
}
