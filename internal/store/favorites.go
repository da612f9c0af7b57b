package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"vintedfav-engine/internal/domain"
)

type FavoriteRepo struct {
	db *sql.DB
}

func NewFavoriteRepo(db *sql.DB) *FavoriteRepo {
	return &FavoriteRepo{db: db}
}

// ListFilter narrows ListOrdered; zero values mean "no filter".
type ListFilter struct {
	Brand    string
	Gender   string
	Category string
	Sold     *bool
}

func (r *FavoriteRepo) FindByExternalID(ctx context.Context, externalID string) (*domain.Favorite, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, external_id, title, brand, category, gender, price, image_url,
       product_url, sold, seller_name, size, condition, listed_at,
       sort_order, created_at, updated_at
FROM favorites
WHERE external_id = ?;`, externalID)

	f, err := scanFavorite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *FavoriteRepo) Insert(ctx context.Context, f *domain.Favorite) error {
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
INSERT INTO favorites(external_id, title, brand, category, gender, price,
  image_url, product_url, sold, seller_name, size, condition, listed_at,
  sort_order, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);`,
		f.ExternalID, f.Title, f.Brand, f.Category, f.Gender, f.Price,
		f.ImageURL, f.ProductURL, boolToInt(f.Sold), f.SellerName, f.Size,
		f.Condition, nullableTime(f.ListedAt), f.SortOrder,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert favorite %s: %w", f.ExternalID, err)
	}
	f.ID, _ = res.LastInsertId()
	return nil
}

func (r *FavoriteRepo) Update(ctx context.Context, f *domain.Favorite) error {
	now := time.Now().UTC()
	f.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
UPDATE favorites
SET title = ?, brand = ?, category = ?, gender = ?, price = ?, image_url = ?,
    product_url = ?, sold = ?, seller_name = ?, size = ?, condition = ?,
    listed_at = ?, sort_order = ?, updated_at = ?
WHERE external_id = ?;`,
		f.Title, f.Brand, f.Category, f.Gender, f.Price, f.ImageURL,
		f.ProductURL, boolToInt(f.Sold), f.SellerName, f.Size, f.Condition,
		nullableTime(f.ListedAt), f.SortOrder, now.Format(time.RFC3339),
		f.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("update favorite %s: %w", f.ExternalID, err)
	}
	return nil
}

// UpdateEnrichment writes only the enrichment-owned columns. Enrichment runs
// detached and can overlap a later sync; writing the full row here would
// revert volatile fields that sync refreshed after the worklist snapshot.
func (r *FavoriteRepo) UpdateEnrichment(ctx context.Context, f *domain.Favorite) error {
	now := time.Now().UTC()
	f.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
UPDATE favorites
SET category = ?, gender = ?, listed_at = ?, updated_at = ?
WHERE external_id = ?;`,
		f.Category, f.Gender, nullableTime(f.ListedAt),
		now.Format(time.RFC3339), f.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("update enrichment %s: %w", f.ExternalID, err)
	}
	return nil
}

// Save upserts on external_id.
func (r *FavoriteRepo) Save(ctx context.Context, f *domain.Favorite) error {
	existing, err := r.FindByExternalID(ctx, f.ExternalID)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.Insert(ctx, f)
	}
	f.ID = existing.ID
	return r.Update(ctx, f)
}

func (r *FavoriteRepo) ListOrdered(ctx context.Context, filter ListFilter) ([]domain.Favorite, error) {
	var conds []string
	var args []any
	if filter.Brand != "" {
		conds = append(conds, "brand = ? COLLATE NOCASE")
		args = append(args, filter.Brand)
	}
	if filter.Gender != "" {
		conds = append(conds, "gender = ? COLLATE NOCASE")
		args = append(args, filter.Gender)
	}
	if filter.Category != "" {
		conds = append(conds, "category = ? COLLATE NOCASE")
		args = append(args, filter.Category)
	}
	if filter.Sold != nil {
		conds = append(conds, "sold = ?")
		args = append(args, boolToInt(*filter.Sold))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	query := fmt.Sprintf(`
SELECT id, external_id, title, brand, category, gender, price, image_url,
       product_url, sold, seller_name, size, condition, listed_at,
       sort_order, created_at, updated_at
FROM favorites
%s
ORDER BY sort_order ASC;`, where)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Favorite
	for rows.Next() {
		f, err := scanFavorite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// ListNeedingEnrichment returns records whose category or gender is still
// unknown, in listing order.
func (r *FavoriteRepo) ListNeedingEnrichment(ctx context.Context) ([]domain.Favorite, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, external_id, title, brand, category, gender, price, image_url,
       product_url, sold, seller_name, size, condition, listed_at,
       sort_order, created_at, updated_at
FROM favorites
WHERE category = '' OR gender = ''
ORDER BY sort_order ASC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Favorite
	for rows.Next() {
		f, err := scanFavorite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFavorite(s rowScanner) (*domain.Favorite, error) {
	var f domain.Favorite
	var sold int
	var listedAt sql.NullString
	var createdAt, updatedAt string

	if err := s.Scan(
		&f.ID, &f.ExternalID, &f.Title, &f.Brand, &f.Category, &f.Gender,
		&f.Price, &f.ImageURL, &f.ProductURL, &sold, &f.SellerName, &f.Size,
		&f.Condition, &listedAt, &f.SortOrder, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	f.Sold = sold != 0
	if listedAt.Valid && listedAt.String != "" {
		if t, err := time.Parse(time.RFC3339, listedAt.String); err == nil {
			f.ListedAt = &t
		}
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	f.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &f, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
