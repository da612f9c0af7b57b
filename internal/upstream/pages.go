package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vintedfav-engine/internal/session"
)

// listingKeys are the top-level keys the listing endpoint has been seen to
// put its item array under, across upstream revisions.
var listingKeys = []string{"items", "favourite_items", "item_favourites"}

// PageFetcher walks the favourites listing until a short page signals the
// end.
type PageFetcher struct {
	client   *Client
	tokens   *session.TokenManager
	userID   string
	pageSize int
	log      *zap.Logger
}

func NewPageFetcher(client *Client, tokens *session.TokenManager, userID string, pageSize int, log *zap.Logger) *PageFetcher {
	return &PageFetcher{
		client:   client,
		tokens:   tokens,
		userID:   userID,
		pageSize: pageSize,
		log:      log,
	}
}

// FetchAll pages through the listing iteratively, accumulating raw items.
// Stops on the first page shorter than the requested size.
func (f *PageFetcher) FetchAll(ctx context.Context) ([]map[string]any, error) {
	if f.userID == "" {
		return nil, ErrNoUserID
	}

	var all []map[string]any
	for page := 1; ; page++ {
		items, err := f.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		f.log.Info("favourites page fetched",
			zap.Int("page", page), zap.Int("items", len(items)))

		if len(items) < f.pageSize {
			return all, nil
		}
	}
}

func (f *PageFetcher) fetchPage(ctx context.Context, page int) ([]map[string]any, error) {
	if err := f.tokens.EnsureValid(ctx); err != nil && !errors.Is(err, session.ErrRefreshInFlight) {
		f.log.Warn("token refresh before page fetch failed", zap.Error(err))
	}

	path := fmt.Sprintf("/api/v2/users/%s/items/favourites?page=%d&per_page=%d",
		f.userID, page, f.pageSize)

	outcome, err := f.client.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	switch outcome.Kind {
	case Success:
		return parseListing(outcome.Body)
	case AuthExpired:
		return nil, ErrAuthExpired
	case RateLimited:
		return nil, ErrRateLimited
	case NotFound:
		// listing gone means the user id is wrong
		return nil, ErrNoUserID
	default:
		return nil, &Error{Status: outcome.Status, Body: outcome.Body}
	}
}

// parseListing handles the shape drift documented for the listing endpoint:
// the array moves between top-level keys and elements may wrap the payload
// in an inner "item" object.
func parseListing(body []byte) ([]map[string]any, error) {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	var arr []any
	for _, key := range listingKeys {
		if v, ok := root[key].([]any); ok {
			arr = v
			break
		}
	}

	items := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		wrapper, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if inner, ok := wrapper["item"].(map[string]any); ok {
			items = append(items, inner)
			continue
		}
		items = append(items, wrapper)
	}
	return items, nil
}

// FetchItemDetail fetches the JSON detail endpoint for one item. The body
// nests the item under "item"; any other shape is treated as not found.
func (f *PageFetcher) FetchItemDetail(ctx context.Context, externalID string) (map[string]any, Outcome, error) {
	path := "/api/v2/items/" + externalID
	headers := map[string]string{"Referer": f.client.baseURL + "/items/" + externalID}

	outcome, err := f.client.Get(ctx, path, headers)
	if err != nil || outcome.Kind != Success {
		return nil, outcome, err
	}

	var root map[string]any
	if err := json.Unmarshal(outcome.Body, &root); err != nil {
		return nil, Outcome{Kind: NotFound, Status: outcome.Status}, nil
	}
	item, ok := root["item"].(map[string]any)
	if !ok {
		return nil, Outcome{Kind: NotFound, Status: outcome.Status}, nil
	}
	return item, outcome, nil
}

// FetchItemHTML fetches the user-facing item page, for scraping when the
// JSON endpoint is blocked.
func (f *PageFetcher) FetchItemHTML(ctx context.Context, externalID string) (Outcome, error) {
	headers := map[string]string{
		"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	}
	return f.client.Get(ctx, "/items/"+externalID, headers)
}
