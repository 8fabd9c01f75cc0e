package shopify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"backend/internal/config"
)

// Order is the normalized shape the sync pipeline works with. Amounts are
// parsed up front so downstream stages never see money-as-string.
type Order struct {
	ID         string
	Number     string
	Email      string
	CreatedAt  time.Time
	TotalPrice float64
	Currency   string
	LineItems  []LineItem
}

type LineItem struct {
	ID               string
	Title            string
	Quantity         int
	UnitPrice        float64
	ProductID        string
	VariantID        string
	CustomAttributes map[string]string
}

type money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type orderNode struct {
	Id            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	CreatedAt     string `json:"createdAt"`
	TotalPriceSet struct {
		ShopMoney money `json:"shopMoney"`
	} `json:"totalPriceSet"`
	LineItems struct {
		Edges []struct {
			Node lineItemNode `json:"node"`
		} `json:"edges"`
	} `json:"lineItems"`
}

type lineItemNode struct {
	Id                   string `json:"id"`
	Title                string `json:"title"`
	Quantity             int    `json:"quantity"`
	OriginalUnitPriceSet struct {
		ShopMoney money `json:"shopMoney"`
	} `json:"originalUnitPriceSet"`
	Product *struct {
		Id string `json:"id"`
	} `json:"product"`
	Variant *struct {
		Id string `json:"id"`
	} `json:"variant"`
	CustomAttributes []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"customAttributes"`
}

type ordersPage struct {
	Orders struct {
		Edges []struct {
			Cursor string    `json:"cursor"`
			Node   orderNode `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool `json:"hasNextPage"`
		} `json:"pageInfo"`
	} `json:"orders"`
}

const ordersQuery = `
query TryOnOrders($first: Int!, $after: String, $q: String!) {
  orders(first: $first, after: $after, query: $q) {
    edges {
      cursor
      node {
        id
        name
        email
        createdAt
        totalPriceSet { shopMoney { amount currencyCode } }
        lineItems(first: 100) {
          edges {
            node {
              id
              title
              quantity
              originalUnitPriceSet { shopMoney { amount currencyCode } }
              product { id }
              variant { id }
              customAttributes { key value }
            }
          }
        }
      }
    }
    pageInfo { hasNextPage }
  }
}`

// OrderFetcher pages through the Admin orders query and materializes the
// normalized order list. Pagination is strictly sequential; the only
// adaptive behavior is a fixed cool-down retry on rate limiting.
type OrderFetcher struct {
	Client *Client
	Cfg    config.SyncConfig
	Log    *zap.Logger

	sleep func(time.Duration)
}

func NewOrderFetcher(client *Client, cfg config.SyncConfig, log *zap.Logger) *OrderFetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderFetcher{Client: client, Cfg: cfg, Log: log, sleep: time.Sleep}
}

// FetchOrders returns every order created at or after createdAtMin, across
// as many pages as the safety cap allows.
func (f *OrderFetcher) FetchOrders(ctx context.Context, sess Session, createdAtMin time.Time) ([]Order, error) {
	q := fmt.Sprintf("created_at:>=%s", createdAtMin.UTC().Format(time.RFC3339))

	var (
		out     []Order
		cursor  *string
		hasMore = true
	)

	for page := 0; hasMore && page < f.Cfg.MaxPages; page++ {
		if page > 0 {
			f.sleep(f.Cfg.PageDelay)
		}

		resp, err := f.fetchPage(ctx, sess, q, cursor)
		if err != nil {
			return nil, err
		}

		edges := resp.Data.Orders.Edges
		if len(edges) == 0 {
			break
		}

		for _, e := range edges {
			o, err := normalizeOrder(e.Node)
			if err != nil {
				return nil, err
			}
			out = append(out, o)
		}

		c := edges[len(edges)-1].Cursor
		cursor = &c
		hasMore = resp.Data.Orders.PageInfo.HasNextPage
	}

	return out, nil
}

// fetchPage runs one GraphQL call under the retry policy: rate limiting gets
// a fixed cool-down and another attempt, anything else fails immediately.
// A 2xx response carrying a GraphQL error list is a failure and is not
// retried.
func (f *OrderFetcher) fetchPage(ctx context.Context, sess Session, q string, after *string) (*GraphQLResponse[ordersPage], error) {
	vars := map[string]any{
		"first": f.Cfg.PageSize,
		"after": after,
		"q":     q,
	}

	for attempt := 1; ; attempt++ {
		resp, status, err := PostGraphQL[ordersPage](ctx, f.Client, sess, ordersQuery, vars)

		if status == http.StatusTooManyRequests {
			if attempt >= f.Cfg.MaxAttempts {
				return nil, fmt.Errorf("shopify rate limited after %d attempts", attempt)
			}
			f.Log.Warn("shopify rate limited, cooling down",
				zap.String("shop", sess.ShopDomain),
				zap.Int("attempt", attempt))
			f.sleep(f.Cfg.RetryCooldown)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("shopify orders request: %w", err)
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("shopify orders request: status %d", status)
		}
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("shopify graphql errors: %s", JoinErrors(resp.Errors))
		}
		return resp, nil
	}
}

func normalizeOrder(n orderNode) (Order, error) {
	createdAt, err := time.Parse(time.RFC3339, n.CreatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("order %s: bad createdAt %q: %w", n.Id, n.CreatedAt, err)
	}
	total, err := strconv.ParseFloat(n.TotalPriceSet.ShopMoney.Amount, 64)
	if err != nil {
		return Order{}, fmt.Errorf("order %s: bad total price %q: %w", n.Id, n.TotalPriceSet.ShopMoney.Amount, err)
	}

	items := make([]LineItem, 0, len(n.LineItems.Edges))
	for _, le := range n.LineItems.Edges {
		li := le.Node

		unit := 0.0
		if li.OriginalUnitPriceSet.ShopMoney.Amount != "" {
			unit, err = strconv.ParseFloat(li.OriginalUnitPriceSet.ShopMoney.Amount, 64)
			if err != nil {
				return Order{}, fmt.Errorf("order %s line %s: bad unit price: %w", n.Id, li.Id, err)
			}
		}

		attrs := make(map[string]string, len(li.CustomAttributes))
		for _, a := range li.CustomAttributes {
			attrs[a.Key] = a.Value
		}

		item := LineItem{
			ID:               li.Id,
			Title:            li.Title,
			Quantity:         li.Quantity,
			UnitPrice:        unit,
			CustomAttributes: attrs,
		}
		if li.Product != nil {
			item.ProductID = li.Product.Id
		}
		if li.Variant != nil {
			item.VariantID = li.Variant.Id
		}
		items = append(items, item)
	}

	return Order{
		ID:         n.Id,
		Number:     n.Name,
		Email:      n.Email,
		CreatedAt:  createdAt.UTC(),
		TotalPrice: total,
		Currency:   n.TotalPriceSet.ShopMoney.CurrencyCode,
		LineItems:  items,
	}, nil
}
