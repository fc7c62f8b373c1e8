package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PricePoint is one recorded price observation.
type PricePoint struct {
	Product    string
	Price      float64
	Currency   string
	ObservedAt time.Time
}

// PriceReader is the storage view the price tracker needs. The SQL store
// implements it.
type PriceReader interface {
	LatestPrices(ctx context.Context, contextID, product string, n int) ([]PricePoint, error)
}

// PriceTrackerTool reports recent recorded prices for a tracked product.
type PriceTrackerTool struct {
	prices PriceReader
}

type priceTrackerArgs struct {
	Product string `json:"product" jsonschema:"required,description=Tracked product name"`
	Count   int    `json:"count,omitempty" jsonschema:"description=How many recent observations to return (default 3)"`
}

func NewPriceTrackerTool(prices PriceReader) *PriceTrackerTool {
	return &PriceTrackerTool{prices: prices}
}

func (t *PriceTrackerTool) Info() ToolInfo {
	return ToolInfo{
		Name:         "price_tracker",
		Description:  "Look up the most recent recorded prices for a tracked product.",
		Parameters:   SchemaFor(&priceTrackerArgs{}),
		ActivityHint: "Checking prices for {product}",
	}
}

func (t *PriceTrackerTool) Execute(ctx context.Context, args map[string]any, ambient *Ambient) (string, error) {
	if t.prices == nil {
		return ErrorResult("price tracking is not configured"), nil
	}

	product, _ := args["product"].(string)
	if product == "" {
		return ErrorResult("product parameter is required"), nil
	}

	count, ok := numericArg(args, "count")
	if !ok || count <= 0 {
		count = 3
	}

	contextID := ""
	if ambient != nil {
		contextID = ambient.ContextID
	}

	points, err := t.prices.LatestPrices(ctx, contextID, product, count)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return ErrorResult("price lookup failed: %v", err), nil
	}
	if len(points) == 0 {
		return fmt.Sprintf("No recorded prices for %q.", product), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Latest %d prices for %s:\n", len(points), product)
	for _, p := range points {
		fmt.Fprintf(&b, "- %s: %.2f %s\n", p.ObservedAt.Format("2006-01-02 15:04"), p.Price, p.Currency)
	}
	return b.String(), nil
}
