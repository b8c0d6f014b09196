package order

import (
	"context"
	"fmt"
)

// Trade is the freshly fetched trade detail for one upstream transaction,
// already lifted out of the platform-specific envelope by pkg/upstream.
type Trade struct {
	FromPlatform Platform
	Tid          string
	SellerID     string
	SellerNick   string
	Payment      string
	Status       string
	Items        []Item
}

// SkuResolver looks a SKU up in the mapping table. registered is false when
// the SKU is not ours at all; a registered SKU whose mapping value is
// unusable resolves to TargetPartnerUnmapped.
type SkuResolver func(ctx context.Context, skuID string) (partner TargetPartner, registered bool, err error)

// Normalize converts a trade into canonical orders, one per line item whose
// SKU is registered in the mapping table. webhookStatus is authoritative:
// when it disagrees with the fetched trade status it overwrites it before
// normalization. An empty result with a nil error means the trade carries
// no product of ours and must be acknowledged as a no-op, not rejected.
func Normalize(ctx context.Context, t *Trade, webhookStatus string, resolve SkuResolver) ([]Order, error) {
	status := t.Status
	if webhookStatus != "" && webhookStatus != status {
		status = webhookStatus
	}

	var out []Order
	for _, item := range t.Items {
		partner, registered, err := resolve(ctx, item.SkuID)
		if err != nil {
			return nil, fmt.Errorf("resolve sku %q: %w", item.SkuID, err)
		}
		if !registered {
			continue
		}
		out = append(out, Order{
			FromPlatform: t.FromPlatform,
			Tid:          t.Tid,
			SellerID:     t.SellerID,
			SellerNick:   t.SellerNick,
			Payment:      t.Payment,
			Status:       status,
			Target:       partner,
			Items:        []Item{item},
		})
	}
	return out, nil
}
