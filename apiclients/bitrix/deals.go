package bitrix

// deals.go covers crm deals and their product rows.

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// dealFieldKeys are the user field names carrying the configured deal labels.
type dealFieldKeys struct {
	weddingDate string
	prepayment  string
	postpayment string
}

// dealFields finds the deal user fields by label.
func (c *Client) dealFields(ctx context.Context) (dealFieldKeys, error) {
	env, err := call[map[string]fieldDescriptor](ctx, c, "crm.deal.fields", map[string]any{})
	if err != nil {
		return dealFieldKeys{}, err
	}
	var keys dealFieldKeys
	for key, f := range env.Result {
		switch {
		case f.hasLabel(c.opts.DealFields.WeddingDate):
			keys.weddingDate = key
		case f.hasLabel(c.opts.DealFields.Prepayment):
			keys.prepayment = key
		case f.hasLabel(c.opts.DealFields.Postpayment):
			keys.postpayment = key
		}
	}
	if keys.weddingDate == "" {
		c.log.Warn(fmt.Sprintf("no deal field labelled %q", c.opts.DealFields.WeddingDate))
	}
	return keys, nil
}

// ListDealsWithLineItems returns the deals with an id above watermark, or all deals if
// watermark is nil, each with its product rows. Deals in the excluded stage are left
// out.
func (c *Client) ListDealsWithLineItems(ctx context.Context, watermark *int64) ([]Deal, error) {

	keys, err := c.dealFields(ctx)
	if err != nil {
		return nil, err
	}

	filter := map[string]any{}
	if c.opts.ExcludedDealStage != "" {
		filter["!=STAGE_ID"] = c.opts.ExcludedDealStage
	}
	if watermark != nil {
		filter[">ID"] = *watermark
	}
	deals, err := list(ctx, c, "crm.deal.list", map[string]any{
		"select": []string{"*", "UF_*"},
		"filter": filter,
		"order":  map[string]string{"ID": "ASC"},
	}, itself[Deal])
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.LineItemWorkers)
	for i := range deals {
		deals[i].WeddingDate = deals[i].userField(keys.weddingDate)
		deals[i].Prepayment = deals[i].userField(keys.prepayment)
		deals[i].Postpayment = deals[i].userField(keys.postpayment)

		g.Go(func() error {
			rows, err := c.DealLineItems(gctx, string(deals[i].ID))
			if err != nil {
				return fmt.Errorf("deal %s product rows: %w", deals[i].ID, err)
			}
			deals[i].LineItems = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.log.Info(fmt.Sprintf("ListDealsWithLineItems: retrieved %d deals", len(deals)))
	return deals, nil
}

// DealLineItems returns the product rows of a deal.
func (c *Client) DealLineItems(ctx context.Context, dealID string) ([]LineItem, error) {
	env, err := call[[]LineItem](ctx, c, "crm.deal.productrows.get", map[string]any{"id": dealID})
	if err != nil {
		return nil, err
	}
	return env.Result, nil
}

// CreateDeal adds a deal, returning its id. The wedding date and payment amounts are
// written to the user fields carrying the configured labels.
func (c *Client) CreateDeal(ctx context.Context, d DealFields) (ID, error) {

	keys, err := c.dealFields(ctx)
	if err != nil {
		return "", err
	}

	fields := map[string]any{
		"TITLE":       d.Title,
		"CATEGORY_ID": d.CategoryID,
	}
	optional := map[string]string{
		"CONTACT_ID":     d.ContactID,
		"BEGINDATE":      d.BeginDate,
		"CLOSEDATE":      d.CloseDate,
		keys.weddingDate: d.WeddingDate,
		keys.prepayment:  d.Prepayment,
		keys.postpayment: d.Postpayment,
	}
	for k, v := range optional {
		if k != "" && v != "" {
			fields[k] = v
		}
	}

	env, err := call[ID](ctx, c, "crm.deal.add", map[string]any{"fields": fields})
	if err != nil {
		return "", err
	}
	if env.Result == "" {
		return "", fmt.Errorf("crm.deal.add returned no id")
	}
	c.log.Info(fmt.Sprintf("CreateDeal: created deal %s", env.Result))
	return env.Result, nil
}

// SetDealLineItems replaces the product rows of a deal.
func (c *Client) SetDealLineItems(ctx context.Context, dealID string, rows []LineItem) (bool, error) {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		row := map[string]any{"PRODUCT_ID": r.ProductID}
		if r.Quantity != "" {
			row["QUANTITY"] = r.Quantity
		}
		if r.StoreID != nil {
			row["STORE_ID"] = *r.StoreID
		}
		out[i] = row
	}
	env, err := call[bool](ctx, c, "crm.deal.productrows.set", map[string]any{
		"id":   dealID,
		"rows": out,
	})
	if err != nil {
		return false, err
	}
	return env.Result, nil
}

// UpdateDealAmount sets the opportunity amount of a deal.
func (c *Client) UpdateDealAmount(ctx context.Context, dealID string, amount float64) (bool, error) {
	env, err := call[bool](ctx, c, "crm.deal.update", map[string]any{
		"id":     dealID,
		"fields": map[string]any{"OPPORTUNITY": amount},
	})
	if err != nil {
		return false, err
	}
	return env.Result, nil
}
