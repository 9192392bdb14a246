package bitrix

// products.go covers crm products, the city property and catalog offers.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCity is returned when a city is not among the values of the city
// property.
var ErrUnknownCity = errors.New("city not found in product city field")

// PartitionField returns the product list property naming the city of a product,
// found by its title.
func (c *Client) PartitionField(ctx context.Context) (PartitionField, error) {
	env, err := call[map[string]fieldDescriptor](ctx, c, "crm.product.fields", map[string]any{})
	if err != nil {
		return PartitionField{}, err
	}
	for key, f := range env.Result {
		if !strings.EqualFold(strings.TrimSpace(f.Title), c.opts.CityFieldTitle) {
			continue
		}
		values, err := f.values()
		if err != nil {
			return PartitionField{}, fmt.Errorf("city field %s: %w", key, err)
		}
		return PartitionField{Key: key, Values: values}, nil
	}
	return PartitionField{}, fmt.Errorf("no product field titled %q", c.opts.CityFieldTitle)
}

// Cities returns the city names enumerated by the city property.
func (c *Client) Cities(ctx context.Context) ([]string, error) {
	field, err := c.PartitionField(ctx)
	if err != nil {
		return nil, err
	}
	return field.Names(), nil
}

// ListProductsSince returns the products of a city with an id above watermark, or all
// of the city's products if watermark is nil. Products with a trade offer have OfferID
// set.
func (c *Client) ListProductsSince(ctx context.Context, watermark *int64, city string) ([]Product, error) {

	field, err := c.PartitionField(ctx)
	if err != nil {
		return nil, err
	}
	valueID, ok := field.ValueID(city)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCity, city)
	}

	filter := map[string]any{
		field.Key: valueID,
	}
	if watermark != nil {
		filter[">ID"] = *watermark
	}
	products, err := list(ctx, c, "crm.product.list", map[string]any{
		"select": []string{"*", "PROPERTY_*"},
		"filter": filter,
		"order":  map[string]string{"ID": "ASC"},
	}, itself[Product])
	if err != nil {
		return nil, err
	}

	if err := c.attachOffers(ctx, products, watermark); err != nil {
		return nil, err
	}

	c.log.Info(fmt.Sprintf("ListProductsSince: retrieved %d products for %s", len(products), city))
	return products, nil
}

// attachOffers sets the OfferID of products having a trade offer. Portals without an
// offers catalog are left unchanged.
func (c *Client) attachOffers(ctx context.Context, products []Product, watermark *int64) error {
	if len(products) == 0 {
		return nil
	}
	catalogID, err := c.OffersCatalogID(ctx)
	if err != nil {
		return err
	}
	if catalogID == "" {
		return nil
	}
	offers, err := c.ListOffers(ctx, catalogID, watermark)
	if err != nil {
		return err
	}
	byParent := map[string]ID{}
	for _, o := range offers {
		if _, seen := byParent[string(o.ParentID)]; !seen && o.ParentID != "" {
			byParent[string(o.ParentID)] = o.ID
		}
	}
	for i := range products {
		if id, ok := byParent[string(products[i].ID)]; ok {
			products[i].OfferID = &id
		}
	}
	return nil
}

// OffersCatalogID returns the id of the first catalog holding trade offers, or "" if
// there is none.
func (c *Client) OffersCatalogID(ctx context.Context) (ID, error) {
	env, err := call[struct {
		Catalogs []Catalog `json:"catalogs"`
	}](ctx, c, "catalog.catalog.list", map[string]any{
		"select": []string{"*"},
	})
	if err != nil {
		return "", err
	}
	for _, cat := range env.Result.Catalogs {
		id := cat.ID
		if id == "" {
			id = cat.IblockID
		}
		isOffers, err := call[bool](ctx, c, "catalog.catalog.isOffers", map[string]any{"id": id})
		if err != nil {
			return "", err
		}
		if isOffers.Result {
			return id, nil
		}
	}
	return "", nil
}

// ListOffers returns the trade offers of a catalog, limited to parents above
// watermark when it is not nil.
func (c *Client) ListOffers(ctx context.Context, catalogID ID, watermark *int64) ([]Offer, error) {
	filter := map[string]any{
		"iblockId": catalogID,
	}
	if watermark != nil {
		filter[">parentId"] = *watermark
	}
	type offersPage struct {
		Offers []Offer `json:"offers"`
	}
	return list(ctx, c, "catalog.product.offer.list", map[string]any{
		"select": []string{"id", "iblockId", "parentId", "quantity"},
		"filter": filter,
	}, func(p offersPage) []Offer { return p.Offers })
}

// GetProduct returns a single product. The OfferID is set when the product has a
// trade offer.
func (c *Client) GetProduct(ctx context.Context, productID string) (*Product, error) {
	env, err := call[*Product](ctx, c, "crm.product.get", map[string]any{"id": productID})
	if err != nil {
		return nil, err
	}
	if env.Result == nil || env.Result.ID == "" {
		return nil, fmt.Errorf("product %s not found", productID)
	}
	product := env.Result

	catalogID, err := c.OffersCatalogID(ctx)
	if err != nil {
		return nil, err
	}
	if catalogID != "" {
		type offersPage struct {
			Offers []Offer `json:"offers"`
		}
		offers, err := list(ctx, c, "catalog.product.offer.list", map[string]any{
			"select": []string{"id", "iblockId", "parentId"},
			"filter": map[string]any{"iblockId": catalogID, "parentId": productID},
		}, func(p offersPage) []Offer { return p.Offers })
		if err != nil {
			return nil, err
		}
		if len(offers) > 0 {
			product.OfferID = &offers[0].ID
		}
	}
	return product, nil
}

// Sections returns the product catalog sections.
func (c *Client) Sections(ctx context.Context) ([]Section, error) {
	return list(ctx, c, "crm.productsection.list", map[string]any{
		"select": []string{"ID", "CATALOG_ID", "NAME"},
	}, itself[Section])
}
