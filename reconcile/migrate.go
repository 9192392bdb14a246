package reconcile

// migrate.go moves a product to the store of the city the CRM now assigns it to.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rorycl/citycache/db"
)

// MigrateProduct brings the cached copy of a product in line with the CRM. If the
// product is not already in the store of its current city, it is removed from every
// other store, together with its links, and inserted into that city's store with the
// deals and contacts it was linked to. The latest name, description, section and
// offer id are then applied; applied is false when no row changed.
//
// The stores are separate databases, so the move is not atomic: the deletes are
// made before the insert so that the product is never held twice.
func (s *Service) MigrateProduct(ctx context.Context, productID string) (bool, error) {

	remote, err := s.remote.GetProduct(ctx, productID)
	if err != nil {
		return false, &RemoteError{Op: "get product", Err: err}
	}
	field, err := s.remote.PartitionField(ctx)
	if err != nil {
		return false, &RemoteError{Op: "get city field", Err: err}
	}
	valueID, ok := remote.PropertyValue(field.Key)
	if !ok {
		return false, fmt.Errorf("product %s has no value for city field %s", productID, field.Key)
	}
	cityName, ok := field.ValueName(valueID)
	if !ok {
		return false, fmt.Errorf("product %s city value %s is not enumerated by %s", productID, valueID, field.Key)
	}

	target, err := s.registry.Lookup(cityName)
	if err != nil {
		return false, err
	}
	log := s.log.With("product", productID, "city", target.Name)
	row := productRow(*remote, s.placeholder, true)

	exists, err := target.Store.ProductExists(ctx, productID)
	if err != nil {
		return false, &StoreError{City: target.Name, Op: "find product", Err: err}
	}

	if !exists {
		var moved db.Batch
		for _, other := range s.registry.Others(target.Name) {
			bundle, found, err := readBundle(ctx, other.Store, productID)
			if err != nil {
				return false, &StoreError{City: other.Name, Op: "read product bundle", Err: err}
			}
			if !found {
				continue
			}
			if _, err := other.Store.DeleteProduct(ctx, productID); err != nil {
				return false, &StoreError{City: other.Name, Op: "delete product", Err: err}
			}
			log.Info("product removed for migration", "from", other.Name, "deals", len(bundle.Deals))
			if len(moved.Products) == 0 {
				moved.Products = bundle.Products
			}
			moved.Deals = append(moved.Deals, bundle.Deals...)
			moved.Contacts = append(moved.Contacts, bundle.Contacts...)
			moved.Links = append(moved.Links, bundle.Links...)
		}
		if len(moved.Products) == 0 {
			moved.Products = []db.Product{row}
		}
		if _, err := target.Store.WriteBatch(ctx, moved); err != nil {
			return false, &StoreError{City: target.Name, Op: "insert product", Err: err}
		}
		log.Info("product inserted", "deals", len(moved.Deals))
	}

	applied, err := target.Store.UpdateProduct(ctx, row)
	if err != nil {
		return false, &StoreError{City: target.Name, Op: "update product", Err: err}
	}
	return applied, nil
}

// readBundle reads a cached product with the deals it is linked to and their
// contacts.
func readBundle(ctx context.Context, store *db.DB, productID string) (db.Batch, bool, error) {
	product, err := store.Product(ctx, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Batch{}, false, nil
	}
	if err != nil {
		return db.Batch{}, false, err
	}
	deals, err := store.ProductDeals(ctx, productID)
	if err != nil {
		return db.Batch{}, false, err
	}
	bundle := db.Batch{Products: []db.Product{*product}}
	for _, d := range deals {
		bundle.Deals = append(bundle.Deals, d.Deal)
		if d.Contact != nil {
			bundle.Contacts = append(bundle.Contacts, *d.Contact)
		}
		bundle.Links = append(bundle.Links, db.Link{DealID: d.ID, ProductID: productID})
	}
	return bundle, true, nil
}
