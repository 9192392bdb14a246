package reconcile

// delete.go removes rows from the stores. Deletes by id alone are applied to every
// city, as the caller need not know where a row is cached.

import (
	"context"
	"errors"

	"github.com/rorycl/citycache/db"
)

// DeleteDeal removes a deal and its links from the store of city.
func (s *Service) DeleteDeal(ctx context.Context, dealID, city string) (bool, error) {
	p, err := s.registry.Lookup(city)
	if err != nil {
		return false, err
	}
	deleted, err := p.Store.DeleteDeal(ctx, dealID)
	if err != nil {
		return false, &StoreError{City: p.Name, Op: "delete deal", Err: err}
	}
	s.log.Info("deal delete", "city", p.Name, "deal", dealID, "deleted", deleted)
	return deleted, nil
}

// DeleteDealEverywhere removes a deal and its links from every store.
func (s *Service) DeleteDealEverywhere(ctx context.Context, dealID string) (bool, error) {
	return s.everywhere(ctx, "delete deal", dealID, (*db.DB).DeleteDeal)
}

// DeleteProduct removes a product and its links from every store.
func (s *Service) DeleteProduct(ctx context.Context, productID string) (bool, error) {
	return s.everywhere(ctx, "delete product", productID, (*db.DB).DeleteProduct)
}

// DeleteContact removes a contact from every store.
func (s *Service) DeleteContact(ctx context.Context, contactID string) (bool, error) {
	return s.everywhere(ctx, "delete contact", contactID, (*db.DB).DeleteContact)
}

// everywhere applies a delete to every store, reporting whether any row was
// removed. A failing store does not stop the others.
func (s *Service) everywhere(ctx context.Context, op, id string, del func(*db.DB, context.Context, string) (bool, error)) (bool, error) {
	var (
		deleted bool
		errs    []error
	)
	for _, p := range s.registry.All() {
		ok, err := del(p.Store, ctx, id)
		if err != nil {
			errs = append(errs, &StoreError{City: p.Name, Op: op, Err: err})
			continue
		}
		if ok {
			s.log.Info(op, "city", p.Name, "id", id)
		}
		deleted = deleted || ok
	}
	return deleted, errors.Join(errs...)
}
