package reconcile

// records.go creates contacts and deals in the CRM and records them in a city's
// store.

import (
	"context"
	"strconv"

	"github.com/rorycl/citycache/apiclients/bitrix"
	"github.com/rorycl/citycache/db"
)

// NewDealStage is the stage recorded for deals created through the service.
const NewDealStage = "NEW"

// NewDeal is a deal to be created in the CRM and recorded in a city's store.
type NewDeal struct {
	bitrix.DealFields
	Opportunity float64
}

// UpsertContact creates a contact in the CRM and records it in the store of city.
func (s *Service) UpsertContact(ctx context.Context, city string, fields bitrix.ContactFields) (*db.Contact, error) {
	p, err := s.registry.Lookup(city)
	if err != nil {
		return nil, err
	}

	id, err := s.remote.CreateContact(ctx, fields)
	if err != nil {
		return nil, &RemoteError{Op: "create contact", Err: err}
	}

	contact := db.Contact{
		ID:       string(id),
		Name:     fields.Name,
		LastName: strPtr(fields.LastName),
		Phone:    strPtr(fields.Phone),
	}
	if _, err := p.Store.WriteBatch(ctx, db.Batch{Contacts: []db.Contact{contact}}); err != nil {
		return nil, &StoreError{City: p.Name, Op: "record contact", Err: err}
	}
	s.log.Info("contact created", "city", p.Name, "contact", contact.ID)
	return &contact, nil
}

// RecordDeal creates a deal with the given line items in the CRM and records it in
// the store of city, linked to the cached products the line items name. The deal
// amount is set once the line items are accepted; applied is false when the CRM
// did not accept the line items or the amount, or the amount update failed.
func (s *Service) RecordDeal(ctx context.Context, city string, deal NewDeal, items []bitrix.LineItem) (*db.Deal, bool, error) {
	p, err := s.registry.Lookup(city)
	if err != nil {
		return nil, false, err
	}
	log := s.log.With("city", p.Name)

	id, err := s.remote.CreateDeal(ctx, deal.DealFields)
	if err != nil {
		return nil, false, &RemoteError{Op: "create deal", Err: err}
	}
	dealID := string(id)

	itemsSet := false
	if len(items) > 0 {
		itemsSet, err = s.remote.SetDealLineItems(ctx, dealID, items)
		if err != nil {
			return nil, false, &RemoteError{Op: "set deal line items", Err: err}
		}
	}

	row := RemoteDeal{
		Deal: db.Deal{
			ID:          dealID,
			Title:       deal.Title,
			ContactID:   strPtr(deal.ContactID),
			BeginDate:   strPtr(deal.BeginDate),
			CloseDate:   strPtr(deal.CloseDate),
			WeddingDate: strPtr(deal.WeddingDate),
			StageID:     NewDealStage,
			Prepayment:  strPtr(deal.Prepayment),
			Postpayment: strPtr(deal.Postpayment),
			Opportunity: strPtr(strconv.FormatFloat(deal.Opportunity, 'f', -1, 64)),
		},
	}
	for _, li := range items {
		row.ProductRefs = append(row.ProductRefs, string(li.ProductID))
	}

	products, err := p.Store.Products(ctx)
	if err != nil {
		return nil, false, &StoreError{City: p.Name, Op: "read products", Err: err}
	}
	_, batch := Join(nil, []RemoteDeal{row}, nil, Snapshot{Products: products})
	if len(batch.Deals) == 0 {
		batch.Deals = []db.Deal{row.Deal}
	}
	if got, want := len(batch.Links), len(row.ProductRefs); got < want {
		log.Warn("deal line items not found in cache", "deal", dealID, "linked", got, "items", want)
	}
	if _, err := p.Store.WriteBatch(ctx, batch); err != nil {
		return nil, false, &StoreError{City: p.Name, Op: "record deal", Err: err}
	}

	if !itemsSet {
		log.Warn("deal line items not set", "deal", dealID)
		return &row.Deal, false, nil
	}
	// The deal is already created and cached here.
	applied, err := s.remote.UpdateDealAmount(ctx, dealID, deal.Opportunity)
	if err != nil {
		log.Warn("deal amount not set", "deal", dealID, "error", &RemoteError{Op: "update deal amount", Err: err})
		return &row.Deal, false, nil
	}
	log.Info("deal created", "deal", dealID, "amount_set", applied)
	return &row.Deal, applied, nil
}
