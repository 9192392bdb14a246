package reconcile

import "github.com/rorycl/citycache/db"

// RemoteDeal is a fetched deal with the product or offer ids of its line items.
type RemoteDeal struct {
	db.Deal
	ProductRefs []string
}

// Snapshot is the cached state of a partition used to resolve line items and
// contacts not present in a fetched delta.
type Snapshot struct {
	Products []db.Product
	Contacts []db.Contact
}

// Join matches the line items of deals to products and resolves each deal's contact,
// returning the denormalized view of the fetched products and the rows to write.
//
// A line item matches a product when it equals the product's id or its offer id.
// Products are drawn from the fetched products and then the cached ones, with the
// fetched row taking precedence; contacts likewise. Deals are listed per product in
// the order they were fetched. The batch holds every fetched product and contact,
// each deal referenced by at least one product and one link per product and deal
// pair.
func Join(products []db.Product, deals []RemoteDeal, contacts []db.Contact, cached Snapshot) (View, db.Batch) {

	// refs maps a line item reference to the ids of the products it names.
	refs := map[string][]string{}
	known := map[string]bool{}
	addProduct := func(p db.Product) {
		if known[p.ID] {
			return
		}
		known[p.ID] = true
		refs[p.ID] = append(refs[p.ID], p.ID)
		if p.OfferID != nil && *p.OfferID != "" && *p.OfferID != p.ID {
			refs[*p.OfferID] = append(refs[*p.OfferID], p.ID)
		}
	}
	for _, p := range products {
		addProduct(p)
	}
	for _, p := range cached.Products {
		addProduct(p)
	}

	contactByID := map[string]*db.Contact{}
	for _, list := range [][]db.Contact{cached.Contacts, contacts} {
		for i := range list {
			contactByID[list[i].ID] = &list[i]
		}
	}

	var batch db.Batch
	batch.Products = append(batch.Products, products...)
	batch.Contacts = append(batch.Contacts, contacts...)

	dealsByProduct := map[string][]DealView{}
	linked := map[db.Link]bool{}
	for _, d := range deals {
		var contact *db.Contact
		if d.ContactID != nil {
			contact = contactByID[*d.ContactID]
		}
		referenced := false
		for _, ref := range d.ProductRefs {
			for _, productID := range refs[ref] {
				link := db.Link{DealID: d.ID, ProductID: productID}
				if linked[link] {
					continue
				}
				linked[link] = true
				referenced = true
				batch.Links = append(batch.Links, link)
				dealsByProduct[productID] = append(dealsByProduct[productID], dealView(d.Deal, contact))
			}
		}
		if referenced {
			batch.Deals = append(batch.Deals, d.Deal)
		}
	}

	view := make(View, 0, len(products))
	for _, p := range products {
		view = append(view, productView(p, dealsByProduct[p.ID]))
	}
	return view, batch
}
