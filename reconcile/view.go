package reconcile

import "github.com/rorycl/citycache/db"

// ContactView is the contact embedded in a deal of the denormalized view.
type ContactView struct {
	ID       string  `json:"ID"`
	Name     string  `json:"NAME"`
	LastName *string `json:"LAST_NAME"`
	Phone    *string `json:"PHONE"`
}

// DealView is a deal in which a product is a line item. Contact is nil when the
// deal's contact could not be resolved.
type DealView struct {
	ID          string       `json:"ID"`
	Title       string       `json:"TITLE"`
	ContactID   *string      `json:"CONTACT_ID"`
	Contact     *ContactView `json:"CONTACT"`
	BeginDate   *string      `json:"BEGINDATE"`
	CloseDate   *string      `json:"CLOSEDATE"`
	StageID     string       `json:"STAGE_ID"`
	WeddingDate *string      `json:"WEDDING_DATE"`
	Prepayment  *string      `json:"PREPAYMENT"`
	Postpayment *string      `json:"POSTPAYMENT"`
	Opportunity *string      `json:"OPPORTUNITY"`
}

// ProductView is a product with its deals embedded.
type ProductView struct {
	ID          string     `json:"ID"`
	OfferID     *string    `json:"OFFER_ID,omitempty"`
	Name        string     `json:"NAME"`
	Description string     `json:"DESCRIPTION"`
	Quantity    int64      `json:"QUANTITY"`
	SectionID   *string    `json:"SECTION_ID"`
	Deals       []DealView `json:"deals"`
}

// View is the denormalized product list returned to callers.
type View []ProductView

func contactView(c *db.Contact) *ContactView {
	if c == nil {
		return nil
	}
	return &ContactView{
		ID:       c.ID,
		Name:     c.Name,
		LastName: c.LastName,
		Phone:    c.Phone,
	}
}

func dealView(d db.Deal, c *db.Contact) DealView {
	return DealView{
		ID:          d.ID,
		Title:       d.Title,
		ContactID:   d.ContactID,
		Contact:     contactView(c),
		BeginDate:   d.BeginDate,
		CloseDate:   d.CloseDate,
		StageID:     d.StageID,
		WeddingDate: d.WeddingDate,
		Prepayment:  d.Prepayment,
		Postpayment: d.Postpayment,
		Opportunity: d.Opportunity,
	}
}

func productView(p db.Product, deals []DealView) ProductView {
	if deals == nil {
		deals = []DealView{}
	}
	return ProductView{
		ID:          p.ID,
		OfferID:     p.OfferID,
		Name:        p.Name,
		Description: p.Description,
		Quantity:    p.Quantity,
		SectionID:   p.SectionID,
		Deals:       deals,
	}
}

// catalogView converts the wide rows catalog of a store into a View.
func catalogView(entries []db.CatalogEntry) View {
	view := make(View, 0, len(entries))
	for _, e := range entries {
		deals := make([]DealView, 0, len(e.Deals))
		for _, d := range e.Deals {
			deals = append(deals, dealView(d.Deal, d.Contact))
		}
		view = append(view, productView(e.Product, deals))
	}
	return view
}

// unresolved returns the ids of deals in the view whose contact did not resolve.
func (v View) unresolved() []string {
	seen := map[string]bool{}
	var ids []string
	for _, p := range v {
		for _, d := range p.Deals {
			if d.ContactID != nil && d.Contact == nil && !seen[d.ID] {
				seen[d.ID] = true
				ids = append(ids, d.ID)
			}
		}
	}
	return ids
}
