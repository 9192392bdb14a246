package bitrix

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// envelope is the common Bitrix24 REST response. List methods set Next when a
// further page exists, holding the start offset of that page.
type envelope[R any] struct {
	Result           R      `json:"result"`
	Next             *int   `json:"next"`
	Total            int    `json:"total"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// scalarString decodes a JSON string, number or boolean into its text form. A null
// is reported with ok false.
func scalarString(b []byte) (s string, ok bool, err error) {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		return "", false, nil
	case b[0] == '"':
		err = json.Unmarshal(b, &s)
		return s, err == nil, err
	case bytes.Equal(b, []byte("true")), bytes.Equal(b, []byte("false")):
		return string(b), true, nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return "", false, fmt.Errorf("value %s is not a scalar: %w", b, err)
		}
		return n.String(), true, nil
	}
}

// ID is a Bitrix24 identifier. The API returns identifiers as either JSON strings or
// numbers.
type ID string

// UnmarshalJSON accepts a string, number or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	s, _, err := scalarString(b)
	if err != nil {
		return err
	}
	*id = ID(s)
	return nil
}

// Int64 returns the numeric form of the id.
func (id ID) Int64() (int64, error) {
	return strconv.ParseInt(string(id), 10, 64)
}

func (id ID) String() string { return string(id) }

// Text is a scalar value decoded into text, as the API mixes strings and numbers for
// the same fields.
type Text string

// UnmarshalJSON accepts a string, number, boolean or null.
func (t *Text) UnmarshalJSON(b []byte) error {
	s, _, err := scalarString(b)
	if err != nil {
		return err
	}
	*t = Text(s)
	return nil
}

// Ptr returns nil for an empty value, otherwise a pointer to the string.
func (t *Text) Ptr() *string {
	if t == nil || *t == "" {
		return nil
	}
	s := string(*t)
	return &s
}

// Product is a crm catalog product. Properties holds the PROPERTY_* values keyed by
// property name.
type Product struct {
	ID          ID    `json:"ID"`
	Name        Text  `json:"NAME"`
	Description *Text `json:"DESCRIPTION"`
	SectionID   *ID   `json:"SECTION_ID"`

	// OfferID is the id of the trade offer (SKU) of the product, when the catalog has
	// one. It is not part of the product record.
	OfferID *ID `json:"-"`

	Properties map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the standard fields and collects the PROPERTY_* fields.
func (p *Product) UnmarshalJSON(b []byte) error {
	type alias Product
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a.Properties = map[string]json.RawMessage{}
	for k, v := range raw {
		if strings.HasPrefix(k, "PROPERTY_") || strings.HasPrefix(k, "UF_") {
			a.Properties[k] = v
		}
	}
	*p = Product(a)
	return nil
}

// PropertyValue returns the first value of a product property. Properties arrive as
// {"valueId": .., "value": ..}, a list of such objects, or a bare scalar.
func (p Product) PropertyValue(key string) (string, bool) {
	raw, ok := p.Properties[key]
	if !ok {
		return "", false
	}
	return propertyValue(raw)
}

func propertyValue(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
			return "", false
		}
		return propertyValue(list[0])
	case '{':
		var obj struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", false
		}
		return propertyValue(obj.Value)
	}
	s, ok, err := scalarString(raw)
	if err != nil || !ok {
		return "", false
	}
	return s, true
}

// FieldValue is one enumerated value of a list field.
type FieldValue struct {
	ID    ID   `json:"ID"`
	Value Text `json:"VALUE"`
}

// fieldDescriptor describes an entity field as returned by the *.fields methods.
type fieldDescriptor struct {
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	ListLabel   *Text           `json:"listLabel"`
	FormLabel   *Text           `json:"formLabel"`
	FilterLabel *Text           `json:"filterLabel"`
	Values      json.RawMessage `json:"values"`
	Items       []FieldValue    `json:"items"`
}

// hasLabel reports whether any of the field's labels equals label.
func (f fieldDescriptor) hasLabel(label string) bool {
	if label == "" {
		return false
	}
	for _, l := range []*Text{f.ListLabel, f.FormLabel, f.FilterLabel} {
		if l != nil && strings.EqualFold(strings.TrimSpace(string(*l)), label) {
			return true
		}
	}
	return strings.EqualFold(strings.TrimSpace(f.Title), label)
}

// values returns the enumerated values of the field. Product properties send an
// object keyed by value id, user fields a list of items.
func (f fieldDescriptor) values() ([]FieldValue, error) {
	if len(f.Items) > 0 {
		return f.Items, nil
	}
	v := bytes.TrimSpace(f.Values)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return nil, nil
	}
	if v[0] == '[' {
		var list []FieldValue
		if err := json.Unmarshal(v, &list); err != nil {
			return nil, fmt.Errorf("field values decode error: %w", err)
		}
		return list, nil
	}
	var byID map[string]FieldValue
	if err := json.Unmarshal(v, &byID); err != nil {
		return nil, fmt.Errorf("field values decode error: %w", err)
	}
	list := make([]FieldValue, 0, len(byID))
	for id, fv := range byID {
		if fv.ID == "" {
			fv.ID = ID(id)
		}
		list = append(list, fv)
	}
	sortFieldValues(list)
	return list, nil
}

// sortFieldValues orders values by numeric id, falling back to text order.
func sortFieldValues(values []FieldValue) {
	slices.SortFunc(values, func(a, b FieldValue) int {
		ai, aErr := a.ID.Int64()
		bi, bErr := b.ID.Int64()
		if aErr == nil && bErr == nil {
			return cmp.Compare(ai, bi)
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
}

// PartitionField is the product list field naming the city of a product.
type PartitionField struct {
	Key    string
	Values []FieldValue
}

// ValueID returns the id of the enumerated value matching city.
func (pf PartitionField) ValueID(city string) (ID, bool) {
	for _, v := range pf.Values {
		if strings.EqualFold(strings.TrimSpace(string(v.Value)), strings.TrimSpace(city)) {
			return v.ID, true
		}
	}
	return "", false
}

// ValueName returns the city named by an enumerated value id.
func (pf PartitionField) ValueName(id string) (string, bool) {
	for _, v := range pf.Values {
		if string(v.ID) == id {
			return string(v.Value), true
		}
	}
	return "", false
}

// Names returns the enumerated city names.
func (pf PartitionField) Names() []string {
	names := make([]string, len(pf.Values))
	for i, v := range pf.Values {
		names[i] = string(v.Value)
	}
	return names
}

// LineItem is a product row of a deal.
type LineItem struct {
	ID        ID    `json:"ID,omitempty"`
	ProductID ID    `json:"PRODUCT_ID"`
	Quantity  Text  `json:"QUANTITY,omitempty"`
	StoreID   *Text `json:"STORE_ID,omitempty"`
}

// Deal is a crm deal. WeddingDate, Prepayment and Postpayment are read from the user
// fields carrying the configured labels.
type Deal struct {
	ID          ID    `json:"ID"`
	Title       Text  `json:"TITLE"`
	ContactID   *ID   `json:"CONTACT_ID"`
	StageID     Text  `json:"STAGE_ID"`
	BeginDate   *Text `json:"BEGINDATE"`
	CloseDate   *Text `json:"CLOSEDATE"`
	Opportunity *Text `json:"OPPORTUNITY"`

	WeddingDate *Text `json:"-"`
	Prepayment  *Text `json:"-"`
	Postpayment *Text `json:"-"`

	LineItems  []LineItem                 `json:"-"`
	UserFields map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the standard fields and collects the UF_* user fields.
func (d *Deal) UnmarshalJSON(b []byte) error {
	type alias Deal
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a.UserFields = map[string]json.RawMessage{}
	for k, v := range raw {
		if strings.HasPrefix(k, "UF_") {
			a.UserFields[k] = v
		}
	}
	*d = Deal(a)
	return nil
}

// userField returns a user field as text, nil when absent or empty.
func (d Deal) userField(key string) *Text {
	if key == "" {
		return nil
	}
	raw, ok := d.UserFields[key]
	if !ok {
		return nil
	}
	s, ok := propertyValue(raw)
	if !ok || s == "" {
		return nil
	}
	t := Text(s)
	return &t
}

// Multifield is a contact communication entry such as a phone number.
type Multifield struct {
	ID        ID     `json:"ID,omitempty"`
	Value     string `json:"VALUE"`
	ValueType string `json:"VALUE_TYPE,omitempty"`
	TypeID    string `json:"TYPE_ID,omitempty"`
}

// Contact is a crm contact.
type Contact struct {
	ID       ID           `json:"ID"`
	Name     Text         `json:"NAME"`
	LastName *Text        `json:"LAST_NAME"`
	Phone    []Multifield `json:"PHONE"`
}

// PrimaryPhone returns the first communication entry of type PHONE.
func (c Contact) PrimaryPhone() *string {
	for _, p := range c.Phone {
		if p.TypeID == "PHONE" && p.Value != "" {
			v := p.Value
			return &v
		}
	}
	return nil
}

// Section is a product catalog section.
type Section struct {
	ID        ID   `json:"ID"`
	CatalogID ID   `json:"CATALOG_ID"`
	Name      Text `json:"NAME"`
}

// Catalog is a commercial catalog information block.
type Catalog struct {
	ID       ID   `json:"id"`
	IblockID ID   `json:"iblockId"`
	Name     Text `json:"name"`
}

// Offer is a trade offer (SKU) of a parent product.
type Offer struct {
	ID       ID          `json:"id"`
	ParentID OfferParent `json:"parentId"`
	Quantity *Text       `json:"quantity"`
}

// OfferParent is the parent product id of an offer, sent either as a scalar or as
// {"id": .., "value": ..}.
type OfferParent string

// UnmarshalJSON accepts either representation.
func (o *OfferParent) UnmarshalJSON(b []byte) error {
	v, _ := propertyValue(b)
	*o = OfferParent(v)
	return nil
}

// ContactFields are the fields of a new contact.
type ContactFields struct {
	Name     string
	LastName string
	Phone    string
}

// DealFields are the fields of a new deal. Empty optional values are not sent.
type DealFields struct {
	Title       string
	ContactID   string
	BeginDate   string
	CloseDate   string
	WeddingDate string
	Prepayment  string
	Postpayment string
	CategoryID  int
}
