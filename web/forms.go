package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/schema"

	"github.com/rorycl/citycache/apiclients/bitrix"
	"github.com/rorycl/citycache/reconcile"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ------------------------------------------------------------------------------
// Validation
// ------------------------------------------------------------------------------

// Validator holds a map of validation errors, keyed by the request field name.
type Validator struct {
	Errors map[string]string
}

// NewValidator creates a new, initialized Validator.
func NewValidator() *Validator {
	return &Validator{Errors: make(map[string]string)}
}

// Valid returns true if the Errors map is empty.
func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

// AddError adds an error message for a field if one doesn't already exist for that
// field.
func (v *Validator) AddError(key, message string) {
	if _, exists := v.Errors[key]; !exists {
		v.Errors[key] = message
	}
}

// Check adds an error message for key if ok is false.
func (v *Validator) Check(ok bool, key, message string) {
	if !ok {
		v.AddError(key, message)
	}
}

// Err returns the validation errors as a single error, sorted by field, or nil.
func (v *Validator) Err() error {
	if v.Valid() {
		return nil
	}
	keys := make([]string, 0, len(v.Errors))
	for k := range v.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, len(keys))
	for i, k := range keys {
		msgs[i] = fmt.Sprintf("%s: %s", k, v.Errors[k])
	}
	return &RequestError{Err: errors.New(strings.Join(msgs, "; "))}
}

// ------------------------------------------------------------------------------
// Request decoding
// ------------------------------------------------------------------------------

// RequestError is a request which could not be decoded or failed validation.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid request: %v", e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// flexString is a string which may be sent as a JSON string, number or null.
type flexString string

// UnmarshalJSON accepts any JSON scalar.
func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected a string or number, got %s", b)
	}
	*f = flexString(n)
	return nil
}

// UnmarshalText allows schema decoding.
func (f *flexString) UnmarshalText(b []byte) error {
	*f = flexString(b)
	return nil
}

func (f flexString) String() string {
	return strings.TrimSpace(string(f))
}

// indexedKey matches form keys such as "document_id[2]".
var indexedKey = regexp.MustCompile(`^([^\[\]]+)\[(\d+)\]$`)

// foldIndexed gathers values sent under indexed keys, as Bitrix24 webhooks send
// arrays, into a single key in index order.
func foldIndexed(values url.Values) url.Values {
	type item struct {
		index int
		value string
	}
	indexed := map[string][]item{}
	out := url.Values{}
	for k, vs := range values {
		m := indexedKey.FindStringSubmatch(k)
		if m == nil {
			out[k] = append(out[k], vs...)
			continue
		}
		i, _ := strconv.Atoi(m[2])
		for _, v := range vs {
			indexed[m[1]] = append(indexed[m[1]], item{i, v})
		}
	}
	for k, items := range indexed {
		sort.SliceStable(items, func(a, b int) bool { return items[a].index < items[b].index })
		for _, it := range items {
			out[k] = append(out[k], it.value)
		}
	}
	return out
}

// newSchemaDecoder creates a decoder ignoring keys not described by the destination.
func newSchemaDecoder() *schema.Decoder {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return decoder
}

// decodeRequest decodes a JSON or form encoded request body into dst. Query
// parameters are decoded into dst as well, overriding the body.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	decoder := newSchemaDecoder()

	if mediaType == "application/json" {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return &RequestError{Err: fmt.Errorf("json body decoding error: %w", err)}
		}
		if err := decoder.Decode(dst, foldIndexed(r.URL.Query())); err != nil {
			return &RequestError{Err: fmt.Errorf("url parameter decoding error: %w", err)}
		}
		return nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return &RequestError{Err: fmt.Errorf("form parsing error: %w", err)}
	}
	if err := decoder.Decode(dst, foldIndexed(r.Form)); err != nil {
		return &RequestError{Err: fmt.Errorf("form decoding error: %w", err)}
	}
	return nil
}

// ------------------------------------------------------------------------------
// Requests
// ------------------------------------------------------------------------------

// CityRequest names a city and, for cache reads, an optional product name search.
type CityRequest struct {
	City   string `json:"city"   schema:"city"`
	Search string `json:"search" schema:"search"`
}

// Validate checks the city is present.
func (f *CityRequest) Validate(v *Validator) {
	f.City = strings.TrimSpace(f.City)
	v.Check(f.City != "", "city", "A city must be provided.")
}

// ContactRequest is a contact to create.
type ContactRequest struct {
	City     string     `json:"city"     schema:"city"`
	Name     string     `json:"name"     schema:"name"`
	LastName string     `json:"lastName" schema:"lastName"`
	Phone    flexString `json:"phone"    schema:"phone"`
}

// Validate checks the city and contact name are present.
func (f *ContactRequest) Validate(v *Validator) {
	f.City = strings.TrimSpace(f.City)
	v.Check(f.City != "", "city", "A city must be provided.")
	v.Check(strings.TrimSpace(f.Name) != "", "name", "A name must be provided.")
}

// Fields returns the CRM contact fields.
func (f *ContactRequest) Fields() bitrix.ContactFields {
	return bitrix.ContactFields{
		Name:     strings.TrimSpace(f.Name),
		LastName: strings.TrimSpace(f.LastName),
		Phone:    f.Phone.String(),
	}
}

// DealProduct is a line item of a deal to create.
type DealProduct struct {
	ID       flexString `json:"ID"`
	Quantity flexString `json:"QUANTITY"`
	StoreID  flexString `json:"STORE_ID"`
}

// DealRequest is a deal to create. Products are only read from JSON bodies.
type DealRequest struct {
	City        string        `json:"city"        schema:"city"`
	Title       string        `json:"title"       schema:"title"`
	ContactID   flexString    `json:"contact_id"  schema:"contact_id"`
	DateFrom    string        `json:"dateFrom"    schema:"dateFrom"`
	DateTo      string        `json:"dateTo"      schema:"dateTo"`
	WeddingDate string        `json:"weddingDate" schema:"weddingDate"`
	Prepayment  flexString    `json:"prepayment"  schema:"prepayment"`
	Postpayment flexString    `json:"postpayment" schema:"postpayment"`
	Opportunity flexString    `json:"opportunity" schema:"opportunity"`
	CategoryID  flexString    `json:"category_id" schema:"category_id"`
	Products    []DealProduct `json:"products"    schema:"-"`

	opportunity float64
	categoryID  int
}

// Validate checks the required fields and parses the numeric ones.
func (f *DealRequest) Validate(v *Validator) {
	f.City = strings.TrimSpace(f.City)
	v.Check(f.City != "", "city", "A city must be provided.")
	v.Check(strings.TrimSpace(f.Title) != "", "title", "A title must be provided.")

	if s := f.Opportunity.String(); s != "" {
		amount, err := strconv.ParseFloat(s, 64)
		v.Check(err == nil, "opportunity", "The opportunity must be a number.")
		f.opportunity = amount
	}
	if s := f.CategoryID.String(); s != "" {
		id, err := strconv.Atoi(s)
		v.Check(err == nil && id >= 0, "category_id", "The category must be a non-negative integer.")
		f.categoryID = id
	}
	for i, p := range f.Products {
		v.Check(p.ID.String() != "", "products", fmt.Sprintf("Product %d has no ID.", i))
	}
}

// Deal returns the deal to record.
func (f *DealRequest) Deal() reconcile.NewDeal {
	return reconcile.NewDeal{
		DealFields: bitrix.DealFields{
			Title:       strings.TrimSpace(f.Title),
			ContactID:   f.ContactID.String(),
			BeginDate:   strings.TrimSpace(f.DateFrom),
			CloseDate:   strings.TrimSpace(f.DateTo),
			WeddingDate: strings.TrimSpace(f.WeddingDate),
			Prepayment:  f.Prepayment.String(),
			Postpayment: f.Postpayment.String(),
			CategoryID:  f.categoryID,
		},
		Opportunity: f.opportunity,
	}
}

// LineItems returns the deal's products as CRM line items.
func (f *DealRequest) LineItems() []bitrix.LineItem {
	items := make([]bitrix.LineItem, 0, len(f.Products))
	for _, p := range f.Products {
		li := bitrix.LineItem{
			ProductID: bitrix.ID(p.ID.String()),
			Quantity:  bitrix.Text(p.Quantity.String()),
		}
		if s := p.StoreID.String(); s != "" {
			store := bitrix.Text(s)
			li.StoreID = &store
		}
		items = append(items, li)
	}
	return items
}

// EventRequest is an outbound Bitrix24 event naming a record, sent either as JSON
// {"data": {"FIELDS": {"ID": ..}}} or as the form key "data[FIELDS][ID]".
type EventRequest struct {
	Data struct {
		Fields struct {
			ID flexString `json:"ID"`
		} `json:"FIELDS"`
	} `json:"data" schema:"-"`
	FormID flexString `json:"-" schema:"data[FIELDS][ID]"`
}

// ID returns the record id of the event.
func (f *EventRequest) ID() string {
	if id := f.FormID.String(); id != "" {
		return id
	}
	return f.Data.Fields.ID.String()
}

// Validate checks a record id is present.
func (f *EventRequest) Validate(v *Validator) {
	v.Check(f.ID() != "", "data[FIELDS][ID]", "A record ID must be provided.")
}

// dealDocumentPrefix prefixes deal ids in business process document ids.
const dealDocumentPrefix = "DEAL_"

// DocumentRequest is a business process robot call naming a deal by its document
// id, such as ["crm", "CCrmDocumentDeal", "DEAL_45"], with the city as a query
// parameter.
type DocumentRequest struct {
	City       string   `json:"-"           schema:"city"`
	DocumentID []string `json:"document_id" schema:"document_id"`
}

// DealID returns the deal id of the last document id element.
func (f *DocumentRequest) DealID() string {
	if len(f.DocumentID) == 0 {
		return ""
	}
	last := strings.TrimSpace(f.DocumentID[len(f.DocumentID)-1])
	return strings.TrimPrefix(last, dealDocumentPrefix)
}

// Validate checks the city and deal id are present.
func (f *DocumentRequest) Validate(v *Validator) {
	f.City = strings.TrimSpace(f.City)
	v.Check(f.City != "", "city", "A city must be provided.")
	v.Check(f.DealID() != "", "document_id", "A deal document ID must be provided.")
}
