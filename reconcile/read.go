package reconcile

// read.go serves reads from the cache only.

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rorycl/citycache/apiclients/bitrix"
	"github.com/rorycl/citycache/db"
	"github.com/rorycl/citycache/internal/partition"
)

// ReadPartition returns the cached view of a city. A non-empty search is a regular
// expression matched against product names without regard to case.
func (s *Service) ReadPartition(ctx context.Context, city, search string) (View, error) {
	p, err := s.registry.Lookup(city)
	if err != nil {
		return nil, err
	}
	if search != "" {
		if _, err := regexp.Compile("(?i)" + search); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSearch, err)
		}
	}
	return s.read(ctx, p, search)
}

func (s *Service) read(ctx context.Context, p partition.Partition[*db.DB], search string) (View, error) {
	entries, err := p.Store.Catalog(ctx, search)
	if err != nil {
		return nil, &StoreError{City: p.Name, Op: "read catalog", Err: err}
	}
	return catalogView(entries), nil
}

// ReadContacts returns the cached contacts of a city.
func (s *Service) ReadContacts(ctx context.Context, city string) ([]db.Contact, error) {
	p, err := s.registry.Lookup(city)
	if err != nil {
		return nil, err
	}
	contacts, err := p.Store.Contacts(ctx)
	if err != nil {
		return nil, &StoreError{City: p.Name, Op: "read contacts", Err: err}
	}
	if contacts == nil {
		contacts = []db.Contact{}
	}
	return contacts, nil
}

// Cities returns the cities enumerated by the CRM's product city field.
func (s *Service) Cities(ctx context.Context) ([]string, error) {
	cities, err := s.remote.Cities(ctx)
	if err != nil {
		return nil, &RemoteError{Op: "list cities", Err: err}
	}
	return cities, nil
}

// Sections returns the CRM's product sections.
func (s *Service) Sections(ctx context.Context) ([]bitrix.Section, error) {
	sections, err := s.remote.Sections(ctx)
	if err != nil {
		return nil, &RemoteError{Op: "list sections", Err: err}
	}
	if sections == nil {
		sections = []bitrix.Section{}
	}
	return sections, nil
}
