// Package reconcile mirrors the products, deals and contacts of the CRM into the
// per-city stores.
//
// A sync reads the watermarks of a city's store, fetches the records above them
// from the CRM, joins the line items of the fetched deals to the fetched and cached
// products, and writes the result in one transaction. The view returned to the
// caller is re-read from the store, so that it holds both the previously cached and
// the newly written rows.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rorycl/citycache/apiclients/bitrix"
	"github.com/rorycl/citycache/db"
	"github.com/rorycl/citycache/internal/partition"
)

// DefaultSyncTimeout bounds a whole sync.
const DefaultSyncTimeout = 20 * time.Minute

// Remote is the CRM, implemented by *bitrix.Client.
type Remote interface {
	ListProductsSince(ctx context.Context, watermark *int64, city string) ([]bitrix.Product, error)
	ListDealsWithLineItems(ctx context.Context, watermark *int64) ([]bitrix.Deal, error)
	ListContactsSince(ctx context.Context, watermark *int64) ([]bitrix.Contact, error)

	CreateContact(ctx context.Context, fields bitrix.ContactFields) (bitrix.ID, error)
	CreateDeal(ctx context.Context, fields bitrix.DealFields) (bitrix.ID, error)
	SetDealLineItems(ctx context.Context, dealID string, rows []bitrix.LineItem) (bool, error)
	UpdateDealAmount(ctx context.Context, dealID string, amount float64) (bool, error)

	GetProduct(ctx context.Context, productID string) (*bitrix.Product, error)
	PartitionField(ctx context.Context) (bitrix.PartitionField, error)
	Cities(ctx context.Context) ([]string, error)
	Sections(ctx context.Context) ([]bitrix.Section, error)
}

// Registry is the set of city stores.
type Registry = partition.Registry[*db.DB]

// Options configure a Service.
type Options struct {
	// DescriptionPlaceholder replaces a missing product description.
	DescriptionPlaceholder string
	// SyncTimeout bounds a whole sync.
	SyncTimeout time.Duration
}

// Service runs the cache operations against the city stores.
type Service struct {
	registry    *Registry
	remote      Remote
	log         *slog.Logger
	placeholder string
	timeout     time.Duration
}

// NewService returns a Service. Zero options take their defaults.
func NewService(registry *Registry, remote Remote, opts Options, logger *slog.Logger) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("a partition registry is required")
	}
	if remote == nil {
		return nil, fmt.Errorf("a remote client is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(
			os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelInfo},
		))
	}
	if opts.DescriptionPlaceholder == "" {
		opts.DescriptionPlaceholder = DefaultDescription
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}
	return &Service{
		registry:    registry,
		remote:      remote,
		log:         logger,
		placeholder: opts.DescriptionPlaceholder,
		timeout:     opts.SyncTimeout,
	}, nil
}

// Registry returns the city stores of the service.
func (s *Service) Registry() *Registry {
	return s.registry
}

// SyncPartition fetches the records above the city's watermarks, writes them to the
// city's store and returns the whole cached view. With no watermarks every record
// is fetched.
func (s *Service) SyncPartition(ctx context.Context, city string) (View, error) {
	return s.sync(ctx, city, false)
}

// ResyncPartition fetches every record regardless of watermarks, writes them to the
// city's store and returns the whole cached view.
func (s *Service) ResyncPartition(ctx context.Context, city string) (View, error) {
	return s.sync(ctx, city, true)
}

// delta holds the records fetched by a sync, converted to rows.
type delta struct {
	products []db.Product
	deals    []RemoteDeal
	contacts []db.Contact
}

func (s *Service) sync(ctx context.Context, city string, full bool) (View, error) {

	p, err := s.registry.Lookup(city)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := s.log.With("city", p.Name, "run", uuid.NewString())
	start := time.Now()

	var marks db.Watermarks
	if !full {
		marks, err = p.Store.Watermarks(ctx)
		if err != nil {
			log.Warn("watermarks could not be read, fetching all records", "error", err)
			marks = db.Watermarks{}
		}
	}
	log.Debug("sync started", "full", full, "watermarks", formatMarks(marks))

	fetched, err := s.fetch(ctx, p.Name, marks)
	if err != nil {
		log.Error("sync fetch failed", "error", err)
		return nil, err
	}

	cached, err := snapshot(ctx, p.Store)
	if err != nil {
		return nil, &StoreError{City: p.Name, Op: "snapshot", Err: err}
	}

	view, batch := Join(fetched.products, fetched.deals, fetched.contacts, cached)
	for _, dealID := range view.unresolved() {
		log.Warn("deal contact not found", "deal", dealID)
	}

	result, err := p.Store.WriteBatch(ctx, batch)
	if err != nil {
		return nil, &StoreError{City: p.Name, Op: "write batch", Err: err}
	}
	log.Info(
		"sync complete",
		"products", result.Products,
		"deals", result.Deals,
		"contacts", result.Contacts,
		"links", result.Links,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return s.read(ctx, p, "")
}

// fetch runs the three remote fetches concurrently. Records at or below a watermark
// are dropped so that a sync never rewrites them.
func (s *Service) fetch(ctx context.Context, city string, marks db.Watermarks) (delta, error) {

	var d delta
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		products, err := s.remote.ListProductsSince(gctx, marks.Products, city)
		if err != nil {
			return &RemoteError{Op: "list products", Err: err}
		}
		for _, p := range products {
			if above(string(p.ID), marks.Products) {
				d.products = append(d.products, productRow(p, s.placeholder, false))
			}
		}
		return nil
	})

	g.Go(func() error {
		deals, err := s.remote.ListDealsWithLineItems(gctx, marks.Deals)
		if err != nil {
			return &RemoteError{Op: "list deals", Err: err}
		}
		for _, dl := range deals {
			if above(string(dl.ID), marks.Deals) {
				d.deals = append(d.deals, dealRow(dl))
			}
		}
		return nil
	})

	g.Go(func() error {
		contacts, err := s.remote.ListContactsSince(gctx, marks.Contacts)
		if err != nil {
			return &RemoteError{Op: "list contacts", Err: err}
		}
		for _, c := range contacts {
			if above(string(c.ID), marks.Contacts) {
				d.contacts = append(d.contacts, contactRow(c))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return delta{}, err
	}
	return d, nil
}

// snapshot reads the cached products and contacts of a store.
func snapshot(ctx context.Context, store *db.DB) (Snapshot, error) {
	products, err := store.Products(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	contacts, err := store.Contacts(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Products: products, Contacts: contacts}, nil
}

// formatMarks renders watermarks for logging.
func formatMarks(w db.Watermarks) string {
	f := func(p *int64) string {
		if p == nil {
			return "none"
		}
		return fmt.Sprint(*p)
	}
	return fmt.Sprintf("products=%s deals=%s contacts=%s", f(w.Products), f(w.Deals), f(w.Contacts))
}
