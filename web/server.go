package web

// This file describes the web server for this project.
//
// Each endpoint handler is set out as a function returning an http.Handler, allowing
// the router to provide arguments to the handler, as discussed in Mat Ryer's post at
//
//	https://grafana.com/blog/how-i-write-http-services-in-go-after-13-years/
//
// Every response is a JSON object carrying "status" and "status_msg". An operation
// that succeeded reports "success"; one which the CRM did not accept, or which found
// nothing to change, reports "not applied" with a 200 status; failures report "error"
// with a 400 status for bad requests and unknown cities and a 500 status otherwise.
//
// Helper functions, such as `serverError` and `clientError` are at the end of the file.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/rorycl/citycache/apiclients/bitrix"
	"github.com/rorycl/citycache/config"
	"github.com/rorycl/citycache/db"
	"github.com/rorycl/citycache/internal/partition"
	"github.com/rorycl/citycache/reconcile"
)

// Messages returned to API consumers.
const (
	unknownCityMessage = "Введен несуществующий город"
	serverErrorMessage = "что-то пошло не так"
)

// Cache is the set of city cache operations served over http.
type Cache interface {
	SyncPartition(ctx context.Context, city string) (reconcile.View, error)
	ResyncPartition(ctx context.Context, city string) (reconcile.View, error)
	ReadPartition(ctx context.Context, city, search string) (reconcile.View, error)
	ReadContacts(ctx context.Context, city string) ([]db.Contact, error)
	UpsertContact(ctx context.Context, city string, fields bitrix.ContactFields) (*db.Contact, error)
	RecordDeal(ctx context.Context, city string, deal reconcile.NewDeal, items []bitrix.LineItem) (*db.Deal, bool, error)
	DeleteDeal(ctx context.Context, dealID, city string) (bool, error)
	DeleteDealEverywhere(ctx context.Context, dealID string) (bool, error)
	DeleteProduct(ctx context.Context, productID string) (bool, error)
	DeleteContact(ctx context.Context, contactID string) (bool, error)
	MigrateProduct(ctx context.Context, productID string) (bool, error)
	Cities(ctx context.Context) ([]string, error)
	Sections(ctx context.Context) ([]bitrix.Section, error)
}

// WebApp is the configuration object for the web server.
type WebApp struct {
	log            *slog.Logger
	cfg            *config.Config
	cache          Cache
	accessLog      io.Writer // gorilla access log output
	requestTimeout time.Duration
	server         *http.Server
}

// New initialises a WebApp. Requests are given the configured sync timeout.
func New(logger *slog.Logger, cfg *config.Config, cache Cache, accessLog io.Writer) (*WebApp, error) {
	if cache == nil {
		return nil, errors.New("no cache provided to web server")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if accessLog == nil {
		accessLog = io.Discard
	}
	timeout := cfg.SyncTimeout
	if timeout <= 0 {
		timeout = reconcile.DefaultSyncTimeout
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      timeout + 30*time.Second,
		MaxHeaderBytes:    1 << 19,
	}

	webApp := &WebApp{
		log:            logger,
		cfg:            cfg,
		cache:          cache,
		accessLog:      accessLog,
		requestTimeout: timeout,
		server:         server,
	}
	return webApp, nil
}

// StartServer starts a WebApp, shutting it down gracefully when ctx is cancelled.
func (web *WebApp) StartServer(ctx context.Context) error {
	web.server.Handler = web.routes()

	errc := make(chan error, 1)
	go func() {
		web.log.Info("starting server", "address", web.cfg.ListenAddress)
		errc <- web.server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	web.log.Info("shutting down server")
	if err := web.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// routes connects all of the endpoints and provides middleware. Paths are matched with
// or without a trailing slash.
func (web *WebApp) routes() http.Handler {

	r := mux.NewRouter()
	api := r.PathPrefix("/dressup").Subrouter()

	handle := func(path string, h http.Handler, methods ...string) {
		api.Handle(path+"{slash:/?}", h).Methods(methods...)
	}

	// Cache reads and synchronisation.
	handle("/get_goods_from_db_and_new_goods", web.handleSync(), http.MethodPost)
	handle("/get_goods", web.handleResync(), http.MethodPost)
	handle("/get_goods_from_db", web.handleRead(), http.MethodPost)
	handle("/get_contacts_from_db", web.handleContacts(), http.MethodPost)

	// CRM pass-throughs.
	handle("/get_cities", web.handleCities(), http.MethodGet)
	handle("/get_sections", web.handleSections(), http.MethodGet)

	// Record creation.
	handle("/create_contact", web.handleCreateContact(), http.MethodPost)
	handle("/create_deal", web.handleCreateDeal(), http.MethodPost)

	// Bitrix24 outbound events and robots.
	handle("/remove_deal_from_db", web.handleRemoveDeal(), http.MethodPost)
	handle("/delete_deal", web.handleDeleteDeal(), http.MethodPost)
	handle("/delete_product", web.handleDeleteProduct(), http.MethodPost)
	handle("/delete_contact", web.handleDeleteContact(), http.MethodPost)
	handle("/update_product", web.handleMigrateProduct("updated"), http.MethodPost)
	handle("/add_product", web.handleMigrateProduct("added"), http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		web.clientError(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		web.clientError(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.LoggingHandler(web.accessLog, cors(web.withTimeout(r)))
}

// withTimeout bounds the context of each request.
func (web *WebApp) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), web.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validator is implemented by the request forms.
type validator interface {
	Validate(v *Validator)
}

// decodeAndValidate decodes a request into form and validates it.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, form validator) error {
	if err := decodeRequest(w, r, form); err != nil {
		return err
	}
	v := NewValidator()
	form.Validate(v)
	return v.Err()
}

// handleSync serves an incremental sync of a city, returning the fresh products.
func (web *WebApp) handleSync() http.Handler {
	return web.handleView(func(ctx context.Context, f *CityRequest) (reconcile.View, error) {
		return web.cache.SyncPartition(ctx, f.City)
	})
}

// handleResync serves a full sync of a city ignoring watermarks.
func (web *WebApp) handleResync() http.Handler {
	return web.handleView(func(ctx context.Context, f *CityRequest) (reconcile.View, error) {
		return web.cache.ResyncPartition(ctx, f.City)
	})
}

// handleRead serves the cached products of a city, optionally filtered by name.
func (web *WebApp) handleRead() http.Handler {
	return web.handleView(func(ctx context.Context, f *CityRequest) (reconcile.View, error) {
		return web.cache.ReadPartition(ctx, f.City, f.Search)
	})
}

// handleView serves a product view produced by fn.
func (web *WebApp) handleView(fn func(context.Context, *CityRequest) (reconcile.View, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var form CityRequest
		if err := decodeAndValidate(w, r, &form); err != nil {
			web.fail(w, r, err)
			return
		}
		view, err := fn(r.Context(), &form)
		if err != nil {
			web.fail(w, r, err)
			return
		}
		if view == nil {
			view = reconcile.View{}
		}
		web.success(w, map[string]any{"products": view})
	})
}

// handleContacts serves the cached contacts of a city.
func (web *WebApp) handleContacts() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var form CityRequest
		if err := decodeAndValidate(w, r, &form); err != nil {
			web.fail(w, r, err)
			return
		}
		contacts, err := web.cache.ReadContacts(r.Context(), form.City)
		if err != nil {
			web.fail(w, r, err)
			return
		}
		web.success(w, map[string]any{"contacts": contacts})
	})
}

// handleCities serves the city names known to the CRM.
func (web *WebApp) handleCities() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cities, err := web.cache.Cities(r.Context())
		if err != nil {
			web.fail(w, r, err)
			return
		}
		web.success(w, map[string]any{"cities": cities})
	})
}

// handleSections serves the product catalog sections.
func (web *WebApp) handleSections() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sections, err := web.cache.Sections(r.Context())
		if err != nil {
			web.fail(w, r, err)
			return
		}
		web.success(w, map[string]any{"sections": sections})
	})
}

// handleCreateContact creates a contact and records it in a city's cache.
func (web *WebApp) handleCreateContact() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var form ContactRequest
		if err := decodeAndValidate(w, r, &form); err != nil {
			web.fail(w, r, err)
			return
		}
		contact, err := web.cache.UpsertContact(r.Context(), form.City, form.Fields())
		if err != nil {
			web.fail(w, r, err)
			return
		}
		web.success(w, map[string]any{
			"message":    fmt.Sprintf("contact %s created", contact.ID),
			"contact_id": contact.ID,
		})
	})
}

// handleCreateDeal creates a deal with its products and records it in a city's
// cache.
func (web *WebApp) handleCreateDeal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var form DealRequest
		if err := decodeAndValidate(w, r, &form); err != nil {
			web.fail(w, r, err)
			return
		}
		deal, applied, err := web.cache.RecordDeal(r.Context(), form.City, form.Deal(), form.LineItems())
		if err != nil {
			web.fail(w, r, err)
			return
		}
		if !applied {
			web.notApplied(w, fmt.Sprintf("deal %s created without its products or amount", deal.ID), map[string]any{
				"deal_id": deal.ID,
			})
			return
		}
		web.success(w, map[string]any{
			"message": fmt.Sprintf("deal %s created with its products", deal.ID),
			"deal_id": deal.ID,
		})
	})
}

// handleRemoveDeal removes a deal from one city's cache.
func (web *WebApp) handleRemoveDeal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var form DocumentRequest
		if err := decodeAndValidate(w, r, &form); err != nil {
			web.fail(w, r, err)
			return
		}
		dealID := form.DealID()
		removed, err := web.cache.DeleteDeal(r.Context(), dealID, form.City)
		web.applied(w, r, removed, err, fmt.Sprintf("deal %s removed", dealID))
	})
}

// handleDeleteDeal removes a deal from every city's cache.
func (web *WebApp) handleDeleteDeal() http.Handler {
	return web.handleEvent(web.cache.DeleteDealEverywhere, "deal %s deleted")
}

// handleDeleteProduct removes a product from every city's cache.
func (web *WebApp) handleDeleteProduct() http.Handler {
	return web.handleEvent(web.cache.DeleteProduct, "product %s deleted")
}

// handleDeleteContact removes a contact from every city's cache.
func (web *WebApp) handleDeleteContact() http.Handler {
	return web.handleEvent(web.cache.DeleteContact, "contact %s deleted")
}

// handleMigrateProduct refreshes a product in the cache of the city it now belongs
// to, moving it there if necessary.
func (web *WebApp) handleMigrateProduct(verb string) http.Handler {
	return web.handleEvent(web.cache.MigrateProduct, "product %s "+verb)
}

// handleEvent serves a Bitrix24 outbound event naming a record id.
func (web *WebApp) handleEvent(fn func(context.Context, string) (bool, error), messageFormat string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var form EventRequest
		if err := decodeAndValidate(w, r, &form); err != nil {
			web.fail(w, r, err)
			return
		}
		id := form.ID()
		ok, err := fn(r.Context(), id)
		web.applied(w, r, ok, err, fmt.Sprintf(messageFormat, id))
	})
}

/* -------------------------------------------------------------------------- */
// Helpers
/* -------------------------------------------------------------------------- */

// applied writes the tri-state response of an operation.
func (web *WebApp) applied(w http.ResponseWriter, r *http.Request, ok bool, err error, message string) {
	switch {
	case err != nil:
		web.fail(w, r, err)
	case !ok:
		web.notApplied(w, message, nil)
	default:
		web.success(w, map[string]any{"message": message})
	}
}

// success writes a successful response with the provided fields.
func (web *WebApp) success(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"status": true, "status_msg": "success"}
	for k, v := range fields {
		body[k] = v
	}
	web.writeJSON(w, http.StatusOK, body)
}

// notApplied reports an operation which did not change anything.
func (web *WebApp) notApplied(w http.ResponseWriter, message string, fields map[string]any) {
	body := map[string]any{"status": false, "status_msg": "not applied", "message": message}
	for k, v := range fields {
		body[k] = v
	}
	web.writeJSON(w, http.StatusOK, body)
}

// fail reports err as a client error for invalid requests and unknown cities, and as
// a server error otherwise.
func (web *WebApp) fail(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *RequestError
	switch {
	case errors.Is(err, partition.ErrInvalidKey):
		web.log.Warn(err.Error(), "method", r.Method, "uri", r.URL.RequestURI())
		web.clientError(w, unknownCityMessage, http.StatusBadRequest)
	case errors.Is(err, reconcile.ErrInvalidSearch), errors.As(err, &reqErr):
		web.log.Warn(err.Error(), "method", r.Method, "uri", r.URL.RequestURI())
		web.clientError(w, err.Error(), http.StatusBadRequest)
	default:
		web.serverError(w, r, err)
	}
}

// serverError logs and returns an internal server error. The error should contain the
// information needed for logging.
func (web *WebApp) serverError(w http.ResponseWriter, r *http.Request, err error) {
	web.log.Error(err.Error(), "method", r.Method, "uri", r.URL.RequestURI())
	web.clientError(w, serverErrorMessage, http.StatusInternalServerError)
}

// clientError returns an error response with the given status.
func (web *WebApp) clientError(w http.ResponseWriter, message string, status int) {
	if message == "" {
		message = http.StatusText(status)
	}
	web.writeJSON(w, status, map[string]any{
		"status":     false,
		"status_msg": "error",
		"message":    message,
	})
}

// writeJSON writes body as JSON.
func (web *WebApp) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		web.log.Error("response encoding error", "error", err)
	}
}
