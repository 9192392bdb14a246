// Package app wires the citycache configuration, partition stores, CRM client and
// cache service together for the command line and the web server.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/rorycl/citycache/apiclients/bitrix"
	"github.com/rorycl/citycache/config"
	"github.com/rorycl/citycache/db"
	"github.com/rorycl/citycache/internal/filewatcher"
	"github.com/rorycl/citycache/internal/mounts"
	"github.com/rorycl/citycache/internal/partition"
	"github.com/rorycl/citycache/reconcile"
	"github.com/rorycl/citycache/web"
)

// callbackPath is the OAuth redirect path served during login.
const callbackPath = "/oauth/callback"

// remoteTimeout bounds single http calls to the CRM.
const remoteTimeout = 60 * time.Second

// App is the central orchestrator for the application's business logic.
type App struct {
	out    io.Writer // command output
	logOut io.Writer // log and access log output
}

// New creates an App writing command output to out and logs to logOut.
func New(out, logOut io.Writer) *App {
	if out == nil {
		out = os.Stdout
	}
	if logOut == nil {
		logOut = os.Stderr
	}
	return &App{out: out, logOut: logOut}
}

// newLogger returns a slog logger using a charmbracelet handler at the given level.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", level, err)
	}
	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "citycache",
	})
	return slog.New(handler), nil
}

// runtime holds the components built from a configuration.
type runtime struct {
	cfg     *config.Config
	log     *slog.Logger
	sql     *mounts.Mount
	stores  []*db.DB
	service *reconcile.Service
}

// close closes the partition stores.
func (rt *runtime) close() error {
	var errs []error
	for _, s := range rt.stores {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// setup loads the configuration at cfgPath and opens every partition store.
func (a *App) setup(ctx context.Context, cfgPath string) (*runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(a.logOut, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	sqlMount, err := mounts.New(db.SQLMountName, db.SQLFiles, cfg.SQLDir)
	if err != nil {
		return nil, fmt.Errorf("could not mount sql files: %w", err)
	}
	if sqlMount.OnDisk() {
		logger.Info("using sql files from disk", "dir", sqlMount.Dir)
	}

	remote, err := newRemote(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, log: logger, sql: sqlMount}
	parts := make([]partition.Partition[*db.DB], 0, len(cfg.Partitions))
	for _, p := range cfg.Partitions {
		store, err := db.NewConnection(p.DatabasePath, sqlMount.FS, logger)
		if err != nil {
			_ = rt.close()
			return nil, fmt.Errorf("could not open the %s store: %w", p.City, err)
		}
		rt.stores = append(rt.stores, store)
		parts = append(parts, partition.Partition[*db.DB]{Name: p.City, Store: store})
	}

	registry, err := partition.New(parts...)
	if err != nil {
		_ = rt.close()
		return nil, err
	}
	rt.service, err = reconcile.NewService(registry, remote, reconcile.Options{
		DescriptionPlaceholder: cfg.Bitrix.DescriptionPlaceholder,
		SyncTimeout:            cfg.SyncTimeout,
	}, logger)
	if err != nil {
		_ = rt.close()
		return nil, err
	}
	return rt, nil
}

// bitrixOptions returns the client options from the configuration.
func bitrixOptions(cfg *config.Config) bitrix.Options {
	return bitrix.Options{
		CityFieldTitle:    cfg.Bitrix.CityFieldTitle,
		ExcludedDealStage: cfg.Bitrix.ExcludedDealStage,
		DealFields: bitrix.DealFieldLabels{
			WeddingDate: cfg.Bitrix.DealFields.WeddingDate,
			Prepayment:  cfg.Bitrix.DealFields.Prepayment,
			Postpayment: cfg.Bitrix.DealFields.Postpayment,
		},
	}
}

// oauthConfig returns the OAuth application settings from the configuration.
func oauthConfig(cfg *config.Config) bitrix.OAuthConfig {
	return bitrix.OAuthConfig{
		PortalURL:     cfg.Bitrix.PortalURL,
		ClientID:      cfg.Bitrix.ClientID,
		ClientSecret:  cfg.Bitrix.ClientSecret,
		TokenFilePath: cfg.Bitrix.TokenFilePath,
	}
}

// newRemote returns a CRM client using the webhook or, without one, the saved OAuth
// token.
func newRemote(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*bitrix.Client, error) {
	httpClient := &http.Client{Timeout: remoteTimeout}
	if cfg.Bitrix.UseOAuth() {
		client, err := bitrix.NewOAuthClient(ctx, oauthConfig(cfg), httpClient, bitrixOptions(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create bitrix client: %w", err)
		}
		return client, nil
	}
	client, err := bitrix.NewClient(cfg.Bitrix.WebhookURL, httpClient, bitrixOptions(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create bitrix client: %w", err)
	}
	return client, nil
}

// Serve runs the web server until ctx is cancelled. In development mode with an
// on-disk sql directory, the statements of every store are reloaded when the sql
// files change.
func (a *App) Serve(ctx context.Context, cfgPath string) error {
	rt, err := a.setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	webApp, err := web.New(rt.log, rt.cfg, rt.service, a.logOut)
	if err != nil {
		return err
	}

	var watcher *filewatcher.Watcher
	if rt.cfg.DevelopmentMode && rt.sql.OnDisk() {
		watcher, err = filewatcher.New(rt.sql.Dir, ".sql")
		if err != nil {
			return fmt.Errorf("could not watch sql files: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return webApp.StartServer(ctx)
	})
	if watcher != nil {
		g.Go(func() error {
			err := watcher.Watch(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			for range watcher.Changes() {
				rt.reload()
			}
			return nil
		})
	}
	return g.Wait()
}

// reload re-prepares the statements of every store from the sql mount. A store whose
// reload fails keeps its current statements.
func (rt *runtime) reload() {
	for _, s := range rt.stores {
		if err := s.Reload(rt.sql.FS); err != nil {
			rt.log.Error("sql reload failed", "db", s.Path(), "error", err)
		}
	}
}

// Sync synchronises a city's store with the CRM and reports the fresh products.
// full ignores the watermarks and fetches everything.
func (a *App) Sync(ctx context.Context, cfgPath, city string, full, asJSON bool) error {
	rt, err := a.setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	var view reconcile.View
	if full {
		view, err = rt.service.ResyncPartition(ctx, city)
	} else {
		view, err = rt.service.SyncPartition(ctx, city)
	}
	if err != nil {
		return err
	}
	if asJSON {
		return a.writeJSON(view)
	}
	return a.summarise(view)
}

// Read reports the cached products of a city, optionally filtered by a case
// insensitive name expression.
func (a *App) Read(ctx context.Context, cfgPath, city, search string, asJSON bool) error {
	rt, err := a.setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	view, err := rt.service.ReadPartition(ctx, city, search)
	if err != nil {
		return err
	}
	if asJSON {
		return a.writeJSON(view)
	}
	return a.summarise(view)
}

// Contacts reports the cached contacts of a city as JSON.
func (a *App) Contacts(ctx context.Context, cfgPath, city string) error {
	rt, err := a.setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	contacts, err := rt.service.ReadContacts(ctx, city)
	if err != nil {
		return err
	}
	return a.writeJSON(contacts)
}

// MigrateProduct refreshes a product in the store of the city it belongs to.
func (a *App) MigrateProduct(ctx context.Context, cfgPath, productID string) error {
	return a.apply(ctx, cfgPath, fmt.Sprintf("product %s migrated", productID), func(s *reconcile.Service) (bool, error) {
		return s.MigrateProduct(ctx, productID)
	})
}

// DeleteProduct removes a product from every store.
func (a *App) DeleteProduct(ctx context.Context, cfgPath, productID string) error {
	return a.apply(ctx, cfgPath, fmt.Sprintf("product %s deleted", productID), func(s *reconcile.Service) (bool, error) {
		return s.DeleteProduct(ctx, productID)
	})
}

// DeleteDeal removes a deal from the store of city or, if city is empty, from every
// store.
func (a *App) DeleteDeal(ctx context.Context, cfgPath, dealID, city string) error {
	return a.apply(ctx, cfgPath, fmt.Sprintf("deal %s deleted", dealID), func(s *reconcile.Service) (bool, error) {
		if city == "" {
			return s.DeleteDealEverywhere(ctx, dealID)
		}
		return s.DeleteDeal(ctx, dealID, city)
	})
}

// DeleteContact removes a contact from every store.
func (a *App) DeleteContact(ctx context.Context, cfgPath, contactID string) error {
	return a.apply(ctx, cfgPath, fmt.Sprintf("contact %s deleted", contactID), func(s *reconcile.Service) (bool, error) {
		return s.DeleteContact(ctx, contactID)
	})
}

// apply runs a tri-state operation, reporting whether it was applied.
func (a *App) apply(ctx context.Context, cfgPath, message string, fn func(*reconcile.Service) (bool, error)) error {
	rt, err := a.setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	ok, err := fn(rt.service)
	if err != nil {
		return err
	}
	if !ok {
		_, err = fmt.Fprintf(a.out, "not applied: %s\n", message)
		return err
	}
	_, err = fmt.Fprintln(a.out, message)
	return err
}

// Cities lists the cities known to the CRM.
func (a *App) Cities(ctx context.Context, cfgPath string) error {
	rt, err := a.setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	cities, err := rt.service.Cities(ctx)
	if err != nil {
		return err
	}
	for _, c := range cities {
		if _, err := fmt.Fprintln(a.out, c); err != nil {
			return err
		}
	}
	return nil
}

// Login runs the OAuth authorization flow of a local application, saving the token.
func (a *App) Login(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if !cfg.Bitrix.UseOAuth() {
		return errors.New("login is only needed without a bitrix webhook_url")
	}
	if err := bitrix.Login(ctx, oauthConfig(cfg), cfg.ListenAddress, callbackPath); err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "token saved to %s\n", cfg.Bitrix.TokenFilePath)
	return err
}

// Logout deletes the saved OAuth token.
func (a *App) Logout(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Bitrix.TokenFilePath == "" {
		return errors.New("no token file is configured")
	}
	if err := bitrix.DeleteToken(cfg.Bitrix.TokenFilePath); err != nil {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	_, err = fmt.Fprintf(a.out, "token %s deleted\n", cfg.Bitrix.TokenFilePath)
	return err
}

// ExportSQL writes the embedded sql files to dir/sql for editing. The directory can
// then be named as sql_dir in the configuration.
func (a *App) ExportSQL(ctx context.Context, dir string) error {
	sqlMount, err := mounts.New(db.SQLMountName, db.SQLFiles, "")
	if err != nil {
		return err
	}
	target, err := sqlMount.Export(dir)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "sql files written to %s\n", target)
	return err
}

// writeJSON writes v as indented JSON.
func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// summarise writes one line per product.
func (a *App) summarise(view reconcile.View) error {
	for _, p := range view {
		if _, err := fmt.Fprintf(a.out, "%s\t%s\t%d deals\n", p.ID, p.Name, len(p.Deals)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(a.out, "%d products\n", len(view))
	return err
}
