// quire: import Notion pages as Markdown articles into Supabase.
//
// HTTP service (the default when no command is given):
//
//	quire [serve] [--port N] [--config settings.yaml]
//
// One-off import of a single page:
//
//	quire import <pageId>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jomei/notionapi"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

var (
	configFile  string
	port        int
	debugMode   bool
	silent      bool
)

// app holds the wired pipeline and anything that needs closing.
type app struct {
	stats    *Stats
	pipeline *Pipeline
	db       *bun.DB
}

// newApp wires the Notion client, image relay and article store from cfg.
// A DATABASE_URL switches persistence from PostgREST to a direct connection.
func newApp(cfg *Config, log logrus.FieldLogger) (*app, error) {
	s := cfg.Settings

	notion := notionapi.NewClient(notionapi.Token(cfg.NotionAPIKey))
	pages := newPageFetcher(notion, s.Timeouts.Notion, log)

	relay := &imageRelay{
		fetcher:         newDownloader(cfg.AllowPrivateImageHosts, s.Image.MaxBytes),
		storage:         newSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseAPIKey, s.Storage.Bucket, nil),
		prefix:          s.Storage.Prefix,
		opts:            transcodeOpts{maxWidth: s.Image.MaxWidth},
		downloadTimeout: s.Timeouts.Image,
		uploadTimeout:   s.Timeouts.Storage,
		log:             log,
	}

	a := &app{stats: NewStats()}
	var store articleStore
	if cfg.DatabaseURL != "" {
		db, err := openPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.db = db
		store = newBunArticleStore(db, s.Database.Table, s.Timeouts.Database)
	} else {
		store = newRESTArticleStore(cfg.SupabaseURL, cfg.SupabaseAPIKey, s.Database.Table, s.Timeouts.Database, nil)
	}

	a.pipeline = NewPipeline(pages, relay, store, log, WithStats(a.stats))
	return a, nil
}

func (a *app) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// setup loads configuration and builds the logger shared by every command.
func setup(cmd *cobra.Command) (*Config, *logrus.Logger, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("port") {
		cfg.Settings.Port = port
	}
	return cfg, newLogger(os.Stderr, cfg.LogLevel, debugMode), nil
}

func runServe(ctx context.Context, cfg *Config, log *logrus.Logger) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if !debugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(NewImportHandler(a.pipeline, a.stats, log), log)

	addr := fmt.Sprintf(":%d", cfg.Settings.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.WithError(err).WithField("addr", addr).Error("failed to bind")
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.WithField("addr", ln.Addr().String()).Info("server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// importOne imports a single page and writes the saved article to out as JSON.
func importOne(ctx context.Context, imp importer, pageID string, out io.Writer) error {
	pprintf("Importing %s\n", pageID)
	a, err := imp.Import(ctx, pageID)
	if err != nil {
		_, msg := statusFor(err)
		return fmt.Errorf("%s: %w", msg, err)
	}
	pprintf("  Saved %q (cover: %t)\n", a.Title, a.Cover != nil)
	return json.NewEncoder(out).Encode(a)
}

func runMigrate(ctx context.Context, cfg *Config, log logrus.FieldLogger) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate requires DATABASE_URL")
	}
	db, err := openPostgres(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Settings.Timeouts.Database)
	defer cancel()
	if err := createArticlesTable(ctx, db, cfg.Settings.Database.Table); err != nil {
		return err
	}
	log.WithField("table", cfg.Settings.Database.Table).Info("table ready")
	return nil
}

// rootCmd runs the server when no subcommand is given.
var rootCmd = &cobra.Command{
	Use:           "quire",
	Short:         "Import Notion pages as Markdown articles into Supabase",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServeCmd,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP import service",
	Args:  cobra.NoArgs,
	RunE:  runServeCmd,
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	return runServe(cmd.Context(), cfg, log)
}

var importCmd = &cobra.Command{
	Use:   "import <pageId>",
	Short: "Import one page and print the saved article as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		if !silent {
			progressOut = os.Stderr
		}
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()
		return importOne(cmd.Context(), a.pipeline, args[0], os.Stdout)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the articles table (requires DATABASE_URL)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		return runMigrate(cmd.Context(), cfg, log)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to YAML settings file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	rootCmd.Flags().IntVar(&port, "port", 3000, "Port to listen on (overrides settings file)")
	serveCmd.Flags().IntVar(&port, "port", 3000, "Port to listen on (overrides settings file)")

	importCmd.Flags().BoolVar(&silent, "silent", false, "Suppress progress output")

	rootCmd.AddCommand(serveCmd, importCmd, migrateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
