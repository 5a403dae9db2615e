// serve.go implements the "fhird serve" command for HTTP server operation.
//
// Separated from extension.go because serve has unique lifecycle requirements.
// Unlike other commands that run and exit, serve blocks indefinitely handling
// FHIR REST requests until interrupted.
//
// Design: Serve is a NoStoreCommand - it manages its own service lifecycle
// instead of using the shared service from root.go. This is necessary because
// serve needs to control when the database connection is opened and closed,
// rather than having it managed by the CLI framework.

package core

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jpl-au/fhird/cmd"
	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/config"
	"github.com/jpl-au/fhird/internal/repo"
	"github.com/jpl-au/fhird/internal/resource"
	"github.com/jpl-au/fhird/internal/rest"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR REST server",
		Long: `Start an HTTP server exposing the store as a FHIR R4 REST endpoint.

Use --db to serve a specific database:
  fhird serve --db test    # serve fhird-test.db

Use --listen to override the configured address:
  fhird serve --listen 0.0.0.0:8095

The base URL used in bundle links and Location headers comes from config
(server.base_url) or the --base-url flag. Stop with Ctrl-C; shutdown waits
for in-flight requests.`,
		RunE: runServe,
	}
	c.Flags().String(extension.FlagListen, "", "Listen address (default from config)")
	return c
}

func runServe(c *cobra.Command, _ []string) error {
	dbPath, err := repo.Discover(cmd.DB())
	if err != nil {
		return cmd.PrintJSONError(err)
	}

	cfg, err := config.Load()
	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("config load: %w", err))
	}
	if cmd.BaseURL() != "" {
		cfg.Server.BaseURL = cmd.BaseURL()
	}

	svc, err := resource.Open(dbPath, cfg)
	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("open store: %w", err))
	}
	defer svc.Close()

	if cfg.AuditEnabled() {
		if err := audit.Attach(svc.DB(), svc.DBPath()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: audit log unavailable: %v\n", err)
		}
	}

	listen, _ := c.Flags().GetString(extension.FlagListen)
	if listen == "" {
		listen = cfg.Listen()
	}

	h := rest.New(svc, cfg.StrictSearch())
	srv := rest.NewServer(h, listen)

	// Shutdown on SIGINT/SIGTERM so deferred Close runs and the WAL is
	// checkpointed rather than the process dying mid-write.
	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.Out(), "Serving FHIR R4 on http://%s (base %s)\n", listen, cfg.BaseURL())
	return srv.Run(ctx)
}
