// Command tabulon runs the Tabulon server and provides table management
// from the command line.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/tabulon/tabulon/internal/api/http"
	"github.com/tabulon/tabulon/internal/catalog"
	"github.com/tabulon/tabulon/internal/config"
	"github.com/tabulon/tabulon/internal/engine"
	"github.com/tabulon/tabulon/internal/server"
	"github.com/tabulon/tabulon/internal/snapshot"
	"github.com/tabulon/tabulon/internal/storage"
	"github.com/tabulon/tabulon/pkg/types"
)

var (
	configPath string
	dataDir    string
)

func main() {
	root := &cobra.Command{
		Use:   "tabulon",
		Short: "Tabulon is an embedded tabular store with filtered views",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML or JSON)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "base directory for data files")

	root.AddCommand(
		newServeCmd(),
		newTablesCmd(),
		newCreateTableCmd(),
		newLoadCmd(),
		newQueryCmd(),
		newRemoveCmd(),
		newDropCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration from file, environment,
// and flags, in that order of increasing precedence.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, cfg.EnsureDirectories()
}

func buildStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Type {
	case "s3":
		return storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, storage.S3Config{
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
		})
	default:
		return storage.NewLocalStorage(cfg.Storage.Path)
	}
}

// buildEngine assembles the engine stack. The returned cleanup flushes and
// closes everything in reverse order.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	store, err := buildStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.NewCatalog(cfg.CatalogPath())
	if err != nil {
		return nil, nil, err
	}
	snapper, err := snapshot.NewSnapshotter(store, cfg.Snapshot.Workers)
	if err != nil {
		cat.Close()
		return nil, nil, err
	}

	eng := engine.New(cat, snapper)
	cleanup := func() {
		if err := eng.Close(); err != nil {
			log.Printf("tabulon: engine close: %v", err)
		}
		snapper.Close()
		cat.Close()
	}
	return eng, cleanup, nil
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Tabulon HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			eng, cleanup, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}

			sm := server.NewShutdownManager(server.ShutdownConfig{})
			sm.RegisterCloser(server.CloserFunc(func() error {
				cancel()
				cleanup()
				return nil
			}))

			go eng.RunSnapshotLoop(ctx, cfg.Snapshot.Interval)

			handler := server.ShutdownMiddleware(sm)(apihttp.NewAPI(eng).Handler())
			httpServer := &http.Server{
				Addr:         cfg.HTTP.Addr,
				Handler:      handler,
				ReadTimeout:  cfg.HTTP.ReadTimeout,
				WriteTimeout: cfg.HTTP.WriteTimeout,
				IdleTimeout:  cfg.HTTP.IdleTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("tabulon: listening on %s", cfg.HTTP.Addr)
				errCh <- server.NewGracefulHTTPServer(httpServer, sm).ListenAndServe()
			}()

			go func() {
				if err := sm.ListenForSignals(ctx); err != nil {
					log.Printf("tabulon: shutdown: %v", err)
				}
			}()

			return <-errCh
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List registered tables and their stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Listing reads the catalog and snapshot headers only; no engine
			// needed.
			cat, err := catalog.NewCatalog(cfg.CatalogPath())
			if err != nil {
				return err
			}
			defer cat.Close()
			store, err := buildStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			records, err := cat.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, rec := range records {
				line := fmt.Sprintf("%-24s %5d rows  gen %d  %s",
					rec.Name, rec.RowCount, rec.Generation, rec.Schema.ColumnNames())
				if rec.SnapshotKey != "" {
					blob, err := store.Get(cmd.Context(), rec.SnapshotKey)
					if err != nil {
						return err
					}
					info, err := snapshot.Info(blob)
					if err != nil {
						return err
					}
					line += fmt.Sprintf("  snapshot @ %s (%d rows)",
						info.CreatedAt.Format(time.RFC3339), len(info.Rows))
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newCreateTableCmd() *cobra.Command {
	var columns []string

	cmd := &cobra.Command{
		Use:   "create-table <name>",
		Short: "Create a table with the given columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := parseSchema(columns)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, cleanup, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.CreateTable(cmd.Context(), args[0], schema); err != nil {
				return err
			}
			fmt.Printf("created table %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&columns, "column", nil, "column as name:type (repeatable)")
	cmd.MarkFlagRequired("column")
	return cmd
}

func newLoadCmd() *cobra.Command {
	var hasHeader bool

	cmd := &cobra.Command{
		Use:   "load <table> <csv-file>",
		Short: "Load rows from a CSV file into a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, cleanup, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := loadCSV(cmd.Context(), eng, args[0], args[1], hasHeader)
			if err != nil {
				return err
			}
			fmt.Printf("loaded %d rows into %q\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&hasHeader, "header", true, "skip the first line as a header row")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var (
		filter     string
		sortColumn string
		descending bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Run a filter expression against a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, cleanup, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := eng.Query(cmd.Context(), args[0], filter, sortColumn, descending, limit)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "filter expression, e.g. \"age >= 21 and name begins 'a'\"")
	cmd.Flags().StringVar(&sortColumn, "sort", "", "column to sort by")
	cmd.Flags().BoolVar(&descending, "desc", false, "sort descending")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to print (0 = all)")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "remove <table>",
		Short: "Delete every row matching the filter expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, cleanup, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			removed, err := eng.RemoveRows(cmd.Context(), args[0], filter)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d rows from %q\n", removed, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "filter expression (empty removes every row)")
	return cmd
}

func newDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <table>",
		Short: "Drop a table and its snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, cleanup, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.DropTable(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("dropped table %q\n", args[0])
			return nil
		},
	}
}

// parseSchema parses repeated name:type column flags.
func parseSchema(columns []string) (types.Schema, error) {
	schema := types.Schema{}
	for _, col := range columns {
		name, typeName, ok := strings.Cut(col, ":")
		if !ok {
			return schema, fmt.Errorf("bad column %q, want name:type", col)
		}
		ct, err := types.ParseType(typeName)
		if err != nil {
			return schema, err
		}
		schema.Columns = append(schema.Columns, types.ColumnDef{Name: name, Type: ct})
	}
	return schema, nil
}

// loadCSV appends every record of a CSV file to the table, coercing cells
// by column type, then snapshots the table.
func loadCSV(ctx context.Context, eng *engine.Engine, tableName, path string, hasHeader bool) (int, error) {
	schema, err := eng.TableSchema(ctx, tableName)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(schema.Columns)

	loaded := 0
	for line := 0; ; line++ {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return loaded, fmt.Errorf("line %d: %w", line+1, err)
		}
		if line == 0 && hasHeader {
			continue
		}

		values := make([]interface{}, len(record))
		for i, cell := range record {
			v, err := coerceCell(cell, schema.Columns[i].Type)
			if err != nil {
				return loaded, fmt.Errorf("line %d column %q: %w", line+1, schema.Columns[i].Name, err)
			}
			values[i] = v
		}
		if _, err := eng.Append(ctx, tableName, values...); err != nil {
			return loaded, err
		}
		loaded++
	}

	return loaded, eng.Snapshot(ctx, tableName)
}

func coerceCell(cell string, ct types.Type) (interface{}, error) {
	switch ct {
	case types.TypeInt:
		return strconv.ParseInt(strings.TrimSpace(cell), 10, 64)
	case types.TypeFloat:
		return strconv.ParseFloat(strings.TrimSpace(cell), 64)
	case types.TypeBool:
		return strconv.ParseBool(strings.TrimSpace(cell))
	case types.TypeDate:
		return time.Parse(time.RFC3339, strings.TrimSpace(cell))
	case types.TypeLink:
		return types.ParseRowID(strings.TrimSpace(cell))
	default:
		// String, binary, and mixed columns take the cell text as is.
		return cell, nil
	}
}
