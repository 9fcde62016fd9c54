/*
main.go - Legacy audit log importer

PURPOSE:
  Loads audit entries exported from the previous document store and
  appends them, normalized to the current schema, to the configured
  store. Entries keep their original ids, so re-running an import is
  harmless.

INPUT:
  A JSON array of documents, or one JSON document per line.

COMMAND-LINE FLAGS:
  -in     export file (default: stdin)
  -db     SQLite database path (overrides SQLITE_PATH)

  DB_DRIVER / DB_URL select postgres, as for the server.

EXAMPLES:
  ./audit-import -in=auditLogs.json -db=./data/payouts.db
*/
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/warp/payout-engine/audit"
	"github.com/warp/payout-engine/config"
	"github.com/warp/payout-engine/store/postgres"
	"github.com/warp/payout-engine/store/sqlite"
)

type importConfig struct {
	DB config.DB
}

type appender interface {
	audit.Store
	Close() error
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to read .env", slog.Any("error", err))
	}
	var cfg importConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Error("failed to read environment", slog.Any("error", err))
		os.Exit(1)
	}

	in := flag.String("in", "", "export file (default: stdin)")
	dbPath := flag.String("db", cfg.DB.SQLitePath, "SQLite database path")
	flag.Parse()
	cfg.DB.SQLitePath = *dbPath

	src := io.Reader(os.Stdin)
	if *in != "" {
		f, err := os.Open(*in)
		if err != nil {
			log.Error("failed to open input", slog.Any("error", err))
			os.Exit(1)
		}
		defer f.Close()
		src = f
	}

	docs, err := readDocuments(src)
	if err != nil {
		log.Error("failed to read export", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg.DB)
	if err != nil {
		log.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	res := audit.Import(ctx, store, docs)
	for _, err := range res.Errors {
		log.Warn("skipped document", slog.Any("error", err))
	}
	log.Info("import finished",
		slog.Int("read", len(docs)),
		slog.Int("imported", res.Imported),
		slog.Int("skipped", res.Skipped))
	if res.Imported == 0 && res.Skipped > 0 {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.DB) (appender, error) {
	if cfg.Driver == "postgres" {
		return postgres.Connect(ctx, cfg.URL)
	}
	return sqlite.New(cfg.SQLitePath)
}

// readDocuments accepts a JSON array or newline-delimited JSON.
func readDocuments(r io.Reader) ([]map[string]any, error) {
	br := bufio.NewReader(r)
	for {
		b, err := br.Peek(1)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, err
		}
		if b[0] == ' ' || b[0] == '\n' || b[0] == '\r' || b[0] == '\t' {
			br.ReadByte()
			continue
		}
		break
	}

	dec := json.NewDecoder(br)
	if b, _ := br.Peek(1); b[0] == '[' {
		var docs []map[string]any
		if err := dec.Decode(&docs); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return docs, nil
	}

	var docs []map[string]any
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode document %d: %w", len(docs), err)
		}
		docs = append(docs, doc)
	}
}
