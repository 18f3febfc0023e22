// Command memoryctl is a thin demonstration client over the Memory
// Orchestrator: it is not the transport layer (REST/MCP/dashboard are
// external collaborators), just enough wiring to exercise the engines
// end-to-end against a local database file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryvcs/internal/fact"
	"github.com/kittclouds/memoryvcs/internal/search"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
	"github.com/kittclouds/memoryvcs/pkg/orchestrator"
)

func main() {
	dbPath := flag.String("db", ":memory:", "path to the SQLite database file")
	configPath := flag.String("config", "", "optional YAML config file (overrides -db)")
	factText := flag.String("write-fact", "", "write a fact with this text to the main branch and exit")
	query := flag.String("search", "", "run a hybrid search for this query against the main branch and exit")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg := orchestrator.DefaultConfig()
	if *configPath != "" {
		loaded, err := orchestrator.LoadConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
		cfg = loaded
	} else {
		cfg.DatabasePath = *dbPath
	}

	orch, err := orchestrator.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("start orchestrator")
	}
	defer orch.Close()

	ctx := context.Background()

	switch {
	case *factText != "":
		f, err := writeFactWithRetry(ctx, orch, *factText)
		if err != nil {
			log.Fatal().Err(err).Msg("write fact")
		}
		fmt.Printf("wrote fact %s (status=%s, parent=%s)\n", f.ID, f.Status, f.ParentID)

	case *query != "":
		results, err := orch.Search.Search(ctx, search.Params{
			Table:  "facts",
			Query:  *query,
			Branch: storage.MainBranch,
			Type:   search.Hybrid,
			Limit:  10,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("search")
		}
		for _, r := range results {
			fmt.Printf("%.4f  %s\n", r.Score, r.ID)
		}

	default:
		fmt.Println("usage: memoryctl [-db path] [-write-fact text | -search query]")
	}
}

// writeFactWithRetry retries only the orchestrator-facing call, and only on
// errors the engine itself marked retryable (ResourceExhausted/Unavailable).
// Engines never retry internally; that policy decision belongs to a client
// like this one.
func writeFactWithRetry(ctx context.Context, orch *orchestrator.Orchestrator, text string) (*storage.Fact, error) {
	var result *storage.Fact
	operation := func() error {
		f, err := orch.Fact.Write(ctx, fact.WriteParams{
			FactText:   text,
			BranchName: storage.MainBranch,
		})
		if err != nil {
			var oe *orcherr.Error
			if errors.As(err, &oe) && oe.Retryable {
				return err
			}
			return backoff.Permanent(err)
		}
		result = f
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}
