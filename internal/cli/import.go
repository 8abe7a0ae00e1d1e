package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Rupali59/docbridge/pkg/reactive"
	"github.com/Rupali59/docbridge/pkg/value"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	StampField string
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <collection> <file>",
		Short: "Upsert every document of a JSON file keyed by id",
		Long: `Upsert every document of a JSON file into a collection.

The file holds one object whose keys are document ids and whose values are
the documents. Existing documents with the same ids are replaced.`,
		Example: `  docbridge import entity_configurations seeds/data/global/entity_configs.json --stamp updatedAt`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readSeedFile(args[1])
			if err != nil {
				return err
			}
			if opts.StampField != "" {
				now := value.String(time.Now().UTC().Format(time.RFC3339))
				for _, doc := range docs {
					doc[opts.StampField] = now
				}
			}
			return withSession(cmd.Context(), opts.RootOptions, func(ctx context.Context, s *session) error {
				n, err := importDocuments(ctx, s.docs, args[0], docs)
				s.logger.Info("import finished", zap.String("collection", args[0]), zap.Int("written", n), zap.Int("total", len(docs)))
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d documents into %s\n", n, len(docs), args[0])
				return err
			})
		},
	}

	cmd.Flags().StringVar(&opts.StampField, "stamp", "", "set this field to the import time on every document")

	return cmd
}

func readSeedFile(path string) (map[string]value.Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	v, err := value.ParseJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	top, ok := v.(value.Map)
	if !ok {
		return nil, fmt.Errorf("seed file must hold a JSON object keyed by id, got %s", v.Kind())
	}
	docs := make(map[string]value.Map, len(top))
	for id, doc := range top {
		m, ok := doc.(value.Map)
		if !ok {
			return nil, fmt.Errorf("seed file: document %q is %s, not an object", id, doc.Kind())
		}
		docs[id] = m
	}
	return docs, nil
}

// importDocuments submits every upsert before awaiting any, so the pool
// works through them in parallel. It returns the number written.
func importDocuments(ctx context.Context, docs *reactive.Facade[value.Map], collection string, batch map[string]value.Map) (int, error) {
	ids := make([]string, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	futures := make([]*reactive.Future[bool], len(ids))
	for i, id := range ids {
		futures[i] = docs.Upsert(ctx, collection, id, batch[id])
	}

	var errs []error
	written := 0
	for i, f := range futures {
		if _, err := f.Await(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ids[i], err))
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}
