package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/value"
)

const documentHelp = `The document is a JSON object given inline, as @path to read a file, or
as - to read standard input.`

// NewInsertCommand creates the insert command.
func NewInsertCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "insert <collection> <document>",
		Short: "Create a document under a generated id and print the id",
		Long:  "Create a document under a generated id and print the id.\n\n" + documentHelp,
		Example: `  docbridge insert cars '{"brand":"Toyota","year":1999}'
  docbridge insert cars @car.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[1], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), opts, func(ctx context.Context, s *session) error {
				id, err := s.docs.Insert(ctx, args[0], doc).Await(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

// NewEmptyCommand creates the empty command.
func NewEmptyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "empty <collection>",
		Short: "Reserve a new document id without writing a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(ctx context.Context, s *session) error {
				id, err := s.docs.Empty(ctx, args[0]).Await(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

// NewUpsertCommand creates the upsert command.
func NewUpsertCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upsert <collection> <id> <document>",
		Short: "Write a document at id, replacing any existing one",
		Long:  "Write a document at id, replacing any existing one.\n\n" + documentHelp,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[2], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), opts, func(ctx context.Context, s *session) error {
				_, err := s.docs.Upsert(ctx, args[0], args[1], doc).Await(ctx)
				return err
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Print one document as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(ctx context.Context, s *session) error {
				doc, err := s.docs.Get(ctx, args[0], args[1]).Await(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), doc)
			})
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <collection> <id> <document>",
		Short: "Overwrite an existing document; fails when id does not exist",
		Long:  "Overwrite an existing document; fails when id does not exist.\n\n" + documentHelp,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[2], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), opts, func(ctx context.Context, s *session) error {
				_, err := s.docs.Update(ctx, args[0], args[1], doc).Await(ctx)
				return err
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(ctx context.Context, s *session) error {
				_, err := s.docs.Delete(ctx, args[0], args[1]).Await(ctx)
				return err
			})
		},
	}
}

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Where  []string
	Limit  int
	Offset int
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <collection>",
		Short: "Run a query and print matching documents, one JSON object per line",
		Long: `Run a query and print matching documents, one JSON object per line.

Conditions are field<op>value with op one of ==, >, < or " contains " for
array membership. Values that parse as JSON are compared as such, anything
else as a string. Without --limit at most 20 documents are returned.`,
		Example: `  docbridge query cars --where 'year>1999' --where 'brand==Toyota' --limit 5`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := buildFilter(opts.Where, cmd, opts.Limit, opts.Offset)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), opts.RootOptions, func(ctx context.Context, s *session) error {
				m := s.docs.QueryBuilderSync(args[0])
				if err := f.Apply(m); err != nil {
					return err
				}
				docs, err := s.docs.Query(ctx, m).Await(ctx)
				if err != nil {
					return err
				}
				for _, doc := range docs {
					if err := writeJSON(cmd.OutOrStdout(), doc); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "condition field<op>value (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", query.DefaultLimit, "maximum number of documents")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of matching documents to skip")

	return cmd
}

// buildFilter turns --where expressions into a Filter. Limit and offset are
// only set when their flags were given.
func buildFilter(where []string, cmd *cobra.Command, limit, offset int) (query.Filter, error) {
	var f query.Filter
	for _, expr := range where {
		c, err := query.ParseCondition(expr)
		if err != nil {
			return f, err
		}
		f.Where = append(f.Where, c)
	}
	if cmd.Flags().Changed("limit") {
		f.Limit = &limit
	}
	if cmd.Flags().Changed("offset") {
		f.Offset = &offset
	}
	return f, nil
}

func readDocument(arg string, stdin io.Reader) (value.Map, error) {
	var raw []byte
	var err error
	switch {
	case arg == "-":
		raw, err = io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		raw, err = os.ReadFile(arg[1:])
	default:
		raw = []byte(arg)
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	v, err := value.ParseJSON(raw)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(value.Map)
	if !ok {
		return nil, fmt.Errorf("document must be a JSON object, got %s", v.Kind())
	}
	delete(doc, "_id")
	return doc, nil
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
