package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/refresher/internal/model"
)

// OwnerEntity is one row of the show command output.
type OwnerEntity struct {
	Type     model.EntityType `json:"type"`
	ID       string           `json:"id"`
	UUID     string           `json:"uuid"`
	Name     string           `json:"name"`
	Version  uint64           `json:"version"`
	Children []string         `json:"children,omitempty"`
}

// ShowResult is the show command output.
type ShowResult struct {
	Owner    string        `json:"owner"`
	Entities []OwnerEntity `json:"entities"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <owner>",
		Short: "List the products and contents an owner is associated with",
		Example: `  refresher show acme
  refresher show acme --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args[0], cmd)
		},
	}
}

func runShow(opts *RootOptions, owner string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err.Error(), err)
	}
	defer st.Close()

	ctx := commandContext(cmd)
	products, err := st.ListOwnerProducts(ctx, owner)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list products", err.Error(), err)
	}
	contents, err := st.ListOwnerContents(ctx, owner)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list contents", err.Error(), err)
	}

	result := ShowResult{Owner: owner, Entities: make([]OwnerEntity, 0, len(products)+len(contents))}
	for _, p := range products {
		e := OwnerEntity{Type: model.TypeProduct, ID: p.ID(), UUID: p.UUID(), Name: p.Name(), Version: p.Version()}
		if d := p.DerivedProduct(); d != nil {
			e.Children = append(e.Children, "derived:"+d.ID())
		}
		for _, pp := range p.ProvidedProducts() {
			e.Children = append(e.Children, "provided:"+pp.ID())
		}
		for _, pc := range p.ProductContent() {
			e.Children = append(e.Children, "content:"+pc.Content.ID())
		}
		result.Entities = append(result.Entities, e)
	}
	for _, c := range contents {
		result.Entities = append(result.Entities, OwnerEntity{
			Type: model.TypeContent, ID: c.ID(), UUID: c.UUID(), Name: c.Name(), Version: c.Version(),
		})
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	writeShowText(formatter.Writer, result)
	return nil
}

func writeShowText(w io.Writer, result ShowResult) {
	if len(result.Entities) == 0 {
		fmt.Fprintf(w, "Owner %s has no products or contents.\n", result.Owner)
		return
	}
	fmt.Fprintf(w, "Owner %s:\n", result.Owner)
	for _, e := range result.Entities {
		fmt.Fprintf(w, "  %-8s %-20s %s %016x %q\n", e.Type, e.ID, e.UUID, e.Version, e.Name)
		for _, child := range e.Children {
			fmt.Fprintf(w, "    -> %s\n", child)
		}
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
