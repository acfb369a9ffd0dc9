package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/etiennedemoulin/nodes-lamb/internal/hook"
	"github.com/etiennedemoulin/nodes-lamb/internal/lamb"
	"github.com/etiennedemoulin/nodes-lamb/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool            `json:"valid"`
	Schemas []SchemaSummary `json:"schemas"`
}

// SchemaSummary describes one compiled schema.
type SchemaSummary struct {
	Name   string            `json:"name"`
	Fields schema.Definition `json:"fields"`
	Hook   []string          `json:"hook,omitempty"` // derived fields
}

// String renders the result for text output.
func (r ValidationResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ %d schema(s) valid\n", len(r.Schemas))
	for _, s := range r.Schemas {
		names := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			names[i] = fmt.Sprintf("%s:%s", f.Name, f.Type)
		}
		fmt.Fprintf(&b, "  %s {%s}", s.Name, strings.Join(names, ", "))
		if len(s.Hook) > 0 {
			fmt.Fprintf(&b, " hook -> %s", strings.Join(s.Hook, ", "))
		}
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compile and check schema files",
		Long: `Compile CUE schema files and install them in a fresh registry.

Reports invalid field descriptors, bad defaults, duplicate names and hooks
that derive undeclared fields. Without --schemas the built-in lamb schemas
are checked.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, dir, cmd)
		},
	}

	cmd.Flags().StringVar(&dir, "schemas", "", "CUE schema directory (default: built-in lamb schemas)")
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	res, err := lamb.Compile(dir)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeCompile, "schemas are invalid", err)
	}
	f.VerboseLog("compiled %d file(s): %d schema(s), %d hook(s)", res.FileCount, len(res.Schemas), len(res.Hooks))

	schemas := schema.NewRegistry()
	if err := res.Install(schemas, hook.NewRegistry()); err != nil {
		return f.Fail(ExitFailure, ErrCodeCompile, "schemas are invalid", err)
	}

	derived := make(map[string][]string)
	for _, h := range res.Hooks {
		for _, d := range h.Derivations {
			derived[h.Schema] = append(derived[h.Schema], d.Field)
		}
	}

	result := ValidationResult{Valid: true, Schemas: make([]SchemaSummary, 0, len(res.Schemas))}
	for _, name := range schemas.Names() {
		sch, err := schemas.Get(name)
		if err != nil {
			return err
		}
		result.Schemas = append(result.Schemas, SchemaSummary{
			Name:   name,
			Fields: sch.Fields(),
			Hook:   derived[name],
		})
	}
	return f.Success(result)
}
