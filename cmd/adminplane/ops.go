package main

import (
	"encoding/json"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/config"
	"github.com/MuhamedUsman/adminplane/internal/ui"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
	"io"
	"maps"
	"slices"
	"strings"
)

// runOperation sends the [operations] entry named args[0]. A second argument replaces the
// configured entity.
func (a *app) runOperation(cmd *cobra.Command, args []string) error {
	op, err := resolveOperation(a.cfg.Operations, args)
	if err != nil {
		return err
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	ctx, cancel := a.clientContext(cmd.Context())
	defer cancel()
	ans, err := c.Custom(ctx, op.Dispatcher, op.Command, op.Entity)
	if pErr := ui.PrintAnswer(cmd.OutOrStdout(), ans); pErr != nil && err == nil {
		err = pErr
	}
	return err
}

func resolveOperation(ops map[string]config.Operation, args []string) (config.Operation, error) {
	if len(args) > 2 {
		return config.Operation{}, fmt.Errorf("operation %q takes at most one entity argument", args[0])
	}
	op, ok := ops[args[0]]
	if !ok {
		return config.Operation{}, unknownOperation(args[0], slices.Sorted(maps.Keys(ops)))
	}
	if len(args) == 2 {
		op.Entity = args[1]
	}
	return op, nil
}

func unknownOperation(name string, known []string) error {
	msg := fmt.Sprintf("unknown operation %q", name)
	matches := fuzzy.Find(name, known)
	if len(matches) == 0 {
		if len(known) == 0 {
			return fmt.Errorf("%s, no operations are configured", msg)
		}
		return fmt.Errorf("%s, configured: %s", msg, strings.Join(known, ", "))
	}
	suggestions := make([]string, 0, 3)
	for _, m := range matches {
		if len(suggestions) == cap(suggestions) {
			break
		}
		suggestions = append(suggestions, m.Str)
	}
	return fmt.Errorf("%s, did you mean %s?", msg, strings.Join(suggestions, " or "))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	return enc.Encode(v)
}
