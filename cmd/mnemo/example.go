package main

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/mnemo/plugin/ai/memory"
)

func exampleCMD(cfgPath func() string) *cobra.Command {
	var namespace string

	example := &cobra.Command{
		Use:   "example",
		Short: "Store, find, list and delete episodic exemplars",
	}
	example.PersistentFlags().StringVarP(&namespace, "namespace", "n", "", "exemplar namespace (required)")
	_ = example.MarkPersistentFlagRequired("namespace")

	var (
		label string
		tools []string
	)
	store := &cobra.Command{
		Use:   "store <query> <response>",
		Short: "Store an interaction as an exemplar",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, ok := memory.ParseLabel(label)
			if !ok {
				return errors.Errorf("label must be positive or negative, got %q", label)
			}
			a, err := newApp(cmd.Context(), cfgPath(), false)
			if err != nil {
				return err
			}
			res, storeErr := a.manager.StoreExample(cmd.Context(), namespace, args[0], args[1], l, tools)
			if err := writeJSON(cmd, res); err != nil {
				return err
			}
			if err := a.close(cmd.Context()); err != nil {
				return err
			}
			return storeErr
		},
	}
	store.Flags().StringVar(&label, "label", string(memory.LabelPositive), "positive or negative")
	store.Flags().StringSliceVar(&tools, "tool", nil, "tool call names (repeatable)")

	find := &cobra.Command{
		Use:   "find <query>",
		Short: "Find exemplars relevant to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfgPath(), false)
			if err != nil {
				return err
			}
			defer a.closeStores()
			found, err := a.manager.FindRelevantExamples(cmd.Context(), namespace, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return writeJSON(cmd, found)
		},
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List exemplars, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfgPath(), false)
			if err != nil {
				return err
			}
			defer a.closeStores()
			examples, err := a.manager.GetExamples(cmd.Context(), namespace, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd, examples)
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "maximum exemplars (default max_queue_size plus margin)")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an exemplar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfgPath(), false)
			if err != nil {
				return err
			}
			if err := a.manager.DeleteExample(cmd.Context(), namespace, args[0]); err != nil {
				a.closeStores()
				return err
			}
			return a.close(cmd.Context())
		},
	}

	example.AddCommand(store, find, list, del)
	return example
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
