package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/pkg/models"
)

func newRootCommand() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:           "clover",
		Short:         "Record linkage and golden record service",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(envFiles...)
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the record change consumer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(envFiles...)
		},
	})
	root.AddCommand(newRulesCommand())
	root.AddCommand(newEvaluateCommand())
	return root
}

func newRulesCommand() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule sets",
	}
	rules.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Load and compile a rule set, then print its fields and rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matcher, err := loadMatcher(args[0], silentLogger())
			if err != nil {
				return exitWith(2, err)
			}

			out := cmd.OutOrStdout()
			rs := matcher.RuleSet()
			fmt.Fprintf(out, "rule set %q: golden type %s, score policy %s\n", rs.Name, matcher.GoldenType(), rs.EffectiveScorePolicy())
			for i, name := range matcher.Engine().FieldNames() {
				fmt.Fprintf(out, "  field %2d %s\n", i, name)
			}
			for _, rule := range matcher.Classifier().Rules() {
				fmt.Fprintf(out, "  rule %s -> %s\n", rule.Name, rule.Classification)
			}
			return nil
		},
	})
	return rules
}

func newEvaluateCommand() *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "evaluate <left.json> <right.json>",
		Short: "Score two documents against a rule set and print the breakdown",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			matcher, err := loadMatcher(rulesPath, silentLogger())
			if err != nil {
				return exitWith(2, err)
			}
			left, err := readDocument(args[0])
			if err != nil {
				return err
			}
			right, err := readDocument(args[1])
			if err != nil {
				return err
			}

			resp, err := matcher.Evaluate(context.Background(), models.Record{Data: left}, models.Record{Data: right})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "rulesets/person.yaml", "rule set file")
	return cmd
}

func readDocument(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func silentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}
