package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/praetorian-inc/certwatch/pkg/matcher"
	"github.com/praetorian-inc/certwatch/pkg/rule"
	"github.com/praetorian-inc/certwatch/pkg/types"
	"github.com/spf13/cobra"
)

var (
	rulesPath    string
	outputFormat string
	rulesEngine  string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect pattern files",
	Long:  "Commands for listing and validating the patterns certwatch would load",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List patterns in a file",
	Long:  "Display every pattern of a file with its ID and name",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compile a pattern file and check rule examples",
	Args:  cobra.NoArgs,
	RunE:  runRulesValidate,
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesValidateCmd)

	rulesCmd.PersistentFlags().StringVarP(&rulesPath, "regex-file", "r", "regexes.txt", "Pattern file, one regex per line (.yml/.yaml for rule files)")
	rulesListCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format: table, json")
	rulesValidateCmd.Flags().StringVar(&rulesEngine, "engine", matcher.EngineRegexp, "Regex engine: regexp, hyperscan")
}

func runRulesList(cmd *cobra.Command, args []string) error {
	patterns, err := rule.LoadFile(rulesPath)
	if err != nil {
		return err
	}

	switch outputFormat {
	case "json":
		return outputRulesJSON(cmd, patterns)
	case "table":
		return outputRulesTable(cmd, patterns)
	default:
		return fmt.Errorf("unknown output format: %s", outputFormat)
	}
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	patterns, err := rule.LoadFile(rulesPath)
	if err != nil {
		return err
	}

	set, err := matcher.Compile(patterns, matcher.WithEngine(rulesEngine))
	if err != nil {
		return err
	}
	defer set.Close()

	if err := rule.ValidateExamples(patterns, set); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d patterns OK\n", rulesPath, set.Len())
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type ruleSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Pattern  string `json:"pattern"`
	Examples int    `json:"examples"`
}

func summarize(patterns []types.Pattern) []ruleSummary {
	out := make([]ruleSummary, len(patterns))
	for i, p := range patterns {
		out[i] = ruleSummary{
			ID:       p.ID,
			Name:     p.Name,
			Pattern:  p.Source,
			Examples: len(p.Examples) + len(p.NegativeExamples),
		}
	}
	return out
}

func outputRulesJSON(cmd *cobra.Command, patterns []types.Pattern) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(summarize(patterns))
}

func outputRulesTable(cmd *cobra.Command, patterns []types.Pattern) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "ID\tName\tPattern\n")
	fmt.Fprintf(w, "--\t----\t-------\n")

	for _, p := range patterns {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, p.Source)
	}

	return nil
}
