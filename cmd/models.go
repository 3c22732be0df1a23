package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/copilot-gateway/internal/copilot"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models Copilot serves",
	Long:  `Fetch the Copilot model catalog for the authorized account and print it.`,
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().Bool("vision", false, "only list models that accept images")
	modelsCmd.Flags().Bool("refresh", false, "bypass the cached catalog")
	modelsCmd.Flags().Bool("json", false, "print the catalog as JSON")
}

func runModels(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	vision, _ := cmd.Flags().GetBool("vision")
	refresh, _ := cmd.Flags().GetBool("refresh")
	asJSON, _ := cmd.Flags().GetBool("json")

	catalog, err := newCopilotManager(cfg).Catalog(cmd.Context(), refresh)
	if err != nil {
		return err
	}

	models := catalog.Models
	if vision {
		models = catalog.VisionModels()
	}

	if asJSON {
		if models == nil {
			models = []copilot.Model{}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(map[string]any{"object": "list", "data": models})
	}

	if len(models) == 0 {
		color.Yellow("No models found")
		return nil
	}

	printModels(models)

	return nil
}

func printModels(models []copilot.Model) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tVENDOR\tCONTEXT\tVISION\tTOOLS")

	for _, model := range models {
		limits := model.Capabilities.Limits
		supports := model.Capabilities.Supports

		fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%v\n",
			model.ID, model.Vendor, limits.MaxContextWindowTokens, supports.Vision, supports.ToolCalls)
	}
}
