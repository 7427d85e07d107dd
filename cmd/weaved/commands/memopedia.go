package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saiverse/memoryweave/internal/store"
)

var (
	memopediaKeyword    string
	memopediaDirections string
	memopediaCategory   string

	memopediaTreeKeywords bool
	memopediaTreeMarkers  bool
)

var memopediaCmd = &cobra.Command{
	Use:   "memopedia",
	Short: "Memopedia knowledge-page generation and inspection",
}

var memopediaGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the deep-research loop for a keyword, creating or updating its page",
	RunE: func(cmd *cobra.Command, args []string) error {
		if memopediaKeyword == "" {
			return fmt.Errorf("--keyword is required")
		}

		var category store.PageCategory
		switch memopediaCategory {
		case "people":
			category = store.CategoryPeople
		case "terms":
			category = store.CategoryTerms
		case "plans":
			category = store.CategoryPlans
		default:
			return fmt.Errorf("--category must be one of people, terms, plans")
		}

		env, err := openPersona()
		if err != nil {
			return err
		}
		defer env.close()

		result, err := env.research.Generate(cmd.Context(), memopediaKeyword, memopediaDirections, category)
		if err != nil {
			return fmt.Errorf("generate memopedia page: %w", err)
		}

		fmt.Printf("%s page %q after %d loop(s)\n", result.Action, memopediaKeyword, result.LoopsCompleted)
		return nil
	},
}

var memopediaTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the Memopedia page tree as markdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openPersona()
		if err != nil {
			return err
		}
		defer env.close()

		md, err := env.memopedia.GetTreeMarkdown(memopediaTreeKeywords, memopediaTreeMarkers)
		if err != nil {
			return fmt.Errorf("render tree: %w", err)
		}
		fmt.Println(md)
		return nil
	},
}

func init() {
	memopediaGenerateCmd.Flags().StringVar(&memopediaKeyword, "keyword", "", "keyword or entity to research (required)")
	memopediaGenerateCmd.Flags().StringVar(&memopediaDirections, "directions", "", "optional guidance for what to focus the research on")
	memopediaGenerateCmd.Flags().StringVar(&memopediaCategory, "category", "terms", "page category: people, terms, plans")

	memopediaTreeCmd.Flags().BoolVar(&memopediaTreeKeywords, "keywords", false, "include each page's keywords")
	memopediaTreeCmd.Flags().BoolVar(&memopediaTreeMarkers, "markers", false, "include vividness markers")

	memopediaCmd.AddCommand(memopediaGenerateCmd)
	memopediaCmd.AddCommand(memopediaTreeCmd)
}
