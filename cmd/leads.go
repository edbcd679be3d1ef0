package main

import (
	"io"
	"net/url"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// leadFlags maps CLI flags to the query parameters the API accepts.
var leadFlags = map[string]string{
	"page":            "page",
	"page-size":       "pageSize",
	"risk":            "riskLevel",
	"min-probability": "minProbability",
	"max-probability": "maxProbability",
	"job":             "job",
	"education":       "education",
	"marital":         "marital",
	"contact":         "contact",
	"sort-by":         "sortBy",
	"sort-order":      "sortOrder",
}

var leadsCmd = &cobra.Command{
	Use:   "leads <campaign-id>",
	Short: "List a campaign's scored leads",
	Long: `Lists one page of a campaign's leads, filtered and sorted the same way as
GET /api/campaigns/{id}/leads.

Examples:
  leadscore leads 3f2a... --risk High --page-size 50
  leadscore leads 3f2a... --min-probability 0.4 --sort-by balance --sort-order asc -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "query")
		if err != nil {
			return err
		}
		defer env.Close()

		page, err := env.Queries.Leads(ctx, args[0], leadValues(cmd.Flags()))
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), outputFormat, page, func(w io.Writer) {
			formatLeadPage(w, page)
		})
	},
}

var leadCmd = &cobra.Command{
	Use:   "lead <lead-id>",
	Short: "Show one lead with its reason codes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "query")
		if err != nil {
			return err
		}
		defer env.Close()

		l, err := env.Queries.Lead(ctx, args[0])
		if err != nil {
			return err
		}
		format := outputFormat
		if format == formatTable {
			format = formatYAML
		}
		return render(cmd.OutOrStdout(), format, l, nil)
	},
}

// leadValues copies the flags the user set into query parameters.
func leadValues(fs *pflag.FlagSet) url.Values {
	v := url.Values{}
	fs.Visit(func(f *pflag.Flag) {
		if param, ok := leadFlags[f.Name]; ok {
			v.Set(param, f.Value.String())
		}
	})
	return v
}

func init() {
	f := leadsCmd.Flags()
	f.Int("page", 1, "page number")
	f.Int("page-size", 0, "leads per page (default from config)")
	f.String("risk", "", "risk level: Low, Medium or High")
	f.String("min-probability", "", "minimum probability, 0 to 1")
	f.String("max-probability", "", "maximum probability, 0 to 1")
	f.String("job", "", "exact job")
	f.String("education", "", "exact education")
	f.String("marital", "", "exact marital status")
	f.String("contact", "", "exact contact channel")
	f.String("sort-by", "probability", "probability, age, balance or created_at")
	f.String("sort-order", "desc", "asc or desc")

	rootCmd.AddCommand(leadsCmd, leadCmd)
}
