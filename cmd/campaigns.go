package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/internal/query"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Inspect and delete campaigns",
	Long:  "Commands for listing, viewing and deleting scored campaigns.",
}

// -- campaigns list --

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "query")
		if err != nil {
			return err
		}
		defer env.Close()

		v := url.Values{}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
			v.Set("limit", strconv.Itoa(limit))
		}
		if createdBy, _ := cmd.Flags().GetString("created-by"); createdBy != "" {
			v.Set("createdBy", createdBy)
		}

		filter, err := query.ParseCampaignFilter(v, env.Queries.Limits(), cfg.CLI.UserID)
		if err != nil {
			return err
		}
		list, err := env.Campaigns.List(ctx, filter)
		if err != nil {
			return err
		}
		if list == nil {
			list = []model.Campaign{}
		}

		if len(list) == 0 && outputFormat == formatTable {
			fmt.Fprintln(os.Stderr, "No campaigns found.")
			return nil
		}
		return render(cmd.OutOrStdout(), outputFormat, list, func(w io.Writer) {
			formatCampaignsList(w, list)
		})
	},
}

// -- campaigns show --

var campaignsShowCmd = &cobra.Command{
	Use:   "show <campaign-id>",
	Short: "Show one campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "query")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Campaigns.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), outputFormat, c, func(w io.Writer) {
			formatCampaign(w, c)
		})
	},
}

// -- campaigns delete --

var campaignsDeleteCmd = &cobra.Command{
	Use:   "delete <campaign-id>",
	Short: "Delete a campaign and its leads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "query")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Campaigns.Delete(ctx, args[0], cfg.CLI.UserID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted campaign %s\n", args[0])
		return nil
	},
}

func init() {
	campaignsListCmd.Flags().Int("limit", 0, "maximum campaigns to list (default from config)")
	campaignsListCmd.Flags().String("created-by", "", "only campaigns created by this user id")

	campaignsCmd.AddCommand(campaignsListCmd, campaignsShowCmd, campaignsDeleteCmd)
	rootCmd.AddCommand(campaignsCmd)
}
