package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/trackwatch/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio so assistants
can inspect sync state. Configure it with:

  {
    "mcpServers": {
      "trackwatch": { "command": "trackwatch", "args": ["mcp"] }
    }
  }

Available tools: trackwatch_watermarks, trackwatch_recent_runs,
trackwatch_clear_watermark`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := getStore()
		if err != nil {
			return err
		}
		projects := projectList(viper.GetStringSlice("tracker.projects"))
		return mcp.NewServer(st, projects, buildVersion).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
