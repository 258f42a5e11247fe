package main

import (
	"github.com/diviatrix/ts-cms-sub000/pkg/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server on stdio",
	Long: `Exposes the API gateway, the error classifier and the session to MCP
clients. Logs go to the log file or stderr so they never corrupt the
JSON-RPC stream on stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := mcp.NewServer(rt.Gateway, rt.Notifications, rt.Classifier)
		rt.Logger.Info("starting MCP server", zap.String("api", rt.Config.APIURL))
		defer rt.Notifications.Recover()
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
