package main

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/alexshd/homeostat"
	"github.com/alexshd/homeostat/mcptools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve decide_mode, lambda_time and tune as MCP tools over stdio.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		core, err := homeostat.NewCore(cfg, logger)
		if err != nil {
			return err
		}

		logger.Info("homeostat MCP server on stdio", "version", Version)
		return server.ServeStdio(mcptools.NewServer(core, Version))
	},
}
