// ABOUTME: Long-running façades: serve starts the HTTP management server, mcp serves MCP tools over stdio.
// ABOUTME: Both stop cleanly when the process receives SIGINT or SIGTERM.
package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/2389-research/taskrunner/mcpserver"
	"github.com/2389-research/taskrunner/web"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP management server for the base directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			srv, err := web.NewServer(web.ServerConfig{
				Addr:    addr,
				BaseDir: a.baseDir,
				Config:  cfg,
				Logger:  log.New(a.stderr, "", log.LstdFlags),
			})
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:2389", "Listen address")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve taskrunner tools to an MCP client over stdio",
		Long: `Serve taskrunner tools to an MCP client over stdin/stdout. Tools default to
the base directory given here and accept a base_dir argument to target another.
Logs go to stderr only with --verbose; stdout carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			srv := mcpserver.New(mcpserver.Config{
				BaseDir: a.baseDir,
				Runner:  cfg,
				Logger:  a.logger(),
				Version: version,
			})
			return srv.Run(cmd.Context())
		},
	}
}
