package main

import (
	"github.com/spf13/cobra"

	"github.com/Jmemon/contextual-clarity-sub001/internal/mcpserver"
	"github.com/Jmemon/contextual-clarity-sub001/pkg/app"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the recall library to MCP clients over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd, app.BuildOptions{SkipProviders: true})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			srv := mcpserver.New(rt.Catalog, rt.Store, version, rt.Logger)
			return srv.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
