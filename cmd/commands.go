package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mateusfdl/infisical/cmd/server"
)

const pamQueryDaemonDesc = `
pamqueryd is the query-execution core of a PAM database broker. Given an
authenticated session referencing a privileged database account, it builds a
nested mTLS tunnel through a relay/gateway chain, runs one SQL statement
against the target Postgres or MySQL database, and tears the tunnel down.
`

// NewCmdPamQueryDaemon builds the root command.
func NewCmdPamQueryDaemon() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pamqueryd",
		Short: "PAM database query broker core",
		Long:  pamQueryDaemonDesc,
	}
	cmd.AddCommand(server.NewServerCmd())

	return cmd
}
