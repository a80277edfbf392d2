package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lomesh",
	Short: "lomesh distance-vector mesh routing",
	Long: `lomesh maintains per-node routing state over an unreliable, low-bandwidth
broadcast mesh, converging under node churn and link loss using only periodic
and triggered advertisements.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "lomesh.yaml", "node configuration file")
}
