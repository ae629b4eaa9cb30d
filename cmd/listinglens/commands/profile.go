package commands

import (
	"github.com/spf13/cobra"

	"github.com/jmylchreest/listinglens/pkg/profile"
)

var profileCmd = &cobra.Command{
	Use:   "profile [file]",
	Short: "Print a site profile as YAML",
	Long: `Print the built-in site profile, or validate and print a profile file.

The output is a valid profile and a starting point for new sites:
  listinglens profile > site.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProfile,
}

func init() {
	rootCmd.AddCommand(profileCmd)
}

func runProfile(cmd *cobra.Command, args []string) error {
	p := profile.Default()
	if len(args) == 1 {
		loaded, err := profile.Load(args[0])
		if err != nil {
			logError("%v", err)
			return err
		}
		p = loaded
	}

	data, err := p.YAML()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
