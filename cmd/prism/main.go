package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prabodh-fiddler/prism/internal/config"
	"github.com/prabodh-fiddler/prism/internal/contract"
	"github.com/prabodh-fiddler/prism/internal/schema"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "prism",
		Short:        "Prism contract validation server",
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func printError(err error) {
	var (
		cfgErr      *config.ValidationError
		contractErr *contract.ValidationError
		schemaErr   *schema.ConfigError
	)
	switch {
	case errors.As(err, &cfgErr):
		for _, msg := range cfgErr.Problems {
			fmt.Fprintln(os.Stderr, msg)
		}
	case errors.As(err, &contractErr):
		fmt.Fprintln(os.Stderr, err)
		for _, msg := range contractErr.Problems {
			fmt.Fprintln(os.Stderr, "  "+msg)
		}
	case errors.As(err, &schemaErr):
		fmt.Fprintln(os.Stderr, err)
		for _, msg := range schemaErr.Problems {
			fmt.Fprintln(os.Stderr, "  "+msg)
		}
	default:
		fmt.Fprintln(os.Stderr, err)
	}
}

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a Prism configuration file and its contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "config ok (%d operations)\n", catalog.Len())
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version=%s commit=%s buildDate=%s\n", version, commit, buildDate)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadCatalog reads every configured contract. Any broken source stops the
// process before a listener is opened.
func loadCatalog(cfg *config.Config) (*contract.Catalog, error) {
	var ops []*contract.Operation
	for _, source := range cfg.Contracts {
		loaded, err := contract.Load(cfg.ResolvePath(source.Path), contract.Format(source.Format))
		if err != nil {
			return nil, err
		}
		ops = append(ops, loaded...)
	}
	return contract.NewCatalog(ops...)
}
