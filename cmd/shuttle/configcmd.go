package main

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/bamsammich/shuttle/internal/config"
)

const masked = "********"

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the configuration",
	}
	cmd.AddCommand(c.configShowCmd(), c.configSetFoldersCmd())
	return cmd
}

func (c *cli) configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the configuration file with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Fprintf(c.stdout, "# %s\n", c.configPath)
			fmt.Fprintf(c.stdout, "# state dir: %s\n", c.stateDir)
			if err := toml.NewEncoder(c.stdout).Encode(maskSecrets(c.cfg)); err != nil {
				return jobError(fmt.Errorf("encode config: %w", err))
			}
			return nil
		},
	}
}

func maskSecrets(cfg config.Config) config.Config {
	m := masked
	if cfg.Storage.Password != nil {
		cfg.Storage.Password = &m
	}
	if cfg.Notify.WebhookSecret != nil {
		cfg.Notify.WebhookSecret = &m
	}
	if cfg.Notify.SMTPPassword != nil {
		cfg.Notify.SMTPPassword = &m
	}
	return cfg
}

func (c *cli) configSetFoldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-folders SOURCE DEST",
		Short: "Set the source folder and the destination parent folder",
		Long: `Set the ids of the folder to copy and of the folder the copy is created
in. Ids are paths relative to the storage root. The change takes effect on
the next "shuttle start".`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			err := config.NewStore(c.configPath).SetFolders(map[string]string{
				config.KeySourceID: args[0],
				config.KeyDestID:   args[1],
			})
			if err != nil {
				if errors.Is(err, config.ErrEmptyValue) {
					return usageError(err)
				}
				return jobError(err)
			}
			fmt.Fprintf(c.stdout, "folders saved to %s\n", c.configPath)
			return nil
		},
	}
}
