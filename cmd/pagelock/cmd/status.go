package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state and lock settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newClient(cfg)
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		unlocked, err := client.QueryLockStatus(ctx)
		if err != nil {
			return err
		}
		hasCred, err := client.HasCredential(ctx)
		if err != nil {
			return err
		}
		settings, err := client.Settings(ctx)
		if err != nil {
			return err
		}

		state := "locked"
		if unlocked {
			state = "unlocked"
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Session:            %s\n", state)
		fmt.Fprintf(out, "Password set:       %t\n", hasCred)
		fmt.Fprintf(out, "Lock enabled:       %t\n", settings.Enabled)
		fmt.Fprintf(out, "Inactivity timeout: %s\n", settings.InactivityTimeout())
		fmt.Fprintf(out, "Biometrics:         %t\n", settings.BiometricsEnabled)
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Lock every open page now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if err := newClient(cfg).LockRequested(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Session locked")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(lockCmd)
}
