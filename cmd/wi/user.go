package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/systemaudit/winstaller/internal/models"
	"github.com/systemaudit/winstaller/internal/users"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User account management commands",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserBanCmd())
	cmd.AddCommand(newUserUnbanCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var (
		configPath string
		password   string
		admin      bool
	)

	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user account",
		Long:  "Creates an account directly, bypassing the activation code. Use --admin for accounts that may inspect other users' installations.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(cmd, configPath, args[0], password, admin)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Winstaller config file")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted if omitted)")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin privileges")
	return cmd
}

// promptPassword reads a password without echo. Overridable in tests.
var promptPassword = func(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ", label)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func runUserCreate(cmd *cobra.Command, configPath, username, password string, admin bool) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	if password == "" {
		password, err = promptPassword(cmd, "Password")
		if err != nil {
			return err
		}
		confirm, err := promptPassword(cmd, "Confirm password")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("passwords do not match")
		}
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	store := users.NewStore(users.Opts{DB: gormDB})
	u, err := store.Create(username, password, admin)
	if err != nil {
		return err
	}

	role := "user"
	if u.IsAdmin {
		role = "admin"
	}
	fmt.Fprintf(out, "Created %s %q (id %d)\n", role, u.Username, u.ID)
	return nil
}

func newUserBanCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ban <username>",
		Short: "Ban a user account",
		Long:  "Banned accounts cannot log in and their API tokens stop working.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserSetStatus(cmd, configPath, args[0], models.UserBanned)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Winstaller config file")
	return cmd
}

func newUserUnbanCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "unban <username>",
		Short: "Restore a banned user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserSetStatus(cmd, configPath, args[0], models.UserActive)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Winstaller config file")
	return cmd
}

func runUserSetStatus(cmd *cobra.Command, configPath, username, status string) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	store := users.NewStore(users.Opts{DB: gormDB})
	u, err := store.ByUsername(username)
	if err != nil {
		return err
	}
	if err := store.SetStatus(u.ID, status); err != nil {
		return err
	}
	fmt.Fprintf(out, "User %q is now %s\n", username, status)
	return nil
}
