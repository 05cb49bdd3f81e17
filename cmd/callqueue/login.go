package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save the operator name used for claims",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved operator name",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current operator",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

var loginName string

func init() {
	loginCmd.Flags().StringVar(&loginName, "name", "", "operator name (required)")
	loginCmd.MarkFlagRequired("name")
}

func runLogin(cmd *cobra.Command, args []string) error {
	m, err := identityManager()
	if err != nil {
		return err
	}
	p, err := m.Login(loginName)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Signed in as %s\n", p.Name)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	m, err := identityManager()
	if err != nil {
		return err
	}
	if err := m.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Signed out")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	m, err := identityManager()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, m.OperatorName())
	if p := m.Profile(); p != nil && cfg.Operator.Name == "" {
		fmt.Fprintf(out, "  signed in since %s\n", p.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}
