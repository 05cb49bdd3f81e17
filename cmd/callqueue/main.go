package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fentz26/callqueue/internal/config"
	"github.com/fentz26/callqueue/internal/identity"
)

var rootCmd = &cobra.Command{
	Use:   "callqueue",
	Short: "callqueue - shared callback queue for phone operators",
	Long: `callqueue lets several operators work one queue of callback tasks. Each
operator claims a task before calling, logs the outcome, and hands work on.
Claims are confirmed by re-reading the record store, so two operators never
end up calling the same contact.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	cfgFile      string
	apiURL       string
	backendName  string
	operatorName string

	v   *viper.Viper
	cfg *config.Config
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: search ~/.config/callqueue, ~/.callqueue, .)")
	flags.StringVar(&apiURL, "api", "", "record server URL for the http backend")
	flags.StringVar(&backendName, "backend", "", "record store backend: sqlite, redis, http, memory")
	flags.StringVar(&operatorName, "operator", "", "operator name (overrides the saved profile)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig layers defaults, the config file, CALLQUEUE_* variables and
// flags, then validates the result.
func loadConfig(cmd *cobra.Command, args []string) error {
	v = config.New(cfgFile)

	flags := cmd.Flags()
	binds := map[string]string{
		"store.api_url": "api",
		"store.backend": "backend",
		"operator.name": "operator",
		"server.addr":   "listen",
	}
	for key, name := range binds {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	loaded, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg = loaded
	return nil
}

func identityManager() (*identity.Manager, error) {
	return identity.NewManager(config.ConfigDir(), cfg.Operator.Name)
}

// currentOperator resolves the --operator flag, the saved profile and
// finally the OS user.
func currentOperator() (string, error) {
	m, err := identityManager()
	if err != nil {
		return "", err
	}
	return m.OperatorName(), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
