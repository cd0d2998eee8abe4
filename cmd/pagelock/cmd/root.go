package cmd

import (
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/pagelock/api"
	"github.com/jmcleod/pagelock/internal/config"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

var (
	configPath string
	envFile    string
	serverURL  string
	token      string
)

var rootCmd = &cobra.Command{
	Use:   "pagelock",
	Short: "pagelock is a session lock service",
	Long: `A session lock service that keeps every open page behind a password
until the user unlocks, and locks them all again after inactivity.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML or YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before environment overrides")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API base URL for client commands (default derived from listen)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "API token (default from configuration)")
}

func loadConfig() (*config.Config, error) {
	return config.NewLoader(configPath, config.WithEnvFile(envFile)).Load()
}

// newClient builds an API client from the configuration and the persistent
// flags.
func newClient(cfg *config.Config) *api.Client {
	base := serverURL
	if base == "" {
		base = "http://" + dialAddr(cfg.Listen) + "/api/v1"
	}
	tok := token
	if tok == "" {
		tok = cfg.Token
	}
	return api.NewClient(base,
		api.WithClientToken(tok),
		api.WithClientLogger(cfg.Log.NewLogger(os.Stderr)),
	)
}

// dialAddr turns a listen address into one a local client can dial.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
