package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/gateway/internal/domain/service"
	"github.com/tetherhq/tether/gateway/internal/infrastructure/config"
	"github.com/tetherhq/tether/gateway/internal/interfaces/cli"
)

const (
	appName    = "tether"
	appVersion = "0.1.0"
)

var flagAddr string

func main() {
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Tether - terminal client for the agent gateway",
		Long:          "Tether connects to a running tether-gateway over WebSocket and drives the shared agent session from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runClient,
	}

	rootCmd.Flags().StringVar(&flagAddr, "addr", "",
		"gateway address (default from config, ws://localhost:8765/ws)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Check the local setup",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	return cli.Run(cli.Config{Addr: gatewayAddr()})
}

// gatewayAddr resolves the address to dial: the --addr flag when given,
// otherwise the configured gateway host and port.
func gatewayAddr() string {
	if flagAddr != "" {
		return flagAddr
	}
	if cfg, err := config.Load(); err == nil {
		return fmt.Sprintf("ws://%s:%d/ws", cfg.Gateway.Host, cfg.Gateway.Port)
	}
	return "ws://localhost:8765/ws"
}

// ─── Doctor ───

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ %s doctor v%s\n\n", appName, appVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"config", checkConfig},
		{"credentials", checkCredentials},
		{"gateway", checkGateway},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("all checks passed ✓")
		return nil
	}
	fmt.Println("some checks failed, see above")
	return nil
}

func checkConfig() (string, bool) {
	path := os.Getenv("HOME") + "/.tether/config.yaml"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "no ~/.tether/config.yaml (defaults apply)", true
}

func checkCredentials() (string, bool) {
	if os.Getenv(service.CredentialEnv) != "" {
		return service.CredentialEnv + " is set", true
	}
	return service.CredentialEnv + " is not set (required by the gateway)", false
}

func checkGateway() (string, bool) {
	addr := gatewayAddr()
	client, err := cli.Dial(addr)
	if err != nil {
		return fmt.Sprintf("not reachable at %s", addr), false
	}
	client.Close()
	return fmt.Sprintf("reachable at %s", addr), true
}
