package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pokulabs/poku/internal/profile"
	"github.com/pokulabs/poku/internal/tui/client"
	"github.com/spf13/cobra"
)

type globals struct {
	profile string
	json    bool
	timeout time.Duration
}

func main() {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "pokuctl",
		Short:         "Control a running pokud daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.profile, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&g.json, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "request timeout")

	rootCmd.AddCommand(
		statusCmd(g),
		chatsCmd(g),
		threadCmd(g),
		readCmd(g),
		flagCmd(g),
		claimCmd(g),
		sendCmd(g),
		searchCmd(g),
		watchCmd(g),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect dials the daemon of the selected profile.
func (g *globals) connect() (*client.Client, string, error) {
	name := profile.Resolve(g.profile)
	if err := profile.ValidateName(name); err != nil {
		return nil, "", err
	}
	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		return nil, "", fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}
	return c, name, nil
}

// run dials the daemon and calls fn with a request-scoped context.
func (g *globals) run(fn func(ctx context.Context, c *client.Client) error) error {
	c, _, err := g.connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
