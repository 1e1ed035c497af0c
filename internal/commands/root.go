// Package commands implements closingctl, an operator CLI that drives the
// closing service over gRPC.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pesio-ai/be-gl-closing/internal/client"
)

// Caller is the slice of client.ClosingClient the commands use.
type Caller interface {
	Call(ctx context.Context, method string, in, out interface{}) error
}

// Connector opens a Caller for addr. The returned closer is called once
// the command finishes.
type Connector func(addr string) (Caller, io.Closer, error)

type globals struct {
	addr    string
	user    string
	timeout time.Duration
	connect Connector
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	return newRootCommand(dialGRPC)
}

func newRootCommand(connect Connector) *cobra.Command {
	g := &globals{connect: connect}

	rootCmd := &cobra.Command{
		Use:   "closingctl",
		Short: "Operate approvals, closing periods and journal revisions",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.addr, "addr", envOr("CLOSING_GRPC_ADDR", "localhost:9086"), "closing service gRPC address")
	rootCmd.PersistentFlags().StringVar(&g.user, "user", os.Getenv("CLOSING_USER_ID"), "acting user id")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "per-call timeout")

	rootCmd.AddCommand(
		newApprovalsCommand(g),
		newPeriodCommand(g),
		newRevisionsCommand(g),
		newSettingsCommand(g),
	)

	return rootCmd
}

func dialGRPC(addr string) (Caller, io.Closer, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(client.ForwardUserID),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return client.NewClosingClient(conn), conn, nil
}

// call invokes method and prints the JSON reply on the command's stdout.
func (g *globals) call(cmd *cobra.Command, method string, in interface{}) error {
	c, closer, err := g.connect(g.addr)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()
	if g.user != "" {
		ctx = client.WithUserID(ctx, g.user)
	}

	var out map[string]interface{}
	if err := c.Call(ctx, method, in, &out); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// withNotes adds notes to in when set.
func withNotes(in map[string]interface{}, notes string) map[string]interface{} {
	if notes != "" {
		in["notes"] = notes
	}
	return in
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
