// fhctl 是 family-health 服务的命令行客户端
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashwinyue/family-health/internal/client"
	"github.com/ashwinyue/family-health/internal/config"
	"github.com/ashwinyue/family-health/internal/logger"
)

// options 全局参数
type options struct {
	server      string
	sessionFile string
	timeout     time.Duration
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "fhctl",
		Short:         "Command line client for the family health service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", envOr("FH_SERVER", "http://localhost:8080"), "Service base URL (or set FH_SERVER)")
	root.PersistentFlags().StringVar(&opts.sessionFile, "session-file", client.DefaultSessionPath(), "Where the login session is stored")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Request timeout")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newHealthCmd(opts),
		newSessionsCmd(opts),
		newAskCmd(opts),
		newKBCmd(opts),
		newExportCmd(opts),
		newRulesCmd(opts),
	)
	return root
}

// newClient 根据全局参数创建客户端
func (o *options) newClient(cmd *cobra.Command) (*client.Client, error) {
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	log, err := logger.New(config.LogConfig{Level: level, Format: "console"})
	if err != nil {
		return nil, err
	}
	errOut := cmd.ErrOrStderr()
	return client.New(o.server,
		client.WithSessionStore(client.NewFileStore(o.sessionFile)),
		client.WithLogger(log.Named("fhctl")),
		client.WithAuthExpired(func() {
			fmt.Fprintln(errOut, "session expired, run `fhctl login` again")
		}),
	), nil
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
