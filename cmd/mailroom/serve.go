package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/castellan/mailroom/internal/attachments"
	"github.com/castellan/mailroom/internal/bot"
	"github.com/castellan/mailroom/internal/config"
	"github.com/castellan/mailroom/internal/db"
	"github.com/castellan/mailroom/internal/scanner"
	"github.com/castellan/mailroom/internal/store"
	"github.com/castellan/mailroom/internal/web"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		Long:  "Connects to Discord and the database and relays messages until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Mailroom config file")
	return cmd
}

func runServe(out io.Writer, configPath string) error {
	cfg, err := loadConfigWithPrompt(configPath)
	if err != nil {
		return err
	}

	conn, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(conn); err != nil {
		return err
	}
	st := store.New(conn)

	b, err := bot.New(cfg, st)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Stop()

	sc := scanner.New(st, b.Manager(), scanner.DefaultInterval)
	go sc.Run(ctx)

	if cfg.Web.Enabled {
		go func() {
			if err := web.Start(ctx, web.StartOpts{
				Config: cfg,
				Store:  st,
				Local:  localAttachments(cfg),
				Out:    out,
			}); err != nil {
				log.Printf("serve: web server: %v", err)
			}
		}()
	}

	fmt.Fprintln(out, "Mailroom is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Fprintln(out, "Shutting down...")
	return nil
}

// localAttachments exposes the local attachment directory to the web server
// when that storage strategy is in use.
func localAttachments(cfg *config.Config) *attachments.LocalStorage {
	if cfg.AttachmentStorage != "local" {
		return nil
	}
	return attachments.NewLocalStorage(cfg)
}

// loadConfigWithPrompt loads the config, prompting for the bot token on a
// terminal when none is configured.
func loadConfigWithPrompt(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if !strings.Contains(err.Error(), "token is required") || !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, err
	}

	fmt.Fprint(os.Stderr, "Bot token: ")
	tokenBytes, readErr := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if readErr != nil {
		return nil, fmt.Errorf("serve: read token: %w", readErr)
	}
	os.Setenv("MAILROOM_TOKEN", strings.TrimSpace(string(tokenBytes)))
	return config.Load(configPath)
}
