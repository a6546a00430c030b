package main

import (
	"fmt"
	"os"

	chatsync "github.com/courtly-app/chatsync"
)

// getStore creates a message-store client from the stored configuration.
func getStore() *chatsync.Store {
	cfg := mustConfig()
	return chatsync.NewStore(cfg.Default.BaseURL, chatsync.StaticToken(cfg.Auth.Token), nil)
}

// getEngineOptions builds engine options from the stored configuration.
func getEngineOptions() chatsync.Options {
	cfg := mustConfig()
	if cfg.Default.WSURL == "" {
		fmt.Fprintln(os.Stderr, "No ws_url configured. Run 'chatsync config set default.ws_url wss://...' first.")
		os.Exit(1)
	}
	if cfg.Auth.UserID == "" {
		fmt.Fprintln(os.Stderr, "No user_id configured. Run 'chatsync init <token> --user <id>' first.")
		os.Exit(1)
	}
	return chatsync.Options{
		BaseURL:     cfg.Default.BaseURL,
		WSURL:       cfg.Default.WSURL,
		TenantID:    cfg.Default.OrganizationID,
		SelfUserID:  cfg.Auth.UserID,
		Credentials: chatsync.StaticToken(cfg.Auth.Token),
	}
}

func mustConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'chatsync init <token>' first.")
		os.Exit(1)
	}
	if cfg.Default.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "No base_url configured. Run 'chatsync config set default.base_url https://...' first.")
		os.Exit(1)
	}
	return cfg
}
