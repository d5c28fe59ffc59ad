package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/zalando/go-keyring"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/cruds-go/cruds/auth"
	"github.com/cruds-go/cruds/internal/callback"
)

// keyringService namespaces everything the CLI stores in the OS keyring.
const keyringService = "cruds"

func refreshTokenAccount(clientID string) string { return "refresh-token:" + clientID }
func passwordAccount(username string) string     { return "password:" + username }

// authCommand returns the 'auth' subcommand for managing API credentials.
func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage API credentials",
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Obtain credentials for the configured grant and save them to the OS keyring",
				Action: authLoginAction,
			},
			{
				Name:   "logout",
				Usage:  "Remove saved credentials from the OS keyring",
				Action: authLogoutAction,
			},
		},
	}
}

func authLoginAction(ctx context.Context, cmd *cli.Command) error {
	if err := instrument(cmd); err != nil {
		return err
	}
	cfg, err := configFromCommand(cmd.String("config"))
	if err != nil {
		return err
	}
	if !cfg.Auth.Enabled() {
		return fmt.Errorf("no token_url configured; nothing to log in to")
	}

	switch {
	case cfg.Auth.AuthorizeURL != "":
		return loginAuthorizationCode(ctx, cfg)
	case cfg.Auth.Username != "":
		return loginPassword(ctx, cfg)
	default:
		return loginClientCredentials(ctx, cfg)
	}
}

// loginAuthorizationCode drives the interactive browser flow: it serves a
// loopback callback endpoint, prints the authorization URL, and persists the
// resulting refresh token.
func loginAuthorizationCode(ctx context.Context, cfg *Config) error {
	authenticator, err := auth.New(cfg.Auth.authConfig(""), auth.WithRetryPolicy(cfg.Retry.policy()))
	if err != nil {
		return err
	}

	server, err := callback.New(cfg.Auth.RedirectURL)
	if err != nil {
		return err
	}

	errCh, err := server.Start(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL, err := authenticator.AuthorizationURL()
	if err != nil {
		return err
	}

	fmt.Println("=== Authorization Required ===")
	fmt.Println()
	fmt.Printf("Visit this URL in your browser and authorize the application:\n   %s\n\n", authURL)
	fmt.Println("Waiting for the redirect ...")

	// A server failure cancels the wait; a received callback shuts the
	// server down so both goroutines terminate.
	var rawURL string
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return <-errCh
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		received, waitErr := server.Wait(gCtx)
		if waitErr != nil {
			return fmt.Errorf("no authorization callback received: %w", waitErr)
		}
		rawURL = received
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := authenticator.ExchangeCallback(ctx, rawURL); err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	refreshToken, err := authenticator.RefreshToken()
	if err != nil {
		return err
	}
	if refreshToken == "" {
		fmt.Println()
		fmt.Println("Login succeeded, but the server issued no refresh token; nothing was persisted.")
		return nil
	}

	if err := keyring.Set(keyringService, refreshTokenAccount(cfg.Auth.ClientID), refreshToken); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Login Successful ===")
	fmt.Println("Refresh token saved to the OS keyring")
	return nil
}

// loginPassword prompts for the resource owner password, verifies it against
// the token endpoint, and persists it.
func loginPassword(ctx context.Context, cfg *Config) error {
	password, err := readSecureInput(ctx, fmt.Sprintf("Password for %s: ", cfg.Auth.Username))
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := verifyCredentials(ctx, cfg, password); err != nil {
		return err
	}

	if err := keyring.Set(keyringService, passwordAccount(cfg.Auth.Username), password); err != nil {
		return fmt.Errorf("failed to save password: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Login Successful ===")
	fmt.Println("Password saved to the OS keyring")
	return nil
}

// loginClientCredentials has nothing to persist; it verifies that the
// configured client credentials actually work.
func loginClientCredentials(ctx context.Context, cfg *Config) error {
	if err := verifyCredentials(ctx, cfg, ""); err != nil {
		return err
	}

	fmt.Println("Client credentials verified; no interactive login is needed for this grant.")
	return nil
}

// verifyCredentials performs one token acquisition to prove the credentials
// are accepted.
func verifyCredentials(ctx context.Context, cfg *Config, password string) error {
	authenticator, err := auth.New(cfg.Auth.authConfig(password), auth.WithRetryPolicy(cfg.Retry.policy()))
	if err != nil {
		return err
	}
	if _, err := authenticator.HeaderValue(ctx); err != nil {
		return fmt.Errorf("credential verification failed: %w", err)
	}
	return nil
}

func authLogoutAction(_ context.Context, cmd *cli.Command) error {
	if err := instrument(cmd); err != nil {
		return err
	}
	cfg, err := configFromCommand(cmd.String("config"))
	if err != nil {
		return err
	}

	var errs []error
	for _, account := range []string{
		refreshTokenAccount(cfg.Auth.ClientID),
		passwordAccount(cfg.Auth.Username),
	} {
		err := keyring.Delete(keyringService, account)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			errs = append(errs, fmt.Errorf("deleting %s: %w", account, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	fmt.Println("=== Logout Successful ===")
	fmt.Println("Credentials cleared from the OS keyring")
	return nil
}

// readSecureInput reads user input with hidden display and context
// cancellation support. The goroutine+select pattern is required because
// term.ReadPassword has no native context support.
func readSecureInput(ctx context.Context, prompt string) (string, error) {
	fmt.Print(prompt)
	defer fmt.Println()

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		inputBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(inputBytes), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}
