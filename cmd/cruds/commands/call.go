package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"github.com/zalando/go-keyring"

	"github.com/cruds-go/cruds"
	"github.com/cruds-go/cruds/auth"
)

// callCommand returns the 'call' subcommand for ad-hoc API operations.
func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Perform one API operation",
		ArgsUsage: "<create|read|update|replace|delete> <uri>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "request body; @file reads a file, - reads stdin",
			},
			&cli.StringSliceFlag{
				Name:    "param",
				Aliases: []string{"p"},
				Usage:   "query parameter as key=value, repeatable",
			},
			&cli.IntSliceFlag{
				Name:  "ignore-status",
				Usage: "error status codes to pass through instead of failing, repeatable",
			},
		},
		Action: callAction,
	}
}

func callAction(ctx context.Context, cmd *cli.Command) error {
	if err := instrument(cmd); err != nil {
		return err
	}
	cfg, err := configFromCommand(cmd.String("config"))
	if err != nil {
		return err
	}

	args := cmd.Args().Slice()
	if len(args) != 2 {
		return fmt.Errorf("expected <verb> <uri>, got %d arguments", len(args))
	}
	verb, uri := strings.ToLower(args[0]), args[1]

	params, err := parseParams(cmd.StringSlice("param"))
	if err != nil {
		return err
	}
	body, err := readData(cmd.String("data"))
	if err != nil {
		return err
	}

	client, err := buildClient(cfg, cmd.IntSlice("ignore-status"))
	if err != nil {
		return err
	}

	var result *cruds.Result
	switch verb {
	case "create":
		result, err = client.Create(ctx, uri, body, params)
	case "read":
		result, err = client.Read(ctx, uri, params)
	case "update":
		result, err = client.Update(ctx, uri, body, params)
	case "replace":
		result, err = client.Replace(ctx, uri, body, params)
	case "delete":
		result, err = client.Delete(ctx, uri, params)
	default:
		return fmt.Errorf("unknown verb %q (expected: create, read, update, replace, delete)", verb)
	}
	if err != nil {
		return err
	}

	return printResult(result)
}

// buildClient assembles the REST client, pulling stored credentials from the
// OS keyring when the configured grant needs them.
func buildClient(cfg *Config, ignoredStatuses []int) (*cruds.Client, error) {
	opts := []cruds.Option{cruds.WithRetryPolicy(cfg.Retry.policy())}
	if len(ignoredStatuses) > 0 {
		opts = append(opts, cruds.WithIgnoredStatuses(ignoredStatuses...))
	}

	if cfg.Auth.Enabled() {
		source, err := headerSource(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cruds.WithAuth(source))
	}

	return cruds.New(cfg.Host, opts...)
}

func headerSource(cfg *Config) (cruds.HeaderSource, error) {
	password := ""
	if cfg.Auth.Username != "" {
		stored, err := keyring.Get(keyringService, passwordAccount(cfg.Auth.Username))
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("no stored password for %s; run 'cruds auth login' first", cfg.Auth.Username)
		}
		if err != nil {
			return nil, fmt.Errorf("reading password from keyring: %w", err)
		}
		password = stored
	}

	authenticator, err := auth.New(cfg.Auth.authConfig(password), auth.WithRetryPolicy(cfg.Retry.policy()))
	if err != nil {
		return nil, err
	}

	if cfg.Auth.AuthorizeURL != "" && cfg.Auth.Username == "" {
		refreshToken, err := keyring.Get(keyringService, refreshTokenAccount(cfg.Auth.ClientID))
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("no stored authorization; run 'cruds auth login' first")
		}
		if err != nil {
			return nil, fmt.Errorf("reading refresh token from keyring: %w", err)
		}
		if err := authenticator.SeedRefreshToken(refreshToken); err != nil {
			return nil, err
		}
	}

	return authenticator, nil
}

// parseParams turns repeated key=value flags into query parameters.
func parseParams(pairs []string) (url.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := url.Values{}
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid query parameter %q (expected key=value)", pair)
		}
		params.Add(key, value)
	}
	return params, nil
}

// readData resolves the --data flag into a request body.
func readData(data string) (any, error) {
	switch {
	case data == "":
		return nil, nil
	case data == "-":
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading body from stdin: %w", err)
		}
		return content, nil
	case strings.HasPrefix(data, "@"):
		content, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, fmt.Errorf("reading body file: %w", err)
		}
		return content, nil
	default:
		return data, nil
	}
}

// printResult writes the response body to stdout, indented when the server
// declared JSON.
func printResult(result *cruds.Result) error {
	body := result.Bytes()
	if len(body) == 0 {
		fmt.Fprintf(os.Stderr, "status %d, empty body\n", result.StatusCode)
		return nil
	}

	if result.IsJSON() {
		var indented json.RawMessage
		if err := result.Decode(&indented); err == nil {
			if pretty, err := json.MarshalIndent(indented, "", "  "); err == nil {
				body = append(pretty, '\n')
			}
		}
	}

	_, err := os.Stdout.Write(body)
	return err
}
