package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/HyServers/hyservers-web/internal"
	"github.com/HyServers/hyservers-web/internal/auth"
	pkgconfig "github.com/HyServers/hyservers-web/pkg/config"
)

var version = "dev"

// Keys written to .env by the secret commands.
const (
	envPasswordHash = "ADMIN_PASSWORD_HASH"
	envJWTSecret    = "JWT_SECRET"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithConfigPath(cmd.String("config")),
		internal.WithVersion(version),
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func rebuildIndex(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	n, err := internal.RebuildIndex(ctx, internal.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	fmt.Printf("indexed %d servers\n", n)
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx,
		internal.WithConfig(cfg),
		internal.WithVersion(version),
		internal.WithLogOutput(os.Stderr))
}

// readSecret reads one line from the terminal without echo, or from stdin
// when it is not a terminal.
func readSecret(prompt string, in *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeEnv sets key in the dotenv file at path, keeping existing entries.
func writeEnv(path, key, value string) error {
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		env = map[string]string{}
	} else if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	env[key] = value
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func hashPassword(_ context.Context, cmd *cli.Command) error {
	in := bufio.NewReader(os.Stdin)
	password, err := readSecret("Admin password: ", in)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	confirm, err := readSecret("Confirm password: ", in)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if path := cmd.String("write-env"); path != "" {
		if err := writeEnv(path, envPasswordHash, hash); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s written to %s\n", envPasswordHash, path)
		return nil
	}
	fmt.Println(hash)
	return nil
}

func genSecret(_ context.Context, cmd *cli.Command) error {
	secret, err := auth.GenerateSecret()
	if err != nil {
		return err
	}
	if path := cmd.String("write-env"); path != "" {
		if err := writeEnv(path, envJWTSecret, secret); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s written to %s\n", envJWTSecret, path)
		return nil
	}
	fmt.Println(secret)
	return nil
}

func writeEnvFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "write-env",
		Usage: "Store the value in this dotenv file instead of printing it",
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "hyservers",
		Usage:   "Game server directory with a searchable public listing and an admin API",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server (default)",
				Action: serve,
			},
			{
				Name:   "rebuild-index",
				Usage:  "Re-derive the search index from the record store",
				Action: rebuildIndex,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the directory tools to an MCP client over stdio",
				Action: serveMCP,
			},
			{
				Name:   "hash-password",
				Usage:  "Hash the admin password with bcrypt",
				Flags:  []cli.Flag{writeEnvFlag()},
				Action: hashPassword,
			},
			{
				Name:   "gen-secret",
				Usage:  "Generate a random session signing secret",
				Flags:  []cli.Flag{writeEnvFlag()},
				Action: genSecret,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
