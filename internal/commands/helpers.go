// Package commands implements the CLI subcommands for the foursight binary.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/4dn-dcic/foursight-sub000/internal/app"
	"github.com/4dn-dcic/foursight-sub000/internal/config"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

var errNoQueue = errors.New("no queue configured: set queue.url in " + config.FileName)

// ConfigDir is the directory holding foursight.yaml. The root command binds
// it to --dir.
var ConfigDir = "."

// LoadDotEnv loads path into the environment when it exists. Variables that
// are already set win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// openDeps loads the project config and assembles the runtime.
func openDeps(ctx context.Context, opts ...app.Option) (*app.Deps, error) {
	cfg, err := config.Load(ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return app.Build(ctx, cfg, cliLogger(), opts...)
}

func cliLogger() *slog.Logger {
	level := slog.LevelWarn
	if os.Getenv("FOURSIGHT_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parseKwargs turns key=value pairs into kwargs. Values that parse as JSON
// (numbers, booleans, objects, quoted strings) keep their type; anything else
// is a plain string.
func parseKwargs(pairs []string) (types.Kwargs, error) {
	kw := types.Kwargs{}
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("kwarg %q must be key=value", p)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		kw[key] = v
	}
	return kw, nil
}

// colorStatus renders a check or action status for the terminal.
func colorStatus(status string) string {
	switch status {
	case string(types.CheckPass), string(types.ActionDone):
		return color.GreenString(status)
	case string(types.CheckWarn), string(types.CheckPend):
		return color.YellowString(status)
	case string(types.CheckFail), string(types.CheckError):
		return color.RedString(status)
	default:
		return color.CyanString(status)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEnvelope(w io.Writer, env *types.Envelope, asJSON bool) error {
	if asJSON {
		return printJSON(w, env)
	}
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "%s  %s\n", env.Name, colorStatus(env.Status))
	fmt.Fprintf(w, "  uuid:    %s\n", env.UUID)
	if env.Summary != nil && env.Summary != "" {
		fmt.Fprintf(w, "  summary: %v\n", env.Summary)
	}
	if env.Kind == types.KindCheck && env.Action != "" {
		fmt.Fprintf(w, "  action:  %s (allowed: %t)\n", env.Action, env.AllowAction)
	}
	if env.Kwargs.Primary() {
		fmt.Fprintln(w, "  primary: true")
	}
	return nil
}
