// Command decksync keeps an Anki collection and a git-versioned tree of
// markdown note files mutually consistent.
//
//	decksync clone <collection> [dir]
//	decksync pull
//	decksync push
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/decksync/internal/pipeline"
)

type cliConfig struct {
	Dir     string `koanf:"dir"`
	Verbose bool   `koanf:"verbose"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("decksync", pflag.ContinueOnError)
	flags.String("dir", ".", "repository directory for pull and push")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: decksync [flags] clone <collection> [dir] | pull | push")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "DECKSYNC_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "DECKSYNC_"))
			return key, value
		},
	}), nil); err != nil {
		fmt.Fprintln(os.Stderr, "decksync:", err)
		return 1
	}
	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		fmt.Fprintln(os.Stderr, "decksync:", err)
		return 1
	}
	var cfg cliConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		fmt.Fprintln(os.Stderr, "decksync:", err)
		return 1
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return 2
	}

	ctx := context.Background()
	var err error
	switch rest[0] {
	case "clone":
		if len(rest) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: decksync clone <collection> [dir]")
			return 2
		}
		colPath := rest[1]
		target := strings.TrimSuffix(filepath.Base(colPath), filepath.Ext(colPath))
		if len(rest) >= 3 {
			target = rest[2]
		}
		_, err = pipeline.Clone(ctx, colPath, target, log)
	case "pull":
		_, err = pipeline.Pull(ctx, cfg.Dir, log)
	case "push":
		_, err = pipeline.Push(ctx, cfg.Dir, log)
	default:
		fmt.Fprintf(os.Stderr, "decksync: unknown command %q\n", rest[0])
		flags.Usage()
		return 2
	}
	if err != nil {
		log.Error(rest[0]+" failed", "error", err)
		return 1
	}
	return 0
}
