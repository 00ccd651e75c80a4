// Package cli wires the ollamafan command line. Flags and environment
// variables (prefix OLLAMAFAN) are resolved through viper, generated
// text goes to stdout and everything else to stderr.
package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/ollamafan"
	"github.com/hupe1980/ollamafan/backend"
	"github.com/hupe1980/ollamafan/backend/anthropic"
	"github.com/hupe1980/ollamafan/backend/ollama"
	"github.com/hupe1980/ollamafan/backend/openaicompat"
	"github.com/hupe1980/ollamafan/core"
	"github.com/hupe1980/ollamafan/logging"
	"github.com/hupe1980/ollamafan/prompt"
	"github.com/hupe1980/ollamafan/sink"
)

const defaultPrompt = "Identify your model name and who created you, in one short sentence."

var errTasksFailed = errors.New("one or more models failed")

var rootCmd = &cobra.Command{
	Use:   "ollamafan [flags] [model ...]",
	Short: "Fan a prompt out over multiple models concurrently",
	Long: `Ollamafan sends one prompt to several models of a local inference
endpoint at the same time, streams every response as it arrives and
keeps the output of concurrent streams from interleaving.

Without model arguments it picks --count random models from the
endpoint's model list.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	f := rootCmd.Flags()
	f.StringP("prompt", "p", defaultPrompt, "prompt sent to every model")
	f.IntP("concurrency", "n", 3, "maximum number of simultaneous streams")
	f.Bool("fail-fast", false, "cancel remaining streams on the first failure")
	f.Bool("no-stream", false, "collect each response in full instead of streaming")
	f.Int("count", 3, "number of random models when no models are given")
	f.String("host", ollama.DefaultBaseURL, "base URL of the inference endpoint")
	f.String("backend", "ollama", "backend protocol (ollama, openai or anthropic)")
	f.Duration("connect-timeout", 10*time.Second, "timeout for establishing a connection")
	f.Duration("write-timeout", 60*time.Second, "timeout for sending the request and receiving headers")
	f.Duration("read-timeout", 0, "per-read idle timeout while streaming (0 disables)")
	f.Duration("pool-timeout", 15*time.Second, "timeout for checking a connection out of the pool")
	f.String("log-level", "warn", "log level (debug, info, warn, error)")

	for _, name := range []string{
		"prompt", "concurrency", "fail-fast", "no-stream", "count",
		"host", "backend", "connect-timeout", "write-timeout",
		"read-timeout", "pool-timeout", "log-level",
	} {
		_ = viper.BindPFlag(name, f.Lookup(name))
	}
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.config/ollamafan")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("OLLAMAFAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	_ = viper.ReadInConfig()
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(viper.GetString("log-level")),
		Format: "text",
		Output: os.Stderr,
	})

	timeouts := core.Timeouts{
		Connect: viper.GetDuration("connect-timeout"),
		Write:   viper.GetDuration("write-timeout"),
		Read:    viper.GetDuration("read-timeout"),
		Pool:    viper.GetDuration("pool-timeout"),
	}

	be, err := newBackend(viper.GetString("backend"), viper.GetString("host"), timeouts, logger)
	if err != nil {
		return err
	}

	models := args
	if len(models) == 0 {
		lister, ok := be.(backend.ModelLister)
		if !ok {
			return fmt.Errorf("backend %q cannot list models, pass them as arguments", be.Name())
		}

		models, err = prompt.PickModels(ctx, lister, viper.GetInt("count"))
		if err != nil {
			return fmt.Errorf("pick models: %w", err)
		}
	}

	promptText := prompt.Minify(viper.GetString("prompt"))

	// One sink owns both streams: generated text on stdout, status lines
	// on stderr, all behind the same lock.
	s := sink.New(os.Stdout, func(o *sink.Options) { o.Status = os.Stderr })

	opts := func(o *ollamafan.Options) {
		o.Backend = be
		o.Sink = s
		o.Concurrency = viper.GetInt("concurrency")
		o.FailFast = viper.GetBool("fail-fast")
		o.Logger = logger
	}

	var results []core.TaskResult
	if viper.GetBool("no-stream") {
		results, err = ollamafan.Generate(ctx, models, promptText, opts)
	} else {
		results, err = ollamafan.Run(ctx, models, promptText, opts)
	}

	if err != nil {
		return err
	}

	failed := 0

	for _, res := range results {
		if res.Success() {
			_ = s.WriteStatus("%s: ok (%d fragments, %s)",
				res.Target.Model, res.FragmentCount, res.Duration.Round(time.Millisecond))
			continue
		}

		failed++

		_ = s.WriteStatus("%s: %s: %v", res.Target.Model, res.Status(), res.Err)
	}

	if failed > 0 {
		return fmt.Errorf("%w (%d of %d)", errTasksFailed, failed, len(results))
	}

	return nil
}

func newBackend(name, host string, timeouts core.Timeouts, logger logging.Logger) (backend.Backend, error) {
	switch name {
	case "ollama":
		return ollama.New(func(o *ollama.Options) {
			o.BaseURL = host
			o.Timeouts = timeouts
			o.Logger = logger
		}), nil
	case "openai":
		return openaicompat.New(func(o *openaicompat.Options) {
			o.BaseURL = strings.TrimRight(host, "/") + "/v1"
			o.Logger = logger
		}), nil
	case "anthropic":
		return anthropic.New(func(o *anthropic.Options) {
			o.Logger = logger
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
