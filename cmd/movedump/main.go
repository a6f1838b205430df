package main

import (
	"fmt"
	"os"

	"github.com/blukai/noitarelay/internal/framecodec"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
	"github.com/spf13/cobra"
)

type Config struct {
	AngleBytes  int    `envconfig:"ANGLE_BYTES" default:"1"`
	DeltaDigits int    `envconfig:"DELTA_DIGITS" default:"1"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

func loadConfig() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process("movedump", config); err != nil {
		return nil, err
	}
	return config, nil
}

func configureLogger(level string) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Level = log.ParseLevel(level)
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

type app struct {
	logger *log.Logger
	codec  *framecodec.Codec
}

func (a *app) init() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	a.logger = configureLogger(config.LogLevel)

	a.codec, err = framecodec.New(framecodec.Config{
		AngleBytes:  config.AngleBytes,
		DeltaDigits: config.DeltaDigits,
	})
	if err != nil {
		return fmt.Errorf("could not construct codec: %w", err)
	}

	a.logger.Debug().
		Int("angle_bytes", config.AngleBytes).
		Int("delta_digits", config.DeltaDigits).
		Msg("configured codec")

	return nil
}

func rootCmd() *cobra.Command {
	a := new(app)

	cmd := &cobra.Command{
		Use:   "movedump",
		Short: "Inspect and build player movement messages",
		Long: `movedump works on the wire bytes the relay sees.

Input is taken as hex from the first argument or as raw bytes from stdin.
Codec precision is read from MOVEDUMP_ANGLE_BYTES and MOVEDUMP_DELTA_DIGITS.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	cmd.AddCommand(
		extractCmd(a),
		decodeCmd(a),
		tagCmd(a),
		encodeCmd(a),
	)

	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
