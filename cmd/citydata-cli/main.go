// Citydata CLI — просмотр модулей и очередей, ручной запуск очереди.
//
// Использование:
//
//	citydata [--config FILE] [--json] <command> [flags]
//
// Команды:
//
//	modules   Зарегистрированные модули
//	queues    Очереди включённых модулей
//	trigger   Ручной запуск очереди
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Citydata/internal/cli"
	"github.com/shaiso/Citydata/internal/config"
	_ "github.com/shaiso/Citydata/internal/datasets"
	"github.com/shaiso/Citydata/internal/mq"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var configPath string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "citydata",
		Short:         "Citydata CLI — dataset integration tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CITYDATA_CONFIG"), "Config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	envFn := func() (*cli.Env, error) { return cli.LoadEnv(configPath) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	publisherFn := func(_ context.Context, cfg *config.Config) (cli.Publisher, func() error, error) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		conn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
		if err != nil {
			return nil, nil, err
		}
		return mq.NewPublisher(conn, logger, mq.WithDurableExchange(cfg.RabbitMQ.ExchangeDurable)), conn.Close, nil
	}

	rootCmd.AddCommand(
		cli.NewModulesCmd(envFn, outputFn),
		cli.NewQueuesCmd(envFn, outputFn),
		cli.NewTriggerCmd(envFn, outputFn, publisherFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
