// Compute CLI — инструмент командной строки для просмотра
// возможностей воркеров и состояния jobs через HTTP API сервера.
//
// Использование:
//
//	compute [--api-url URL] [--json] <command> [subcommand] [flags]
//
// Команды:
//
//	capabilities  Агрегированные возможности кластера
//	workers       Воркеры из кэша возможностей
//	job           Состояние job
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudonlanapps/cl-server-compute/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "compute",
		Short:         "Compute CLI — inspect workers and jobs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8002", "Compute server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewCapabilitiesCmd(clientFn, outputFn),
		cli.NewWorkersCmd(clientFn, outputFn),
		cli.NewJobCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
