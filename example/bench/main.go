package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	globalContext context.Context
	globalCancel  context.CancelFunc

	globalViper = viper.New()
)

func main() {
	globalContext, globalCancel = context.WithCancel(context.Background())

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		sig := <-sc
		fmt.Printf("\nGot signal [%v] to exit.\n", sig)
		globalCancel()
	}()

	globalViper.SetEnvPrefix("blockstm")
	globalViper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	globalViper.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "bench",
		Short: "Parallel block execution benchmark",
	}

	rootCmd.AddCommand(
		newRunCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(rootCmd.UsageString())
		globalCancel()
		os.Exit(1)
	}
	globalCancel()
}
