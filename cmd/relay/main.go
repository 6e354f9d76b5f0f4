package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Outbox relay",
	Long:  `Publishes committed outbox events to the configured broker and purges processed ones.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("outbox-store", "", "outbox store: memory, redis, mongo or postgres")
	rootCmd.PersistentFlags().String("broker", "", "broker: kafka or rabbitmq")
	rootCmd.PersistentFlags().String("log-level", "", "log level")

	cobra.CheckErr(viper.BindPFlag("outbox_store", rootCmd.PersistentFlags().Lookup("outbox-store")))
	cobra.CheckErr(viper.BindPFlag("broker", rootCmd.PersistentFlags().Lookup("broker")))
	cobra.CheckErr(viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level")))

	rootCmd.AddCommand(runCmd, drainCmd, purgeCmd)
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}

func main() {
	Execute()
}
