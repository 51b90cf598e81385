/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgillich/shout-worker/internal"
	"github.com/pgillich/shout-worker/internal/logger"
	"github.com/pgillich/shout-worker/internal/model"
)

var workerViper = viper.New() //nolint:gochecknoglobals // CMD

// workerCmd represents the worker command
var workerCmd = &cobra.Command{ //nolint:gochecknoglobals // cobra
	Use:   "worker",
	Short: "Worker",
	Long:  `Shout worker`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SetContext(cmd.Parent().Context())

		err := RunService(cmd, args, workerViper, &internal.WorkerConfig{
			Command: fmt.Sprintf("%+v", cmd.Context().Value(model.CtxKeyCmd)),
		}, internal.NewWorkerService)
		time.Sleep(time.Second)

		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().String("listenaddr", "localhost:8884", "Admin listen address")
	workerCmd.Flags().String("instance", "#1", "Worker instance")
	workerCmd.Flags().String("source", internal.SourceTypePubsub, "Message source type (pubsub or nats)")
	workerCmd.Flags().String("pullURL", "https://pubsub.googleapis.com/v1", "Pull API base URL")
	workerCmd.Flags().String("project", "demo", "Project ID")
	workerCmd.Flags().String("subscription", "shout-requests", "Subscription name")
	workerCmd.Flags().String("natsURL", "nats://localhost:4222", "NATS server address")
	workerCmd.Flags().String("subject", "shout.requests", "JetStream subject")
	workerCmd.Flags().String("durable", "shout-worker", "JetStream durable consumer name")
	workerCmd.Flags().Duration("interval", time.Second, "Poll interval")
	workerCmd.Flags().Duration("callbackTimeout", 10*time.Second, "Status callback timeout")
	workerCmd.Flags().String("jaegerURL", "http://localhost:14268/api/traces", "Jaeger collector address")
	workerCmd.Flags().String("otlpURL", "-", "OTLP collector address")
	if err := workerViper.BindPFlags(workerCmd.Flags()); err != nil {
		logger.GetLogger(workerCmd.Use).Error(err, "Unable to bind flags")
		panic(err)
	}
	workerViper.AutomaticEnv()
}
