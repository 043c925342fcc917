package main

import (
	"flag"
	"log"

	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"mint-confirm-service/internal/activities"
	"mint-confirm-service/internal/app"
	"mint-confirm-service/internal/workflows"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "mintconfirm.yaml", "path to config file")
	flag.Parse()

	deps, err := app.Bootstrap(configPath)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer deps.Close()

	c, err := deps.DialTemporal()
	if err != nil {
		deps.Logger.Fatal("temporal dial failed", zap.Error(err))
	}
	defer c.Close()

	taskQueue := deps.Config.Temporal.TaskQueue
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ConfirmMintOrder)
	w.RegisterWorkflow(workflows.FlushPendingConfirms)

	a := &activities.Activities{Store: deps.Store, Client: deps.Client}
	w.RegisterActivity(a)

	deps.Logger.Info("worker started", zap.String("taskQueue", taskQueue))
	if err := w.Run(worker.InterruptCh()); err != nil {
		deps.Logger.Fatal("worker exited", zap.Error(err))
	}
}
