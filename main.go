package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/d3f4ultt/d3f4ult.tv/worker"
)

func init() {
	logrus.SetLevel(logrus.DebugLevel)
	logrus.Info("Initializing media server")
}

func main() {
	configPath := flag.String("config", "default", "configuration path")
	flag.Parse()

	c := worker.NewConfig(*configPath)

	w, err := worker.NewWorker(c)
	if err != nil {
		logrus.Panic("Cannot create worker ", err)
	}

	err = w.Listen()
	if err != nil {
		logrus.Panic("Cannot listen worker ", err)
	}

	err = w.Serve()
	if err != nil {
		logrus.Panic("Cannot serve worker ", err)
	}

	stopCleanup := make(chan struct{})
	go w.CleanupLoop(1*time.Hour, stopCleanup)

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	logrus.Info(<-sigch)
	close(stopCleanup)
	w.Stop()
}
