package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fifosched/internal/app"
	"fifosched/internal/config"
	logx "fifosched/pkg/logx"
)

const stopTimeout = 10 * time.Second

func main() {
	var (
		cfgPath string
		check   bool
	)
	flag.StringVar(&cfgPath, "config", "./fifosched.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&check, "check", false, "validate the config file and exit")
	flag.Parse()

	if check {
		if _, err := config.NewConfigManager(cfgPath).Parse(); err != nil {
			fmt.Fprintln(os.Stderr, "invalid config:", err)
			os.Exit(1)
		}
		fmt.Println("config ok")
		return
	}

	// Used until the app has its own configured logger, and after it closes.
	boot := logx.NewConsole("info")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		boot.Error("startup failed", logx.String("config", cfgPath), logx.Err(err))
		os.Exit(1)
	}
	if err := a.Start(context.Background()); err != nil {
		boot.Error("start failed", logx.Err(err))
		os.Exit(1)
	}

	var reason app.StopReason
	select {
	case s := <-sigs:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = a.Stop(ctx, reason)
	if err := a.Err(); err != nil {
		boot.Error("stopped after fatal error", logx.String("reason", string(reason)), logx.Err(err))
		os.Exit(1)
	}
}
