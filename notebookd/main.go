package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/collabai/notebook/notebook"
	"github.com/collabai/notebook/server"
)

const NotebookdVersion = "0.1.0"

func main() {
	usage := `Collaborative notebook sync daemon.

Usage:
    notebookd serve [--port=<port>] [--config=<config>]
        [--secret=<secret>]
        [--execute_timeout=<seconds>]
    notebookd mint-token --name=<name> --secret=<secret>

Options:
    -h --help                     Show this screen.
    --version                     Show version.
    -p --port=<port>              Listen port.
    --config=<config>             Path to a yaml config file.
    --secret=<secret>             Client token HMAC secret.
    --execute_timeout=<seconds>   Per-cell execution timeout.
    --name=<name>                 Display name for the minted token.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], NotebookdVersion)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if mint_, _ := opts.Bool("mint-token"); mint_ {
		mintToken(opts)
	}
}

func serve(opts docopt.Opts) {
	configPath, _ := opts.String("--config")
	config, err := server.LoadConfig(configPath)
	if err != nil {
		glog.Errorf("[d]config error = %s\n", err)
		os.Exit(1)
	}

	if port, err := opts.Int("--port"); err == nil {
		config.Port = port
	}
	if secret, err := opts.String("--secret"); err == nil && secret != "" {
		config.TokenSecret = secret
	}
	if timeout, err := opts.Int("--execute_timeout"); err == nil {
		config.ExecuteTimeoutSeconds = timeout
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
		<-sigs
		cancel()
	}()

	runnerSettings := notebook.DefaultSubprocessRunnerSettings()
	if config.Interpreters != nil {
		runnerSettings.Interpreters = config.Interpreters
	}
	runner := notebook.NewSubprocessRunner(runnerSettings)

	registry := notebook.NewSessionRegistry()
	gateway := server.NewConnGateway()

	managerSettings := notebook.DefaultRoomManagerSettings()
	managerSettings.ExecuteTimeout = config.ExecuteTimeout()
	managerSettings.ReapGracePeriod = config.ReapGracePeriod()
	manager := notebook.NewRoomManager(cancelCtx, registry, gateway, runner, managerSettings)
	defer manager.Close()

	serverSettings := server.DefaultServerSettings()
	serverSettings.TokenSecret = config.TokenSecret
	s := server.NewServer(cancelCtx, manager, registry, gateway, serverSettings)
	defer s.Close()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: s.Router(),
	}
	go func() {
		<-cancelCtx.Done()
		httpServer.Shutdown(context.Background())
	}()

	fmt.Printf("listening on :%d\n", config.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		glog.Errorf("[d]listen error = %s\n", err)
		os.Exit(1)
	}
}

func mintToken(opts docopt.Opts) {
	name, _ := opts.String("--name")
	secret, _ := opts.String("--secret")

	token, err := server.MintClientToken(name, secret)
	if err != nil {
		glog.Errorf("[d]mint error = %s\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
