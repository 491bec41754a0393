package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gatewaycore/core/internal/banner"
	"github.com/gatewaycore/core/internal/config"
	"github.com/gatewaycore/core/internal/core/app"
	"github.com/gatewaycore/core/internal/core/module"
	"github.com/gatewaycore/core/internal/corelog"
	"github.com/gatewaycore/core/internal/transport/httpws"
)

func main() {
	cfg := config.Load()

	banner.Print("gatewaycore signaling core", []banner.ConfigLine{
		{Label: "bind", Value: net.JoinHostPort(cfg.BindAddr, strconv.Itoa(cfg.Port))},
		{Label: "log level", Value: cfg.LogLevel},
		{Label: "session timeout", Value: cfg.SessionTimeout.String()},
		{Label: "api secret", Value: enabledOrDisabled(cfg.APISecret != "")},
		{Label: "admin secret", Value: enabledOrDisabled(cfg.AdminSecret != "")},
		{Label: "token auth", Value: enabledOrDisabled(cfg.TokenAuth)},
	})

	corelog.Init(os.Stdout)
	corelog.SetLevel(cfg.LogLevel)
	corelog.SetColors(cfg.LogColors)

	core, rejected := app.New(cfg, modules(), nil)
	for _, err := range rejected {
		slog.Error("module rejected", "error", err)
	}
	defer core.Close()

	wsCfg := httpws.DefaultConfig()
	wsCfg.ListenAddr = net.JoinHostPort(cfg.BindAddr, strconv.Itoa(cfg.Port))
	carrier := httpws.New(wsCfg, core.Dispatcher)

	run(core, carrier, cfg)
}

// modules lists the in-process media modules the core is initialized
// with. Empty for now: no reference module ships with this core, per
// spec.md §1 — modules are a named external collaborator.
func modules() []module.Module {
	return nil
}

func run(core *app.Core, carrier *httpws.Carrier, cfg *config.Config) {
	slog.Info("starting gatewaycore", "bind", cfg.BindAddr, "port", cfg.Port)
	logNetworkInterfaces()

	go func() {
		if err := carrier.ListenAndServe(); err != nil {
			slog.Error("carrier serve error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := carrier.Shutdown(ctx); err != nil {
		slog.Error("carrier shutdown error", "error", err)
	}
}

func enabledOrDisabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func logNetworkInterfaces() {
	interfaces, err := net.Interfaces()
	if err != nil {
		return
	}
	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip, _, err := net.ParseCIDR(addr.String())
			if err != nil {
				continue
			}
			slog.Debug("network interface", "interface", iface.Name, "ip", ip.String())
		}
	}
}
