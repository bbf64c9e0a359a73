//go:build linux

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/corigine/flower-offload/pkg/agent"
	"github.com/corigine/flower-offload/pkg/util"
	"github.com/corigine/flower-offload/versions"
)

func main() {
	var addr string
	defer klog.Flush()

	klog.Infof(versions.String())
	config, err := agent.ParseFlags()
	if err != nil {
		util.LogFatalAndExit(err, "failed to parse config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	exporter, err := agent.NewExporter(ctx, config)
	cancel()
	if err != nil {
		util.LogFatalAndExit(err, "failed to start flower offload")
	}
	stopCh := make(chan struct{})
	exporter.Start(stopCh)

	addr = fmt.Sprintf(":%d", config.ListenPort)
	podIpsEnv := os.Getenv("POD_IPS")
	podIps := strings.Split(podIpsEnv, ",")
	if len(podIps) == 1 && podIps[0] != "" {
		ip := net.ParseIP(podIps[0])
		if ip.To4() != nil {
			addr = fmt.Sprintf("%s:%d", podIps[0], config.ListenPort)
		} else {
			addr = fmt.Sprintf("[%s]:%d", podIps[0], config.ListenPort)
		}
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           exporter.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		klog.Infof("received %s, removing offloaded flows", sig)
		close(stopCh)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := exporter.Close(ctx); err != nil {
			klog.Errorf("teardown: %v", err)
		}
		server.Shutdown(ctx)
	}()

	klog.Infoln("Listening on", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.LogFatalAndExit(err, "failed to listen and server on %s", addr)
	}
}
