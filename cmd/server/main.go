package main

import (
	"bufio"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"msimchat/internal/activitylog"
	"msimchat/internal/config"
	"msimchat/internal/server"
	"msimchat/internal/store"
)

func main() {
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	flag.Parse()

	cfg := config.Load()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	alog, err := activitylog.Open(cfg.LogPath)
	if err != nil {
		log.Fatalf("failed to open activity log: %v", err)
	}
	defer alog.Close()

	srv := server.New(cfg, st, alog)

	go startMetricsServer(*metricsAddr)
	go startControlSocket(srv, cfg.CtrlSockPath)

	if err := srv.Start(); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down", sig)

	os.Remove(cfg.CtrlSockPath)
	srv.Stop()
}

func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server stopped: %v", err)
	}
}

// startControlSocket runs the operator command loop on a Unix socket:
// "stats" reports roster size and live usernames, "shutdown" tears the
// server down in place.
func startControlSocket(srv *server.Server, path string) {
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		log.Printf("failed to create control socket: %v", err)
		return
	}
	defer ln.Close()
	defer os.Remove(path)

	log.Printf("control socket listening on %s", path)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go handleControlCommand(srv, conn)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	cmd := strings.TrimSpace(line)

	switch cmd {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))
	case "shutdown":
		conn.Write([]byte("OK|shutting down\n"))
		conn.Close()
		srv.Stop()
		os.Exit(0)
	default:
		conn.Write([]byte("ERROR|unknown command\n"))
	}
}
