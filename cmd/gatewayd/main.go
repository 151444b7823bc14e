// Command gatewayd runs the replication and garbage-collection engines
// as a long-lived daemon: one process, two engine instances, wired to
// the local gateway's filesystem entry store, block store, and
// metadata-service client.
/*
 * Copyright (c) 2024, Syndicate Storage Project. All rights reserved.
 */
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syndicate-storage/gateway/cmn"
	"github.com/syndicate-storage/gateway/replicate"
)

// draining is read by /status and flipped by /drain. It is set as soon
// as a drain is requested, before the engines have finished shutting
// down; /status does not report when that shutdown completes.
var draining int32

var (
	configFile = flag.String("config", "", "path to gateway config (JSON); defaults used when empty")
	listenAddr = flag.String("listen", ":9100", "address the metrics endpoint listens on")
	gatewayID  = flag.Uint64("gateway-id", 0, "this gateway's identity, stamped as writer_id on every submitted context")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := cmn.DefaultConfig()
	if *configFile != "" {
		loaded, err := cmn.LoadConfig(*configFile)
		if err != nil {
			glog.Errorf("gatewayd: failed to load config %s: %v", *configFile, err)
			os.Exit(1)
		}
		conf = loaded
	}

	// TODO: replace with the real on-disk block layout and metadata
	// service once the surrounding gateway wires them in; this daemon
	// only owns the replication/GC engines, not volume bootstrapping.
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		glog.Errorf("gatewayd: failed to generate signing key: %v", err)
		os.Exit(1)
	}
	fsStore := replicate.NewMemFsEntryStore()
	blockStore := replicate.NewFSBlockStore(os.TempDir())
	signer := replicate.NewRSASigner(key)
	codec := replicate.NewJSONManifestCodec()
	msClient := replicate.NewStaticMSClient(nil)

	reg := prometheus.NewRegistry()
	engineCfg := replicate.EngineConfig{
		FsStore:    fsStore,
		BlockStore: blockStore,
		Codec:      codec,
		Signer:     signer,
		MSClient:   msClient,
		Config:     conf,
		Registerer: reg,
		GatewayID:  *gatewayID,
	}

	repl := replicate.ReplicationInit(engineCfg)
	gc := replicate.GCInit(engineCfg)
	defer repl.Shutdown()
	defer gc.Shutdown()

	glog.Infof("gatewayd: replication and garbage_collector engines running, metrics on %s", *listenAddr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"draining": atomic.LoadInt32(&draining) != 0,
		})
	})
	mux.HandleFunc("/drain", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		atomic.StoreInt32(&draining, 1)
		glog.Infof("gatewayd: drain requested, tearing down in-flight transfers")
		go func() {
			repl.Shutdown()
			gc.Shutdown()
			glog.Infof("gatewayd: drained")
		}()
		w.WriteHeader(http.StatusAccepted)
	})
	srv := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("gatewayd: metrics server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	glog.Infof("gatewayd: shutting down")
	_ = srv.Close()
}
