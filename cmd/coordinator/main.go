// cmd/coordinator is the entrypoint for the ringmq Coordinator daemon.
//
// Configuration is entirely via flags/environment (--brokers and
// --replication-factor default to BROKER_NODES and REPLICATION_FACTOR when
// those are set): the Coordinator holds no durable state of its own and can
// be restarted freely.
//
// Example — 3-broker cluster:
//
//	./coordinator --brokers node-a=http://localhost:5001,node-b=http://localhost:5002,node-c=http://localhost:5003 \
//	              --replication-factor 3 --addr :7000
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"ringmq/internal/coordinator"
)

func main() {
	addr := flag.String("addr", ":7000", "Listen address (host:port)")
	brokersFlag := flag.String("brokers", os.Getenv("BROKER_NODES"), "Comma-separated list of brokers: name=url")
	defaultReplication := 3
	if v, err := strconv.Atoi(os.Getenv("REPLICATION_FACTOR")); err == nil {
		defaultReplication = v
	}
	replicationFactor := flag.Int("replication-factor", defaultReplication, "Number of brokers each key is placed on (primary + replicas)")
	virtualNodes := flag.Int("virtual-nodes", 150, "Virtual nodes per broker on the hash ring")
	probeInterval := flag.Duration("probe-interval", 5*time.Second, "Health probe interval")
	probeTimeout := flag.Duration("probe-timeout", 2*time.Second, "Health probe and routing request timeout")
	failureThreshold := flag.Int("failure-threshold", 3, "Consecutive probe failures before a broker is declared FAILED")
	flag.Parse()

	if *brokersFlag == "" {
		log.Fatal("--brokers (or BROKER_NODES) is required: name=url[,name=url...]")
	}

	var brokers []coordinator.BrokerConfig
	for _, entry := range strings.Split(*brokersFlag, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			log.Fatalf("invalid broker entry %q: expected name=url", entry)
		}
		brokers = append(brokers, coordinator.BrokerConfig{Name: parts[0], URL: parts[1]})
	}

	if *replicationFactor > len(brokers) {
		log.WithFields(log.Fields{"replicationFactor": *replicationFactor, "brokers": len(brokers)}).
			Warn("replication factor exceeds broker count; every broker will hold a copy of every key")
	}

	coord := coordinator.New(coordinator.Config{
		Brokers:           brokers,
		ReplicationFactor: *replicationFactor,
		VirtualNodes:      *virtualNodes,
		ProbeInterval:     *probeInterval,
		ProbeTimeout:      *probeTimeout,
		FailureThreshold:  *failureThreshold,
	})

	probeCtx, cancelProbe := context.WithCancel(context.Background())
	go coord.Run(probeCtx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(coordinator.Logger(), coordinator.Recovery())

	handler := coordinator.NewHandler(coord)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{
			"addr":              *addr,
			"brokers":           len(brokers),
			"replicationFactor": *replicationFactor,
		}).Info("coordinator listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("coordinator server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down coordinator")
	cancelProbe()
	coord.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("coordinator server shutdown error")
	}
}
