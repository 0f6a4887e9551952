// cmd/broker is the entrypoint for a single ringmq Broker daemon.
//
// A broker knows nothing about the ring or about its peers' health; it is
// configured with only its own identity (--id, defaulting to NODE_ID when
// set) and listen address, and accepts primary writes and promotion
// requests from the Coordinator and replica writes from primary brokers.
//
// Example:
//
//	./broker --id node-a --addr :5000
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"ringmq/internal/broker"
)

func main() {
	defaultID := "node1"
	if v := os.Getenv("NODE_ID"); v != "" {
		defaultID = v
	}
	nodeID := flag.String("id", defaultID, "Unique broker identifier")
	addr := flag.String("addr", ":5000", "Listen address (host:port)")
	flag.Parse()

	store := broker.New(*nodeID)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(broker.Logger(), broker.Recovery())

	handler := broker.NewHandler(store)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{"node": *nodeID, "addr": *addr}).Info("broker listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("broker server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.WithField("node", *nodeID).Info("shutting down broker")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("broker server shutdown error")
	}
}
