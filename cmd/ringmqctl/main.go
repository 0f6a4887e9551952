// cmd/ringmqctl is the CLI entry-point built with Cobra.
//
// Usage:
//
//	ringmqctl produce order-42 '{"item":"widget","qty":3}' --coordinator http://localhost:7000
//	ringmqctl consume order-42                              --coordinator http://localhost:7000
//	ringmqctl ring                                           --coordinator http://localhost:7000
//	ringmqctl route order-42                                --coordinator http://localhost:7000
//	ringmqctl health nodes                                   --coordinator http://localhost:7000
//	ringmqctl failover status                                --coordinator http://localhost:7000
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ringmq/internal/client"
)

var (
	coordinatorAddr string
	timeout         time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "ringmqctl",
		Short: "CLI client for ringmq",
	}

	root.PersistentFlags().StringVarP(&coordinatorAddr, "coordinator", "c",
		"http://localhost:7000", "Coordinator address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(produceCmd(), consumeCmd(), ringCmd(), routeCmd(), healthCmd(), failoverCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── produce ────────────────────────────────────────────────────────────────

func produceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "produce <key> <json-payload>",
		Short: "Produce a message under key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload must be valid JSON, got %q", args[1])
			}
			c := client.New(coordinatorAddr, timeout)
			resp, err := c.Produce(context.Background(), args[0], json.RawMessage(args[1]))
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── consume ────────────────────────────────────────────────────────────────

func consumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume <key>",
		Short: "Consume the current message for key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(coordinatorAddr, timeout)
			resp, err := c.Consume(context.Background(), args[0])
			if err == client.ErrNotFound {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── ring / route / health / failover ───────────────────────────────────────

func ringCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ring",
		Short: "Show the consistent hash ring",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(coordinatorAddr, timeout)
			resp, err := c.GetRaw(context.Background(), "/ring")
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	}
}

func routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <key>",
		Short: "Show the effective primary/replicas for key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(coordinatorAddr, timeout)
			resp, err := c.GetRaw(context.Background(), "/route/"+args[0])
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Health introspection commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "nodes",
		Short: "Show per-broker liveness state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(coordinatorAddr, timeout)
			resp, err := c.GetRaw(context.Background(), "/health/nodes")
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	})
	return cmd
}

func failoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failover",
		Short: "Failover introspection commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the override map and failover event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(coordinatorAddr, timeout)
			resp, err := c.GetRaw(context.Background(), "/failover/status")
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	})
	return cmd
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
