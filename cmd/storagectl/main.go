// cmd/storagectl is the operator CLI, built with Cobra, for driving a
// single distributed object storage node's public surface: GET/PUT/
// DELETE/HEAD on objects, plus compaction-status and watchdog-alarm
// introspection. Adapted from the teacher's cmd/client (same
// PersistentFlags/RunE shape), generalized from single-string KV values
// to the address_id/key object model this spec uses.
//
// Usage:
//
//	storagectl put 42 mykey "hello world"   --server http://localhost:8080
//	storagectl get 42 mykey                 --server http://localhost:8080
//	storagectl delete 42 mykey              --server http://localhost:8080
//	storagectl head 42 mykey                --server http://localhost:8080
//	storagectl compact status               --server http://localhost:8080
//	storagectl watchdog alarm --level 2     --server http://localhost:8080
//	storagectl raw /health                  --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"distributed-objectstore/internal/client"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "storagectl",
		Short: "operator CLI for a distributed object storage node",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(putCmd(), getCmd(), deleteCmd(), headCmd(), compactCmd(), watchdogCmd(), rawCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// ─── put ────────────────────────────────────────────────────────────────

func putCmd() *cobra.Command {
	var reqID uint64
	cmd := &cobra.Command{
		Use:   "put <address_id> <key> <value>",
		Short: "store an object at (address_id, key)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return fmt.Errorf("invalid address_id: %w", err)
			}
			c := client.New(serverAddr, timeout)
			result, err := c.Put(context.Background(), addr, args[1], []byte(args[2]), reqID)
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&reqID, "req-id", 0, "request id for deduplication/correlation")
	return cmd
}

// ─── get ────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <address_id> <key>",
		Short: "retrieve an object by (address_id, key)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return fmt.Errorf("invalid address_id: %w", err)
			}
			c := client.New(serverAddr, timeout)
			result, err := c.Get(context.Background(), addr, args[1])
			if err == client.ErrNotFound {
				fmt.Printf("key %q not found\n", args[1])
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("etag=%x\n%s\n", result.Etag, result.Data)
			return nil
		},
	}
}

// ─── delete ─────────────────────────────────────────────────────────────

func deleteCmd() *cobra.Command {
	var checkUnderDir bool
	cmd := &cobra.Command{
		Use:   "delete <address_id> <key>",
		Short: "delete an object by (address_id, key); with --recursive, a trailing / triggers recursive directory delete",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return fmt.Errorf("invalid address_id: %w", err)
			}
			c := client.New(serverAddr, timeout)
			if err := c.Delete(context.Background(), addr, args[1], checkUnderDir); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkUnderDir, "recursive", false, "fan out a recursive directory delete")
	return cmd
}

// ─── head ───────────────────────────────────────────────────────────────

func headCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "head <address_id> <key>",
		Short: "fetch metadata only for (address_id, key)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return fmt.Errorf("invalid address_id: %w", err)
			}
			c := client.New(serverAddr, timeout)
			etag, size, err := c.Head(context.Background(), addr, args[1])
			if err == client.ErrNotFound {
				fmt.Printf("key %q not found\n", args[1])
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("etag=%x size=%d\n", etag, size)
			return nil
		},
	}
}

// ─── compact ────────────────────────────────────────────────────────────

func compactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "compactor introspection",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "show the node's compactor FSM status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			stats, err := c.CompactStatus(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(stats)
			return nil
		},
	})
	return cmd
}

// ─── watchdog ───────────────────────────────────────────────────────────

func watchdogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchdog",
		Short: "manually drive the watchdog-driven adaptive controller",
	}

	var level uint8
	alarmCmd := &cobra.Command{
		Use:   "alarm",
		Short: "deliver a synthetic watchdog alarm to the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.RaiseAlarm(context.Background(), level)
		},
	}
	alarmCmd.Flags().Uint8Var(&level, "level", 2, "alarm level (0=INFO 1=WARN 2=ERROR 3=CRITICAL)")
	cmd.AddCommand(alarmCmd)
	return cmd
}

// ─── raw ────────────────────────────────────────────────────────────────

func rawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "raw <path>",
		Short: "GET an arbitrary server-relative path and print the body (e.g. /health)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			body, err := c.RawGet(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(body)
			return nil
		},
	}
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
