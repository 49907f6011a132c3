// Command gossipctl is a diagnostic client for gossipd.
//
//	gossipctl say [-host h] -to <port> TEXT...
//	gossipctl health -addr host:port [-service name]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gossipd/internal/config"
	"gossipd/internal/gossip"
	"gossipd/internal/node"
	"gossipd/internal/transport"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "gossipctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: gossipctl <say|health> [flags]")
	}
	switch args[0] {
	case "say":
		return say(args[1:])
	case "health":
		return health(args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// say sends one Data message to a node, which logs it.
func say(args []string) error {
	fs := flag.NewFlagSet("say", flag.ContinueOnError)
	host := fs.String("host", "localhost", "Host the node listens on.")
	to := fs.String("to", "", "Port of the receiving node.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	port, err := config.ParsePort(*to)
	if err != nil {
		return fmt.Errorf("-to: %w", err)
	}
	text := strings.Join(fs.Args(), " ")
	if text == "" {
		return errors.New("nothing to say")
	}

	payload, err := gossip.Encode(gossip.DataMessage(text), gossip.DefaultMaxDatagramSize)
	if err != nil {
		return err
	}
	tr, err := transport.ListenUDP(":0", gossip.DefaultMaxDatagramSize)
	if err != nil {
		return err
	}
	defer tr.Close()

	return tr.Send(net.JoinHostPort(*host, strconv.Itoa(int(port))), payload)
}

// health prints the gRPC health status of a node.
func health(args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "", "gRPC health address of the node.")
	service := fs.String("service", node.MembershipService, `Service to check ("" for the process).`)
	timeout := fs.Duration("timeout", 3*time.Second, "RPC timeout.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *addr == "" {
		return errors.New("-addr is required")
	}

	clients := node.NewHealthClients()
	defer clients.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	status, err := clients.Check(ctx, *addr, *service)
	if err != nil {
		return err
	}
	fmt.Println(status)
	return nil
}
