// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Command fero-bastion is the stateless DMZ-facing forwarder (C6): it
// stamps a server-authoritative timestamp onto mutating RPCs and forwards
// them verbatim to the interior fero-server. Binary shape adapted from
// src/proxy_buffer/pb_server.go's flag.Parse()-then-serve structure.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"google.golang.org/grpc"

	"github.com/coreos/fero/internal/bastion"
	"github.com/coreos/fero/internal/transport"
	"github.com/coreos/fero/proto/feropb"
)

var (
	address      = flag.String("address", "127.0.0.1", "address to bind the bastion on")
	port         = flag.Int("port", 0, "port to bind the bastion on; required")
	serverAddr   = flag.String("server-address", "", "address of the interior fero-server; required")
	serverPort   = flag.Int("server-port", 0, "port of the interior fero-server; required")
	enableTLS    = flag.Bool("enable-tls", false, "enable mTLS between the bastion and the interior server")
	serviceKey   = flag.String("service-key", "", "PEM-encoded private key for the bastion's client certificate")
	serviceCert  = flag.String("service-cert", "", "PEM-encoded certificate chain for the bastion's client certificate")
	caRootCerts  = flag.String("ca-root-certs", "", "PEM-encoded CA root certificates trusted for the interior server")
)

func main() {
	flag.Parse()
	if *port == 0 || *serverAddr == "" || *serverPort == 0 {
		fmt.Fprintln(os.Stderr, "fero-bastion: --port, --server-address and --server-port are required")
		os.Exit(1)
	}

	dialOpts := []grpc.DialOption{grpc.WithBlock()}
	if *enableTLS {
		creds, err := transport.LoadClientCredentials(*caRootCerts, *serviceCert, *serviceKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fero-bastion: failed to load client credentials: %v\n", err)
			os.Exit(1)
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))
	} else {
		dialOpts = append(dialOpts, grpc.WithInsecure())
	}

	conn, err := grpc.Dial(net.JoinHostPort(*serverAddr, strconv.Itoa(*serverPort)), dialOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fero-bastion: failed to dial interior server: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	upstream := feropb.NewFeroClient(conn)
	srv := bastion.New(upstream)

	listener, err := net.Listen("tcp", net.JoinHostPort(*address, strconv.Itoa(*port)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fero-bastion: failed to listen: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "fero-bastion listening on %s, forwarding to %s\n", listener.Addr(), conn.Target())

	server := grpc.NewServer()
	feropb.RegisterFeroServer(server, srv)
	if err := server.Serve(listener); err != nil {
		fmt.Fprintf(os.Stderr, "fero-bastion: %v\n", err)
		os.Exit(1)
	}
}
