// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Command fero-server is the interior signing server: it drives the HSM,
// enforces weighted-quorum authorization, and appends every request to the
// tamper-evident audit log. It also hosts the one-time provisioning and
// admin-enrollment subcommands. Subcommand dispatch via flag.NewFlagSet is
// adapted from the teacher's plain flag.Parse() binaries (e.g.
// src/proxy_buffer/pb_server.go), generalized into a subcommand form the way
// src/pk11/tool/tool.go dispatches its pkcs11 diagnostic verbs.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"google.golang.org/grpc"

	"github.com/coreos/fero/internal/auditlog"
	"github.com/coreos/fero/internal/ferolog"
	"github.com/coreos/fero/internal/hsm"
	"github.com/coreos/fero/internal/provision"
	"github.com/coreos/fero/internal/signing"
	"github.com/coreos/fero/internal/store"
	"github.com/coreos/fero/internal/transport"
	"github.com/coreos/fero/proto/feropb"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fero-server <command> [flags]

commands:
  serve              run the signing server
  provision          first-boot HSM bring-up
  add-secret         import a signing key
  add-user           register a user's PGP public key
  set-user-weight    set a user's weight against a secret`)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "provision":
		err = runProvision(os.Args[2:])
	case "add-secret":
		err = runAddSecret(os.Args[2:])
	case "add-user":
		err = runAddUser(os.Args[2:])
	case "set-user-weight":
		err = runSetUserWeight(os.Args[2:])
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "fero-server: %v\n", err)
		os.Exit(1)
	}
}

func flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs
}

func openHSM(connectorURL string, slot uint, authkey uint16, password string) (*hsm.PKCS11, error) {
	dev, err := hsm.Open(connectorURL, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to open hsm connector: %w", err)
	}
	if err := dev.CreateSession(authkey, password); err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to authenticate with hsm: %w", err)
	}
	return dev, nil
}

func runServe(args []string) error {
	fs := flagSet("serve")
	dbPath := fs.String("database", "", "path to the sqlite database file; required")
	connectorURL := fs.String("connector-url", "", "path to the pkcs11 connector module; required")
	slot := fs.Uint("slot", 0, "pkcs11 slot to use")
	authkey := fs.Uint("authkey", 3, "hsm authkey id to authenticate with")
	password := fs.String("password", "", "hsm authkey password; required")
	address := fs.String("address", "127.0.0.1", "address to bind the server on")
	port := fs.Int("port", 0, "port to bind the server on; required")
	logLevel := fs.Int("log-level", int(ferolog.LevelInfo), "log verbosity (0=fatal .. 4=debug)")
	enableTLS := fs.Bool("enable-tls", false, "enable mTLS; the bastion and any direct callers must present a client certificate")
	serviceKey := fs.String("service-key", "", "PEM-encoded private key for the server's certificate")
	serviceCert := fs.String("service-cert", "", "PEM-encoded certificate chain for the server's certificate")
	caRootCerts := fs.String("ca-root-certs", "", "PEM-encoded CA root certificates trusted for client certificates")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *connectorURL == "" || *password == "" || *port == 0 {
		return fmt.Errorf("--database, --connector-url, --password and --port are required")
	}

	lg := ferolog.New(ferolog.Level(*logLevel))

	db, err := store.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	dev, err := openHSM(*connectorURL, *slot, uint16(*authkey), *password)
	if err != nil {
		return err
	}
	defer dev.Close()

	srv := signing.New(db, dev, lg)

	listener, err := net.Listen("tcp", net.JoinHostPort(*address, strconv.Itoa(*port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lg.Infof("fero-server listening on %s", listener.Addr())

	opts := []grpc.ServerOption{}
	if *enableTLS {
		creds, err := transport.LoadServerCredentials(*caRootCerts, *serviceCert, *serviceKey)
		if err != nil {
			return fmt.Errorf("failed to load server credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds), grpc.UnaryInterceptor(transport.CheckEndpointInterceptor))
	}
	server := grpc.NewServer(opts...)
	feropb.RegisterFeroServer(server, srv)
	return server.Serve(listener)
}

func runProvision(args []string) error {
	fs := flagSet("provision")
	dbPath := fs.String("database", "", "path to the sqlite database file to create; required")
	connectorURL := fs.String("connector-url", "", "path to the pkcs11 connector module; required")
	slot := fs.Uint("slot", 0, "pkcs11 slot to use")
	yes := fs.Bool("y", false, "confirm destructive bootstrap; refuses without this flag")
	credCache := fs.String("credential-cache", "", "optional path to cache bcrypt hashes of the newly created admin/app authkey passwords")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return fmt.Errorf("refusing to provision without -y")
	}
	if *dbPath == "" || *connectorURL == "" {
		return fmt.Errorf("--database and --connector-url are required")
	}

	adminPW, err := promptPassword("admin authkey password: ")
	if err != nil {
		return err
	}
	appPW, err := promptPassword("app authkey password: ")
	if err != nil {
		return err
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	dev, err := hsm.Open(*connectorURL, *slot)
	if err != nil {
		return fmt.Errorf("failed to open hsm connector: %w", err)
	}
	defer dev.Close()

	// Provision's own steps never call PutRSAKey, so the authkey id passed
	// here is never consulted; 1 names the device's default bootstrap
	// authkey this subcommand authenticates with.
	p := provision.New(db, dev, nil, 1)
	if *credCache != "" {
		p = p.WithCredentialCache(*credCache)
	}
	return p.Provision(adminPW, appPW)
}

// promptPassword reads a line from stdin. Provisioning runs interactively
// against an operator's terminal over a connection already assumed
// physically secure (spec §4.7), so no input masking is attempted here.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return trimNewline(line), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func adminProvisioner(dbPath, connectorURL string, slot uint, authkey uint, password string) (*provision.Provisioner, *hsm.PKCS11, *store.Store, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	dev, err := openHSM(connectorURL, slot, uint16(authkey), password)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	log := auditlog.New(db, dev, nil)
	return provision.New(db, dev, log, uint16(authkey)), dev, db, nil
}

func runAddSecret(args []string) error {
	fs := flagSet("add-secret")
	dbPath := fs.String("database", "", "path to the sqlite database file; required")
	connectorURL := fs.String("connector-url", "", "path to the pkcs11 connector module; required")
	slot := fs.Uint("slot", 0, "pkcs11 slot to use")
	authkey := fs.Uint("authkey", 2, "hsm authkey id to authenticate with")
	password := fs.String("password", "", "hsm authkey password; required")
	credCache := fs.String("credential-cache", "", "optional path to a credential cache written by provision -credential-cache")
	file := fs.String("file", "", "path to the pgp secret key or PEM rsa private key; required")
	subkey := fs.String("subkey", "", "hex-encoded fingerprint of the pgp subkey to import; omit for a PEM key")
	name := fs.String("name", "", "name to register the secret under; required")
	threshold := fs.Int("threshold", 0, "initial admission threshold")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *connectorURL == "" || *password == "" || *file == "" || *name == "" {
		return fmt.Errorf("--database, --connector-url, --password, --file and --name are required")
	}
	if err := provision.VerifyCachedPassword(*credCache, uint16(*authkey), *password); err != nil {
		return err
	}

	p, dev, db, err := adminProvisioner(*dbPath, *connectorURL, *slot, *authkey, *password)
	if err != nil {
		return err
	}
	defer dev.Close()
	defer db.Close()

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", *file, err)
	}

	if *subkey != "" {
		return p.ImportPGPSecret(data, *subkey, *name, int32(*threshold))
	}
	return p.ImportPEMSecret(data, *name, int32(*threshold))
}

func runAddUser(args []string) error {
	fs := flagSet("add-user")
	dbPath := fs.String("database", "", "path to the sqlite database file; required")
	connectorURL := fs.String("connector-url", "", "path to the pkcs11 connector module; required")
	slot := fs.Uint("slot", 0, "pkcs11 slot to use")
	authkey := fs.Uint("authkey", 2, "hsm authkey id to authenticate with")
	password := fs.String("password", "", "hsm authkey password; required")
	credCache := fs.String("credential-cache", "", "optional path to a credential cache written by provision -credential-cache")
	file := fs.String("file", "", "path to the user's armored pgp public key; required")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *connectorURL == "" || *password == "" || *file == "" {
		return fmt.Errorf("--database, --connector-url, --password and --file are required")
	}
	if err := provision.VerifyCachedPassword(*credCache, uint16(*authkey), *password); err != nil {
		return err
	}

	p, dev, db, err := adminProvisioner(*dbPath, *connectorURL, *slot, *authkey, *password)
	if err != nil {
		return err
	}
	defer dev.Close()
	defer db.Close()

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", *file, err)
	}
	return p.StoreUser(data)
}

func runSetUserWeight(args []string) error {
	fs := flagSet("set-user-weight")
	dbPath := fs.String("database", "", "path to the sqlite database file; required")
	connectorURL := fs.String("connector-url", "", "path to the pkcs11 connector module; required")
	slot := fs.Uint("slot", 0, "pkcs11 slot to use")
	authkey := fs.Uint("authkey", 2, "hsm authkey id to authenticate with")
	password := fs.String("password", "", "hsm authkey password; required")
	credCache := fs.String("credential-cache", "", "optional path to a credential cache written by provision -credential-cache")
	user := fs.String("user", "", "hex-encoded pgp key id of the user; required")
	name := fs.String("name", "", "secret name to set the weight against; required")
	weight := fs.Int("weight", 0, "weight to assign")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *connectorURL == "" || *password == "" || *user == "" || *name == "" {
		return fmt.Errorf("--database, --connector-url, --password, --user and --name are required")
	}
	if err := provision.VerifyCachedPassword(*credCache, uint16(*authkey), *password); err != nil {
		return err
	}

	userKeyID, err := strconv.ParseUint(*user, 16, 64)
	if err != nil {
		return fmt.Errorf("invalid --user key id %q: %w", *user, err)
	}

	p, dev, db, err := adminProvisioner(*dbPath, *connectorURL, *slot, *authkey, *password)
	if err != nil {
		return err
	}
	defer dev.Close()
	defer db.Close()

	return p.SetUserWeight(userKeyID, *name, int32(*weight))
}
