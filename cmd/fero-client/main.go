// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Command fero-client is a thin gRPC client for the Fero service surface,
// plus two purely-local helpers (threshold-payload/weight-payload) that
// print the exact bytes a caller must detach-sign to authorize a
// SetThreshold/SetWeight request. Subcommand-over-flag.NewFlagSet dispatch
// mirrors cmd/fero-server; RPC dialing mirrors src/pa/pa_server.go's
// grpc.Dial(..., grpc.WithInsecure(), grpc.WithBlock()) pattern.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"google.golang.org/grpc"

	"github.com/coreos/fero/internal/authz"
	"github.com/coreos/fero/proto/feropb"
)

// stringList accumulates repeated flag occurrences, e.g. repeated
// --signature flags for multi-signer requests.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fero-client <command> [flags]

commands:
  sign                request a signature
  threshold           request a threshold change
  weight              request a weight change
  threshold-payload   print the bytes to sign for a threshold change
  weight-payload      print the bytes to sign for a weight change
  get-logs            fetch audit log entries`)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "sign":
		err = runSign(os.Args[2:])
	case "threshold":
		err = runThreshold(os.Args[2:])
	case "weight":
		err = runWeight(os.Args[2:])
	case "threshold-payload":
		err = runThresholdPayload(os.Args[2:])
	case "weight-payload":
		err = runWeightPayload(os.Args[2:])
	case "get-logs":
		err = runGetLogs(os.Args[2:])
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "fero-client: %v\n", err)
		os.Exit(1)
	}
}

func flagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func dial(server string, port int) (feropb.FeroClient, *grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, net.JoinHostPort(server, strconv.Itoa(port)), grpc.WithInsecure(), grpc.WithBlock())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s:%d: %w", server, port, err)
	}
	return feropb.NewFeroClient(conn), conn, nil
}

func readSignatures(files stringList) ([][]byte, error) {
	sigs := make([][]byte, len(files))
	for i, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read signature file %s: %w", f, err)
		}
		sigs[i] = data
	}
	return sigs, nil
}

func runSign(args []string) error {
	fs := flagSet("sign")
	server := fs.String("server", "127.0.0.1", "fero server address")
	port := fs.Int("port", 0, "fero server port; required")
	name := fs.String("name", "", "secret name; required")
	payloadFile := fs.String("payload-file", "", "path to the artifact to sign; required")
	sigType := fs.String("sig-type", "pgp", "output encoding: pgp or raw")
	outFile := fs.String("out", "", "path to write the resulting signature; defaults to stdout")
	var sigFiles stringList
	fs.Var(&sigFiles, "signature", "path to a detached signature over the canonical payload; may be repeated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port == 0 || *name == "" || *payloadFile == "" {
		return fmt.Errorf("--port, --name and --payload-file are required")
	}

	payload, err := os.ReadFile(*payloadFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", *payloadFile, err)
	}
	sigs, err := readSignatures(sigFiles)
	if err != nil {
		return err
	}

	var wireSigType feropb.SigType
	switch *sigType {
	case "pgp":
		wireSigType = feropb.SigType_PGP
	case "raw":
		wireSigType = feropb.SigType_PKCS1V1_5
	default:
		return fmt.Errorf("unknown --sig-type %q: must be pgp or raw", *sigType)
	}

	client, conn, err := dial(*server, *port)
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := client.Sign(context.Background(), &feropb.SignRequest{
		Ident:   &feropb.Identification{SecretName: *name, Signatures: sigs},
		Payload: payload,
		SigType: wireSigType,
	})
	if err != nil {
		return err
	}

	if *outFile == "" {
		_, err = os.Stdout.Write(resp.Payload)
		return err
	}
	return os.WriteFile(*outFile, resp.Payload, 0644)
}

func runThreshold(args []string) error {
	fs := flagSet("threshold")
	server := fs.String("server", "127.0.0.1", "fero server address")
	port := fs.Int("port", 0, "fero server port; required")
	name := fs.String("name", "", "secret name; required")
	threshold := fs.Int("threshold", 0, "new threshold value; required")
	var sigFiles stringList
	fs.Var(&sigFiles, "signature", "path to a detached signature over the canonical payload; may be repeated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port == 0 || *name == "" {
		return fmt.Errorf("--port and --name are required")
	}

	sigs, err := readSignatures(sigFiles)
	if err != nil {
		return err
	}

	client, conn, err := dial(*server, *port)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = client.SetThreshold(context.Background(), &feropb.ThresholdRequest{
		Ident:     &feropb.Identification{SecretName: *name, Signatures: sigs},
		Threshold: int32(*threshold),
	})
	return err
}

func runWeight(args []string) error {
	fs := flagSet("weight")
	server := fs.String("server", "127.0.0.1", "fero server address")
	port := fs.Int("port", 0, "fero server port; required")
	name := fs.String("name", "", "secret name; required")
	user := fs.String("user", "", "hex-encoded pgp key id of the user being weighted; required")
	weight := fs.Int("weight", 0, "new weight value; required")
	var sigFiles stringList
	fs.Var(&sigFiles, "signature", "path to a detached signature over the canonical payload; may be repeated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port == 0 || *name == "" || *user == "" {
		return fmt.Errorf("--port, --name and --user are required")
	}

	userKeyID, err := strconv.ParseUint(*user, 16, 64)
	if err != nil {
		return fmt.Errorf("invalid --user key id %q: %w", *user, err)
	}

	sigs, err := readSignatures(sigFiles)
	if err != nil {
		return err
	}

	client, conn, err := dial(*server, *port)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = client.SetWeight(context.Background(), &feropb.WeightRequest{
		Ident:     &feropb.Identification{SecretName: *name, Signatures: sigs},
		UserKeyId: userKeyID,
		Weight:    int32(*weight),
	})
	return err
}

func runThresholdPayload(args []string) error {
	fs := flagSet("threshold-payload")
	name := fs.String("name", "", "secret name; required")
	threshold := fs.Int("threshold", 0, "new threshold value; required")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	_, err := os.Stdout.Write(authz.CanonicalThresholdPayload(*name, int32(*threshold)))
	return err
}

func runWeightPayload(args []string) error {
	fs := flagSet("weight-payload")
	name := fs.String("name", "", "secret name; required")
	user := fs.String("user", "", "hex-encoded pgp key id of the user being weighted; required")
	weight := fs.Int("weight", 0, "new weight value; required")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *user == "" {
		return fmt.Errorf("--name and --user are required")
	}
	userKeyID, err := strconv.ParseUint(*user, 16, 64)
	if err != nil {
		return fmt.Errorf("invalid --user key id %q: %w", *user, err)
	}
	_, err = os.Stdout.Write(authz.CanonicalWeightPayload(*name, userKeyID, int32(*weight)))
	return err
}

func runGetLogs(args []string) error {
	fs := flagSet("get-logs")
	server := fs.String("server", "127.0.0.1", "fero server address")
	port := fs.Int("port", 0, "fero server port; required")
	minIndex := fs.Int64("min-index", 0, "lowest log id to fetch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port == 0 {
		return fmt.Errorf("--port is required")
	}

	client, conn, err := dial(*server, *port)
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := client.GetLogs(context.Background(), &feropb.LogRequest{MinIndex: *minIndex})
	if err != nil {
		return err
	}

	for _, e := range resp.Logs {
		fmt.Printf("id=%d type=%d result=%d hash=%x\n", e.Id, e.OperationType, e.Result, e.Hash)
	}
	return nil
}
