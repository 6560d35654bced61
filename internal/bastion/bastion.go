// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package bastion implements the Bastion (C6): a stateless gRPC forwarder
// that exposes the identical Fero service interface as the interior signing
// server. It stamps a server-authoritative timestamp onto mutating RPCs so
// a client on the DMZ side cannot replay an old payload with a fresh
// wall-clock, then forwards verbatim. Thin-delegation shape adapted from
// src/proxy_buffer/services/proxybuffer.go; the timestamp-stamping
// behavior is grounded on original_source/fero-bastion/src/service.rs.
package bastion

import (
	"context"
	"time"

	"github.com/coreos/fero/proto/feropb"
)

// Server implements feropb.FeroServer by forwarding every call to an
// upstream interior signing server, holding no keys and performing no
// authorization of its own.
type Server struct {
	feropb.UnimplementedFeroServer

	upstream feropb.FeroClient
}

// New returns a Server forwarding to upstream.
func New(upstream feropb.FeroClient) *Server {
	return &Server{upstream: upstream}
}

func now() *feropb.Timestamp {
	t := time.Now().UTC()
	return &feropb.Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Sign stamps the server-authoritative timestamp and forwards.
func (s *Server) Sign(ctx context.Context, req *feropb.SignRequest) (*feropb.SignResponse, error) {
	req.Timestamp = now()
	return s.upstream.Sign(ctx, req)
}

// SetThreshold stamps the server-authoritative timestamp and forwards.
func (s *Server) SetThreshold(ctx context.Context, req *feropb.ThresholdRequest) (*feropb.Empty, error) {
	req.Timestamp = now()
	return s.upstream.SetThreshold(ctx, req)
}

// SetWeight stamps the server-authoritative timestamp and forwards.
func (s *Server) SetWeight(ctx context.Context, req *feropb.WeightRequest) (*feropb.Empty, error) {
	req.Timestamp = now()
	return s.upstream.SetWeight(ctx, req)
}

// GetLogs forwards unchanged; log disclosure carries no replay risk.
func (s *Server) GetLogs(ctx context.Context, req *feropb.LogRequest) (*feropb.LogResponse, error) {
	return s.upstream.GetLogs(ctx, req)
}
