// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package signing implements the Signing Service (C5): the gRPC handler
// that orchestrates the Authorizer, the HSM Adapter, and the Log Engine for
// Sign, SetThreshold, SetWeight, and GetLogs. Handler shape (a struct
// holding its dependencies, status.Errorf translation per call) is adapted
// from src/spm/services/spm.go's server/NewSpmServer; the authenticate →
// operate → always-log → return orchestration is grounded on
// original_source/fero-server/src/service.rs.
package signing

import (
	"context"
	"time"

	"google.golang.org/grpc/status"

	"github.com/coreos/fero/internal/auditlog"
	"github.com/coreos/fero/internal/authz"
	"github.com/coreos/fero/internal/ferolog"
	"github.com/coreos/fero/internal/ferr"
	"github.com/coreos/fero/internal/hsm"
	"github.com/coreos/fero/internal/store"
	"github.com/coreos/fero/proto/feropb"
)

// Server implements feropb.FeroServer, the interior signing server.
type Server struct {
	feropb.UnimplementedFeroServer

	store *store.Store
	auth  *authz.Authorizer
	ops   hsm.Ops
	log   *auditlog.Engine
	lg    *ferolog.Logger
}

// New returns a Server wiring together db, ops, and an Authorizer/Log Engine
// built from them.
func New(db *store.Store, ops hsm.Ops, lg *ferolog.Logger) *Server {
	return &Server{
		store: db,
		auth:  authz.New(db),
		ops:   ops,
		log:   auditlog.New(db, ops, lg),
		lg:    lg,
	}
}

func toTime(ts *feropb.Timestamp) time.Time {
	if ts == nil {
		return time.Now().UTC()
	}
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

func identOf(in *feropb.Identification) authz.Identification {
	if in == nil {
		return authz.Identification{}
	}
	return authz.Identification{SecretName: in.SecretName, Signatures: in.Signatures}
}

// append invokes the Log Engine and, per spec §4.5/§7, treats any failure as
// fatal to the process: continuing would risk a gap in the hash chain.
func (s *Server) append(requestType store.RequestType, result store.Result, ts time.Time, ident *feropb.Identification) {
	var serialized []byte
	if ident != nil {
		data, err := feropb.MarshalIdentification(ident)
		if err != nil && s.lg != nil {
			s.lg.Errorf("failed to marshal identification for audit log: %v", err)
		}
		serialized = data
	}

	if err := s.log.Append(requestType, result, ts, serialized); err != nil {
		if s.lg != nil {
			s.lg.Fatalf("log append failed, aborting to protect chain continuity: %v", err)
		}
		panic(err)
	}
}

// Sign produces a signature over the request payload once quorum is met,
// in either PGP or raw PKCS1v1.5 form (spec §4.5, §4.1).
func (s *Server) Sign(ctx context.Context, req *feropb.SignRequest) (*feropb.SignResponse, error) {
	ts := toTime(req.Timestamp)
	ident := req.Ident
	payload := authz.CanonicalSignPayload(req.Payload)

	handle, err := s.auth.Authenticate(identOf(ident), payload)
	if err != nil {
		s.append(store.RequestSign, store.ResultFailure, ts, ident)
		return nil, status.Error(ferr.Code(err), err.Error())
	}

	var sig []byte
	switch req.SigType {
	case feropb.SigType_PGP:
		if handle.Secret.KeyID == nil {
			opErr := ferr.Errorf(ferr.KindBadPayload, "secret %q has no pgp key id, cannot produce a PGP signature", handle.Secret.Name)
			s.append(store.RequestSign, store.ResultFailure, ts, ident)
			return nil, status.Error(ferr.Code(opErr), opErr.Error())
		}
		sig, err = hsm.SignPGP(s.ops, handle.Secret.HSMID, *handle.Secret.KeyID, hsm.SHA256, req.Payload)
	case feropb.SigType_PKCS1V1_5:
		sig, err = hsm.SignRaw(s.ops, handle.Secret.HSMID, hsm.SHA256, req.Payload)
	default:
		err = ferr.Errorf(ferr.KindBadPayload, "unknown signature type %d", req.SigType)
	}

	if err != nil {
		opErr := wrapHSMErr(err)
		s.append(store.RequestSign, store.ResultFailure, ts, ident)
		return nil, status.Error(ferr.Code(opErr), opErr.Error())
	}

	s.append(store.RequestSign, store.ResultSuccess, ts, ident)
	return &feropb.SignResponse{Payload: sig}, nil
}

// SetThreshold updates a secret's admission threshold once quorum is met.
func (s *Server) SetThreshold(ctx context.Context, req *feropb.ThresholdRequest) (*feropb.Empty, error) {
	ts := toTime(req.Timestamp)
	ident := req.Ident

	secretName := ""
	if ident != nil {
		secretName = ident.SecretName
	}
	payload := authz.CanonicalThresholdPayload(secretName, req.Threshold)

	handle, err := s.auth.Authenticate(identOf(ident), payload)
	if err != nil {
		s.append(store.RequestThreshold, store.ResultFailure, ts, ident)
		return nil, status.Error(ferr.Code(err), err.Error())
	}

	if err := s.store.UpdateThreshold(handle.Secret.Name, req.Threshold); err != nil {
		opErr := ferr.New(ferr.KindStoreFailure, err)
		s.append(store.RequestThreshold, store.ResultFailure, ts, ident)
		return nil, status.Error(ferr.Code(opErr), opErr.Error())
	}

	s.append(store.RequestThreshold, store.ResultSuccess, ts, ident)
	return &feropb.Empty{}, nil
}

// SetWeight updates a user's weight against a secret once quorum is met.
func (s *Server) SetWeight(ctx context.Context, req *feropb.WeightRequest) (*feropb.Empty, error) {
	ts := toTime(req.Timestamp)
	ident := req.Ident

	secretName := ""
	if ident != nil {
		secretName = ident.SecretName
	}
	payload := authz.CanonicalWeightPayload(secretName, req.UserKeyId, req.Weight)

	handle, err := s.auth.Authenticate(identOf(ident), payload)
	if err != nil {
		s.append(store.RequestWeight, store.ResultFailure, ts, ident)
		return nil, status.Error(ferr.Code(err), err.Error())
	}

	user, err := s.store.GetUserByKeyID(req.UserKeyId)
	if err != nil {
		opErr := ferr.New(ferr.KindUnknownUser, err)
		s.append(store.RequestWeight, store.ResultFailure, ts, ident)
		return nil, status.Error(ferr.Code(opErr), opErr.Error())
	}

	if err := s.store.UpsertWeight(user.ID, handle.Secret.ID, req.Weight); err != nil {
		opErr := ferr.New(ferr.KindStoreFailure, err)
		s.append(store.RequestWeight, store.ResultFailure, ts, ident)
		return nil, status.Error(ferr.Code(opErr), opErr.Error())
	}

	s.append(store.RequestWeight, store.ResultSuccess, ts, ident)
	return &feropb.Empty{}, nil
}

// GetLogs projects stored Fero log entries (with their HSM mirror) into
// wire form. No authentication is required: audit log disclosure is public
// (spec §4.5).
func (s *Server) GetLogs(ctx context.Context, req *feropb.LogRequest) (*feropb.LogResponse, error) {
	minID := uint64(0)
	if req.MinIndex > 0 {
		minID = uint64(req.MinIndex)
	}

	entries, err := s.store.FeroLogsSince(minID)
	if err != nil {
		opErr := ferr.New(ferr.KindStoreFailure, err)
		return nil, status.Error(ferr.Code(opErr), opErr.Error())
	}

	out := make([]*feropb.LogEntry, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		hsmLogs, err := s.store.AssociatedHSMLogs(e)
		if err != nil {
			opErr := ferr.New(ferr.KindStoreFailure, err)
			return nil, status.Error(ferr.Code(opErr), opErr.Error())
		}

		wireLogs := make([]*feropb.HsmLog, len(hsmLogs))
		for j, h := range hsmLogs {
			wireLogs[j] = &feropb.HsmLog{
				HsmIndex:   uint32(h.HSMIndex),
				Command:    uint32(h.Command),
				DataLength: uint32(h.DataLength),
				SessionKey: uint32(h.SessionKey),
				TargetKey:  uint32(h.TargetKey),
				SecondKey:  uint32(h.SecondKey),
				Result:     uint32(h.Result),
				Systick:    h.SysTick,
				Hash:       h.Hash,
			}
		}

		var ident *feropb.Identification
		if len(e.Identification) > 0 {
			if parsed, err := feropb.UnmarshalIdentification(e.Identification); err == nil {
				ident = parsed
			} else if s.lg != nil {
				s.lg.Warnf("failed to parse stored identification for log entry %d: %v", e.ID, err)
			}
		}

		out = append(out, &feropb.LogEntry{
			Id:            e.ID,
			OperationType: feropb.RequestType(e.RequestType),
			Timestamp:     &feropb.Timestamp{Seconds: e.TimestampUnixSec, Nanos: int32(e.TimestampUnixNano)},
			Result:        feropb.Result(e.Result),
			Ident:         ident,
			HsmLogs:       wireLogs,
			Hash:          e.Hash,
		})
	}

	return &feropb.LogResponse{Logs: out}, nil
}

// wrapHSMErr normalizes a raw HSM-adapter error (which does not itself
// carry a ferr.Kind) into the taxonomy's HsmReturnCode bucket.
func wrapHSMErr(err error) error {
	if fe, ok := err.(*ferr.Error); ok {
		return fe
	}
	return ferr.New(ferr.KindHSMReturnCode, err)
}
