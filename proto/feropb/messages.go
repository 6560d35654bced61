// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package feropb holds Fero's RPC wire types and service interfaces. There
// is no protoc step in this tree (the teacher's own generated stubs come
// from a Bazel rule outside this retrieval pack); these messages are
// hand-written in the same shape protoc-gen-go emits — plain structs
// carrying `protobuf:"..."` field tags plus the legacy Reset/String/
// ProtoMessage trio — which the protobuf-go runtime recognizes and wraps
// for reflection-based Marshal/Unmarshal, exactly as it does for stubs
// generated before the API v2 rewrite.
package feropb

import "fmt"

// SigType selects Sign's output encoding.
type SigType int32

const (
	SigType_PGP       SigType = 0
	SigType_PKCS1V1_5 SigType = 1
)

// RequestType mirrors store.RequestType on the wire.
type RequestType int32

const (
	RequestType_SIGN       RequestType = 0
	RequestType_THRESHOLD  RequestType = 1
	RequestType_WEIGHT     RequestType = 2
	RequestType_ADD_SECRET RequestType = 3
	RequestType_ADD_USER   RequestType = 4
)

// Result mirrors store.Result on the wire.
type Result int32

const (
	Result_SUCCESS Result = 0
	Result_FAILURE Result = 1
)

// Identification is the caller's claim of secret and signers. This is the
// message type whose deterministic-marshaled bytes are persisted in
// FeroLogEntry.identification (spec §6) — the same library (this package's
// Marshal/Unmarshal) must be used on both the write and read path.
type Identification struct {
	SecretName string   `protobuf:"bytes,1,opt,name=secret_name,json=secretName,proto3" json:"secret_name,omitempty"`
	Signatures [][]byte `protobuf:"bytes,2,rep,name=signatures,proto3" json:"signatures,omitempty"`
}

func (m *Identification) Reset()         { *m = Identification{} }
func (m *Identification) String() string { return fmt.Sprintf("%+v", *m) }
func (*Identification) ProtoMessage()    {}

// Timestamp is Fero's own wire timestamp (seconds + nanoseconds, UTC),
// avoiding a dependency on the well-known-types package for a two-field
// message no pack repo otherwise needs.
type Timestamp struct {
	Seconds int64 `protobuf:"varint,1,opt,name=seconds,proto3" json:"seconds,omitempty"`
	Nanos   int32 `protobuf:"varint,2,opt,name=nanos,proto3" json:"nanos,omitempty"`
}

func (m *Timestamp) Reset()         { *m = Timestamp{} }
func (m *Timestamp) String() string { return fmt.Sprintf("%+v", *m) }
func (*Timestamp) ProtoMessage()    {}

// SignRequest is the Sign RPC's request message.
type SignRequest struct {
	Ident     *Identification `protobuf:"bytes,1,opt,name=ident,proto3" json:"ident,omitempty"`
	Payload   []byte          `protobuf:"bytes,2,opt,name=payload,proto3" json:"payload,omitempty"`
	SigType   SigType         `protobuf:"varint,3,opt,name=sig_type,json=sigType,proto3,enum=fero.SigType" json:"sig_type,omitempty"`
	Timestamp *Timestamp      `protobuf:"bytes,4,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
}

func (m *SignRequest) Reset()         { *m = SignRequest{} }
func (m *SignRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*SignRequest) ProtoMessage()    {}

// SignResponse is the Sign RPC's response message.
type SignResponse struct {
	Payload []byte `protobuf:"bytes,1,opt,name=payload,proto3" json:"payload,omitempty"`
}

func (m *SignResponse) Reset()         { *m = SignResponse{} }
func (m *SignResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*SignResponse) ProtoMessage()    {}

// ThresholdRequest is the SetThreshold RPC's request message.
type ThresholdRequest struct {
	Ident     *Identification `protobuf:"bytes,1,opt,name=ident,proto3" json:"ident,omitempty"`
	Threshold int32           `protobuf:"varint,2,opt,name=threshold,proto3" json:"threshold,omitempty"`
	Timestamp *Timestamp      `protobuf:"bytes,3,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
}

func (m *ThresholdRequest) Reset()         { *m = ThresholdRequest{} }
func (m *ThresholdRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*ThresholdRequest) ProtoMessage()    {}

// WeightRequest is the SetWeight RPC's request message.
type WeightRequest struct {
	Ident     *Identification `protobuf:"bytes,1,opt,name=ident,proto3" json:"ident,omitempty"`
	UserKeyId uint64          `protobuf:"varint,2,opt,name=user_key_id,json=userKeyId,proto3" json:"user_key_id,omitempty"`
	Weight    int32           `protobuf:"varint,3,opt,name=weight,proto3" json:"weight,omitempty"`
	Timestamp *Timestamp      `protobuf:"bytes,4,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
}

func (m *WeightRequest) Reset()         { *m = WeightRequest{} }
func (m *WeightRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*WeightRequest) ProtoMessage()    {}

// Empty is the shared empty response for SetThreshold/SetWeight.
type Empty struct{}

func (m *Empty) Reset()         { *m = Empty{} }
func (m *Empty) String() string { return "{}" }
func (*Empty) ProtoMessage()    {}

// LogRequest is the GetLogs RPC's request message.
type LogRequest struct {
	MinIndex int64 `protobuf:"varint,1,opt,name=min_index,json=minIndex,proto3" json:"min_index,omitempty"`
}

func (m *LogRequest) Reset()         { *m = LogRequest{} }
func (m *LogRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*LogRequest) ProtoMessage()    {}

// HsmLog is the wire projection of store.HsmLogEntry.
type HsmLog struct {
	HsmIndex   uint32 `protobuf:"varint,1,opt,name=hsm_index,json=hsmIndex,proto3" json:"hsm_index,omitempty"`
	Command    uint32 `protobuf:"varint,2,opt,name=command,proto3" json:"command,omitempty"`
	DataLength uint32 `protobuf:"varint,3,opt,name=data_length,json=dataLength,proto3" json:"data_length,omitempty"`
	SessionKey uint32 `protobuf:"varint,4,opt,name=session_key,json=sessionKey,proto3" json:"session_key,omitempty"`
	TargetKey  uint32 `protobuf:"varint,5,opt,name=target_key,json=targetKey,proto3" json:"target_key,omitempty"`
	SecondKey  uint32 `protobuf:"varint,6,opt,name=second_key,json=secondKey,proto3" json:"second_key,omitempty"`
	Result     uint32 `protobuf:"varint,7,opt,name=result,proto3" json:"result,omitempty"`
	Systick    uint32 `protobuf:"varint,8,opt,name=systick,proto3" json:"systick,omitempty"`
	Hash       []byte `protobuf:"bytes,9,opt,name=hash,proto3" json:"hash,omitempty"`
}

func (m *HsmLog) Reset()         { *m = HsmLog{} }
func (m *HsmLog) String() string { return fmt.Sprintf("%+v", *m) }
func (*HsmLog) ProtoMessage()    {}

// LogEntry is the wire projection of store.FeroLogEntry, with its HSM
// mirror embedded and its identification optionally parsed back out.
type LogEntry struct {
	Id            uint64          `protobuf:"varint,1,opt,name=id,proto3" json:"id,omitempty"`
	OperationType RequestType     `protobuf:"varint,2,opt,name=operation_type,json=operationType,proto3,enum=fero.RequestType" json:"operation_type,omitempty"`
	Timestamp     *Timestamp      `protobuf:"bytes,3,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
	Result        Result          `protobuf:"varint,4,opt,name=result,proto3,enum=fero.Result" json:"result,omitempty"`
	Ident         *Identification `protobuf:"bytes,5,opt,name=ident,proto3" json:"ident,omitempty"`
	HsmLogs       []*HsmLog       `protobuf:"bytes,6,rep,name=hsm_logs,json=hsmLogs,proto3" json:"hsm_logs,omitempty"`
	Hash          []byte          `protobuf:"bytes,7,opt,name=hash,proto3" json:"hash,omitempty"`
}

func (m *LogEntry) Reset()         { *m = LogEntry{} }
func (m *LogEntry) String() string { return fmt.Sprintf("%+v", *m) }
func (*LogEntry) ProtoMessage()    {}

// LogResponse is the GetLogs RPC's response message.
type LogResponse struct {
	Logs []*LogEntry `protobuf:"bytes,1,rep,name=logs,proto3" json:"logs,omitempty"`
}

func (m *LogResponse) Reset()         { *m = LogResponse{} }
func (m *LogResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*LogResponse) ProtoMessage()    {}
