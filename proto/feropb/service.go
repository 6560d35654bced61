// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package feropb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FeroServer is the service interface both the Signing Service and the
// Bastion implement (spec §6's four unary RPCs).
type FeroServer interface {
	Sign(context.Context, *SignRequest) (*SignResponse, error)
	SetThreshold(context.Context, *ThresholdRequest) (*Empty, error)
	SetWeight(context.Context, *WeightRequest) (*Empty, error)
	GetLogs(context.Context, *LogRequest) (*LogResponse, error)
}

// UnimplementedFeroServer can be embedded in a server implementation to
// satisfy FeroServer for RPCs it does not override, mirroring the
// forward-compatibility pattern protoc-gen-go-grpc emits.
type UnimplementedFeroServer struct{}

func (UnimplementedFeroServer) Sign(context.Context, *SignRequest) (*SignResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Sign not implemented")
}
func (UnimplementedFeroServer) SetThreshold(context.Context, *ThresholdRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method SetThreshold not implemented")
}
func (UnimplementedFeroServer) SetWeight(context.Context, *WeightRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method SetWeight not implemented")
}
func (UnimplementedFeroServer) GetLogs(context.Context, *LogRequest) (*LogResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLogs not implemented")
}

// FeroClient is the client-side counterpart of FeroServer.
type FeroClient interface {
	Sign(ctx context.Context, in *SignRequest, opts ...grpc.CallOption) (*SignResponse, error)
	SetThreshold(ctx context.Context, in *ThresholdRequest, opts ...grpc.CallOption) (*Empty, error)
	SetWeight(ctx context.Context, in *WeightRequest, opts ...grpc.CallOption) (*Empty, error)
	GetLogs(ctx context.Context, in *LogRequest, opts ...grpc.CallOption) (*LogResponse, error)
}

type feroClient struct {
	cc grpc.ClientConnInterface
}

// NewFeroClient wraps cc with the Fero service's client methods.
func NewFeroClient(cc grpc.ClientConnInterface) FeroClient {
	return &feroClient{cc}
}

func (c *feroClient) Sign(ctx context.Context, in *SignRequest, opts ...grpc.CallOption) (*SignResponse, error) {
	out := new(SignResponse)
	if err := c.cc.Invoke(ctx, "/fero.Fero/Sign", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *feroClient) SetThreshold(ctx context.Context, in *ThresholdRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/fero.Fero/SetThreshold", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *feroClient) SetWeight(ctx context.Context, in *WeightRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/fero.Fero/SetWeight", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *feroClient) GetLogs(ctx context.Context, in *LogRequest, opts ...grpc.CallOption) (*LogResponse, error) {
	out := new(LogResponse)
	if err := c.cc.Invoke(ctx, "/fero.Fero/GetLogs", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Fero_Sign_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SignRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FeroServer).Sign(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fero.Fero/Sign"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FeroServer).Sign(ctx, req.(*SignRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Fero_SetThreshold_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ThresholdRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FeroServer).SetThreshold(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fero.Fero/SetThreshold"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FeroServer).SetThreshold(ctx, req.(*ThresholdRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Fero_SetWeight_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(WeightRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FeroServer).SetWeight(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fero.Fero/SetWeight"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FeroServer).SetWeight(ctx, req.(*WeightRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Fero_GetLogs_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LogRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FeroServer).GetLogs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fero.Fero/GetLogs"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FeroServer).GetLogs(ctx, req.(*LogRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Fero_ServiceDesc is the grpc.ServiceDesc for the Fero service, the shape
// protoc-gen-go-grpc emits for RegisterXServer to consume.
var Fero_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "fero.Fero",
	HandlerType: (*FeroServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Sign", Handler: _Fero_Sign_Handler},
		{MethodName: "SetThreshold", Handler: _Fero_SetThreshold_Handler},
		{MethodName: "SetWeight", Handler: _Fero_SetWeight_Handler},
		{MethodName: "GetLogs", Handler: _Fero_GetLogs_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fero.proto",
}

// RegisterFeroServer registers srv with s under the Fero service name.
func RegisterFeroServer(s grpc.ServiceRegistrar, srv FeroServer) {
	s.RegisterService(&Fero_ServiceDesc, srv)
}
