package client

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ClosingServiceName is the fully qualified gRPC service name. Messages are
// google.protobuf.Struct on both sides so peers need no generated stubs.
const ClosingServiceName = "closing.v1.ClosingService"

// ClosingClient calls the closing service over gRPC.
type ClosingClient struct {
	cc grpc.ClientConnInterface
}

// NewClosingClient wraps an established connection. Dial it with
// ForwardUserID so the acting user travels with every call.
func NewClosingClient(cc grpc.ClientConnInterface) *ClosingClient {
	return &ClosingClient{cc: cc}
}

// Call invokes method with in encoded as a Struct and decodes the reply
// into out. out may be nil.
func (c *ClosingClient) Call(ctx context.Context, method string, in, out interface{}) error {
	req, err := ToStruct(in)
	if err != nil {
		return err
	}
	reply := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ClosingServiceName+"/"+method, req, reply); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return FromStruct(reply, out)
}

// ToStruct converts any JSON-encodable value to a Struct.
func ToStruct(v interface{}) (*structpb.Struct, error) {
	if s, ok := v.(*structpb.Struct); ok {
		return s, nil
	}
	if v == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("message must encode to a JSON object: %w", err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into out through its JSON form.
func FromStruct(s *structpb.Struct, out interface{}) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}
