// Package rpc is the worker-facing gRPC transport the active memory
// manager dispatches AcquireReplicas/RemoveReplicas over at the end of a
// tick. The pack carries no generated protobuf stubs for this service, so
// messages are plain JSON-tagged structs carried by a hand-registered gRPC
// codec instead of protoc-gen-go output (see DESIGN.md's "Open
// implementation decision").
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "json"

// jsonCodec implements encoding.Codec so grpc.ClientConn/grpc.Server can
// marshal request/response structs without a protobuf code generator.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
