package streamingv1

import "encoding/json"

// wireCodec carries the plain structs in messages.go over gRPC without a
// protoc-generated proto.Message implementation. It is applied per-call via
// grpc.ForceCodec so it never touches the process-wide "proto" codec name.
type wireCodec struct{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (wireCodec) Name() string {
	return "streamplayer-wire-json"
}
