package streamingv1

import (
	"context"

	"google.golang.org/grpc"
)

// Full method names, matching the shape protoc-gen-go-grpc bakes into
// generated clients.
const (
	AudioStreamingGetAudioMetaFullMethodName = "/streaming.v1.AudioStreaming/GetAudioMeta"
	AudioStreamingGetAudioDataFullMethodName = "/streaming.v1.AudioStreaming/GetAudioData"
	AudioStreamingGetAudioTagsFullMethodName = "/streaming.v1.AudioStreaming/GetAudioTags"
)

// AudioStreamingClient is the client API for the server's audio RPCs (spec §6).
// All three operations are unary; PCM delivery is chunked by the caller
// issuing successive GetAudioData range requests, not by a server stream.
type AudioStreamingClient interface {
	GetAudioMeta(ctx context.Context, in *AudioMetaRequest, opts ...grpc.CallOption) (*AudioMetaResponse, error)
	GetAudioData(ctx context.Context, in *AudioDataRequest, opts ...grpc.CallOption) (*AudioDataResponse, error)
	GetAudioTags(ctx context.Context, in *AudioTagsRequest, opts ...grpc.CallOption) (*AudioTagsResponse, error)
}

type audioStreamingClient struct {
	cc grpc.ClientConnInterface
}

// NewAudioStreamingClient wraps an established *grpc.ClientConn (or anything
// satisfying grpc.ClientConnInterface, e.g. in tests) as an AudioStreamingClient.
func NewAudioStreamingClient(cc grpc.ClientConnInterface) AudioStreamingClient {
	return &audioStreamingClient{cc: cc}
}

func (c *audioStreamingClient) GetAudioMeta(ctx context.Context, in *AudioMetaRequest, opts ...grpc.CallOption) (*AudioMetaResponse, error) {
	out := new(AudioMetaResponse)
	if err := c.cc.Invoke(ctx, AudioStreamingGetAudioMetaFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *audioStreamingClient) GetAudioData(ctx context.Context, in *AudioDataRequest, opts ...grpc.CallOption) (*AudioDataResponse, error) {
	out := new(AudioDataResponse)
	if err := c.cc.Invoke(ctx, AudioStreamingGetAudioDataFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *audioStreamingClient) GetAudioTags(ctx context.Context, in *AudioTagsRequest, opts ...grpc.CallOption) (*AudioTagsResponse, error) {
	out := new(AudioTagsResponse)
	if err := c.cc.Invoke(ctx, AudioStreamingGetAudioTagsFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DefaultCallOptions forces the wire codec in codec.go on every call made through
// a client built with NewAudioStreamingClient over a real *grpc.ClientConn.
func DefaultCallOptions() []grpc.CallOption {
	return []grpc.CallOption{grpc.ForceCodec(wireCodec{})}
}
