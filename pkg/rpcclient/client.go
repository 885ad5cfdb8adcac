// Package rpcclient is the C2 Fetch Client: unary gRPC calls against the
// server's audio RPCs (spec §4.1, §6), with the transient-vs-fatal retry
// policy from spec §7.
package rpcclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	streamingv1 "github.com/drgolem/streamplayer/internal/streamingpb"
	"github.com/drgolem/streamplayer/pkg/audiosource"
)

// defaultTimeout is the per-RPC deadline spec §5 asks for when none is set.
const defaultTimeout = 10 * time.Second

// backoffSchedule is the transient-retry policy from spec §7: after the
// first attempt, up to three retries preceded by waits of 100ms, 400ms and
// 1.6s (four attempts in all) before a transient failure escalates to fatal.
var backoffSchedule = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

// ServerState configures how the Fetch Client reaches the backend (spec §6:
// "server endpoint URL and optional TLS trust material").
type ServerState struct {
	Endpoint string        // host:port
	CAFile   string        // optional PEM trust root; empty means plaintext
	Timeout  time.Duration // per-RPC deadline; <=0 means defaultTimeout
}

// Client wraps a dialed connection to the audio server.
type Client struct {
	conn    *grpc.ClientConn
	rpc     streamingv1.AudioStreamingClient
	timeout time.Duration
}

// Dial establishes the connection described by state. No RPC is made yet;
// gRPC connects lazily on first call.
func Dial(state ServerState) (*Client, error) {
	creds, err := transportCredentials(state.CAFile)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(
		state.Endpoint,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(streamingv1.DefaultCallOptions()...),
	)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dialing %s: %w", state.Endpoint, err)
	}

	timeout := state.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		conn:    conn,
		rpc:     streamingv1.NewAudioStreamingClient(conn),
		timeout: timeout,
	}, nil
}

func transportCredentials(caFile string) (credentials.TransportCredentials, error) {
	if caFile == "" {
		return insecure.NewCredentials(), nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: reading CA file %s: %w", caFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("rpcclient: no certificates found in %s", caFile)
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// FetchError distinguishes transient (already retried and exhausted)
// failures from fatal ones, per spec §7.
type FetchError struct {
	Err       error
	Transient bool
}

func (e *FetchError) Error() string { return e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

func classify(err error) *FetchError {
	st, ok := status.FromError(err)
	if !ok {
		return &FetchError{Err: err, Transient: false}
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return &FetchError{Err: err, Transient: true}
	default:
		return &FetchError{Err: err, Transient: false}
	}
}

// GetMetadata fetches a track's server-reported metadata (C1/C2, spec §4.1).
func (c *Client) GetMetadata(ctx context.Context, id string) (audiosource.Source, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.callGetMeta(ctx, id)
		if err == nil {
			if resp.SampleRate == 0 || resp.Channels == 0 || resp.SampleFrames == 0 {
				return audiosource.Source{}, fmt.Errorf(
					"rpcclient: metadata for %q is impossible: sample_rate=%d channels=%d sample_frames=%d",
					id, resp.SampleRate, resp.Channels, resp.SampleFrames)
			}
			return audiosource.Source{
				ID: id,
				Metadata: audiosource.SourceMetadata{
					BitRate:      resp.BitRate,
					SampleRate:   resp.SampleRate,
					Channels:     resp.Channels,
					ContentBytes: resp.Size,
					SampleFrames: resp.SampleFrames,
				},
			}, nil
		}

		fe := classify(err)
		lastErr = fe
		if !fe.Transient || attempt >= len(backoffSchedule) {
			return audiosource.Source{}, fmt.Errorf("rpcclient: GetMetadata(%q): %w", id, lastErr)
		}
		if !sleepOrCancel(ctx, backoffSchedule[attempt]) {
			return audiosource.Source{}, ctx.Err()
		}
	}
}

func (c *Client) callGetMeta(ctx context.Context, id string) (*streamingv1.AudioMetaResponse, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.rpc.GetAudioMeta(ctxTimeout, &streamingv1.AudioMetaRequest{Id: id})
}

// GetPCMRange requests the half-open [startFrame, endFrame) source-rate PCM
// range (spec §4.1), clamping endFrame to sampleFrames per invariant I3.
func (c *Client) GetPCMRange(ctx context.Context, id string, startFrame, endFrame, sampleFrames uint64) ([]byte, error) {
	if endFrame > sampleFrames {
		endFrame = sampleFrames
	}
	if startFrame >= endFrame {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		ctxTimeout, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.rpc.GetAudioData(ctxTimeout, &streamingv1.AudioDataRequest{
			Id:         id,
			StartFrame: uint32(startFrame),
			EndFrame:   uint32(endFrame),
		})
		cancel()
		if err == nil {
			return resp.Content, nil
		}

		fe := classify(err)
		lastErr = fe
		if !fe.Transient || attempt >= len(backoffSchedule) {
			return nil, fmt.Errorf("rpcclient: GetPCMRange(%q,%d,%d): %w", id, startFrame, endFrame, lastErr)
		}
		if !sleepOrCancel(ctx, backoffSchedule[attempt]) {
			return nil, ctx.Err()
		}
	}
}

// GetAudioTags pages through the server's tag index (spec §6). This RPC is
// not on the core streaming path; the CLI's "tags" command stands in for
// the external UI layer that would normally consume it.
func (c *Client) GetAudioTags(ctx context.Context, itemsPerPage, page uint64) ([]*streamingv1.AudioTagRes, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.rpc.GetAudioTags(ctxTimeout, &streamingv1.AudioTagsRequest{
		ItemsPerPage: itemsPerPage,
		Page:         page,
	})
	if err != nil {
		return nil, fmt.Errorf("rpcclient: GetAudioTags(%d,%d): %w", itemsPerPage, page, classify(err))
	}
	return resp.Items, nil
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
