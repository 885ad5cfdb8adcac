package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"

	"github.com/drgolem/streamplayer/pkg/audiosource"
	"github.com/drgolem/streamplayer/pkg/outputdevice"
	"github.com/drgolem/streamplayer/pkg/playback"
	"github.com/drgolem/streamplayer/pkg/resampler"
	"github.com/drgolem/streamplayer/pkg/rpcclient"
	"github.com/drgolem/streamplayer/pkg/samplering"
)

var (
	streamServer     string
	streamCAFile     string
	streamDeviceIdx  int
	streamFrames     int
	streamInputBlock int
	streamHostRate   int
	streamChannels   int
	streamVerbose    bool
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream <track-id>",
	Short: "Play a track fetched from a streamplayer server",
	Long: `Stream and play a track from a remote streamplayer server over gRPC.

The server exposes metadata and PCM range RPCs; this command fetches,
resamples, and plays one track end-to-end, printing a live status line until
the track finishes or Ctrl-C is pressed.

Examples:
  streamplayer stream track-42 --server localhost:50051
  streamplayer stream track-42 --server streaming.example.com:443 --ca-file ca.pem`,
	Args: cobra.ExactArgs(1),
	Run:  runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)

	streamCmd.Flags().StringVar(&streamServer, "server", "localhost:50051", "Streaming server endpoint (host:port)")
	streamCmd.Flags().StringVar(&streamCAFile, "ca-file", "", "Optional PEM trust root for TLS (plaintext if empty)")
	streamCmd.Flags().IntVarP(&streamDeviceIdx, "device", "d", 1, "Audio output device index")
	streamCmd.Flags().IntVarP(&streamFrames, "frames", "f", 512, "PortAudio frames per buffer")
	streamCmd.Flags().IntVar(&streamInputBlock, "input-block", 1024, "Resampler input block size (source-rate frames per channel)")
	streamCmd.Flags().IntVar(&streamHostRate, "host-rate", 48000, "Host output sample rate")
	streamCmd.Flags().IntVar(&streamChannels, "channels", 2, "Host output channel count")
	streamCmd.Flags().BoolVarP(&streamVerbose, "verbose", "v", false, "Verbose output (debug logging)")
}

func runStream(cmd *cobra.Command, args []string) {
	trackID := args[0]

	logLevel := slog.LevelInfo
	if streamVerbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		slog.Error("Failed to initialize PortAudio", "error", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	client, err := rpcclient.Dial(rpcclient.ServerState{Endpoint: streamServer, CAFile: streamCAFile})
	if err != nil {
		slog.Error("Failed to dial server", "server", streamServer, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	host := audiosource.HostFormat{SampleRate: uint32(streamHostRate), Channels: uint32(streamChannels)}

	deviceFactory := func(deviceIndex, channels, sampleRate, framesPerBuffer int, ring *samplering.Ring) (playback.Device, error) {
		return outputdevice.Open(deviceIndex, channels, sampleRate, framesPerBuffer, ring)
	}
	resamplerFactory := func(sourceRate, hostRate, channels, kIn int) (playback.Resampler, error) {
		return resampler.New(sourceRate, hostRate, channels, kIn)
	}

	controller := playback.New(client, deviceFactory, resamplerFactory, playback.Config{
		Host:             host,
		DeviceIndex:      streamDeviceIdx,
		FramesPerBuffer:  streamFrames,
		InputBlockFrames: streamInputBlock,
	})

	ctx := context.Background()
	duration, err := controller.Add(ctx, trackID)
	if err != nil {
		slog.Error("Failed to load track", "track", trackID, "error", err)
		os.Exit(1)
	}
	slog.Info("Track loaded", "track", trackID, "duration_sec", duration)

	if err := controller.Play(); err != nil {
		slog.Error("Failed to start playback", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	statusCtx, cancelStatus := context.WithCancel(ctx)
	defer cancelStatus()
	statusCh := controller.Subscribe(statusCtx, 500*time.Millisecond)

	for {
		select {
		case status, ok := <-statusCh:
			if !ok {
				slog.Info("Playback finished")
				return
			}
			slog.Info("Playback status",
				"state", status.State,
				"position_sec", fmt.Sprintf("%.2f", status.PositionSec),
				"remain_buffer_sec", fmt.Sprintf("%.2f", status.RemainBufferSec))
			if status.State == playback.StatusStopped || status.State == playback.StatusError {
				return
			}
		case sig := <-sigChan:
			slog.Info("Signal received, stopping playback", "signal", sig)
			if err := controller.Stop(); err != nil {
				slog.Error("Failed to stop playback", "error", err)
			}
			return
		}
	}
}
