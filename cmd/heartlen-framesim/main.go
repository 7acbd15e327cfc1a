package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"heartlen/common/config"
	logpkg "heartlen/common/logger"
	mqttclient "heartlen/common/mqtt"
	"heartlen/internal/capture"

	"go.uber.org/zap"
)

func main() {
	var (
		broker    = flag.String("broker", "tcp://127.0.0.1:1883", "MQTT broker url")
		topic     = flag.String("topic", "heartlen/camera/frames", "frame topic")
		clientID  = flag.String("client-id", "heartlen-framesim", "MQTT client id")
		qos       = flag.Int("qos", 0, "MQTT qos")
		fps       = flag.Float64("fps", 30, "frames per second")
		hr        = flag.Float64("hr", 72, "heart rate bpm")
		noise     = flag.Float64("noise", 0.02, "pulse noise amplitude")
		amplitude = flag.Float64("amplitude", 6, "pixel modulation amplitude")
		width     = flag.Int("width", 64, "frame width")
		height    = flag.Int("height", 64, "frame height")
		logLevel  = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	if *fps <= 0 {
		log.Fatalf("fps must be positive, got %v", *fps)
	}

	logger, err := logpkg.NewLogger(*logLevel, "console", "heartlen-framesim")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	mqttCfg := config.MQTTConfig{
		Enabled:        true,
		Broker:         *broker,
		ClientID:       *clientID,
		QoS:            byte(*qos),
		ConnectTimeout: 10 * time.Second,
	}
	client, err := mqttclient.NewClient(&mqttCfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	defer client.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	wave := capture.NewPulseWave(*fps, *hr, *noise)
	ticker := time.NewTicker(time.Duration(float64(time.Second) / *fps))
	defer ticker.Stop()

	logger.Info("Publishing synthetic frames",
		zap.String("topic", *topic),
		zap.Float64("fps", *fps),
		zap.Float64("heart_rate", *hr),
	)

	var seq, failed uint64
	for {
		select {
		case <-ctx.Done():
			logger.Info("Frame simulator stopping",
				zap.Uint64("frames", seq),
				zap.Uint64("failed", failed),
			)
			return

		case now := <-ticker.C:
			frame := capture.RenderSkinFrame(*width, *height, wave.Next(), *amplitude)
			frame.Seq = seq
			frame.Timestamp = now
			frame.SourceID = *clientID
			seq++

			payload, err := capture.EncodeFrame(frame)
			if err != nil {
				logger.Error("Failed to encode frame", zap.Error(err))
				continue
			}
			if err := client.Publish(*topic, byte(*qos), false, payload); err != nil {
				failed++
				logger.Warn("Failed to publish frame", zap.Uint64("seq", frame.Seq), zap.Error(err))
			}
		}
	}
}
