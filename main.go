package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatkit/assistant"
	"chatkit/capture"
	"chatkit/chat"
	"chatkit/config"
	"chatkit/core"
	"chatkit/metrics"
	"chatkit/pipeline"
	"chatkit/playback"
)

func main() {
	var configPath string
	var metricsAddr string
	flag.StringVar(&configPath, "config", "", "Path to config.yaml (defaults apply when empty)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (e.g. :9090)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(".env.local"); err != nil {
		core.GetLogger().With(map[string]any{"error": err}).Warn("No .env.local file found or failed to load")
	}

	cfg := loadConfig(configPath)

	if cfg.Logging.Format == "json" {
		logger, err := core.NewProductionLogger()
		if err != nil {
			core.GetLogger().With(map[string]any{"error": err}).Error("failed to build production logger")
		} else {
			core.SetLogger(*logger)
		}
	}
	logger := core.GetLogger()
	defer logger.Sync()

	mtr := metrics.New()
	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.With(map[string]any{"error": err}).Error("metrics server stopped")
			}
		}()
	}

	client, err := buildAssistant(ctx, cfg, logger)
	if err != nil {
		logger.With(map[string]any{"error": err}).Fatal("failed to build assistant client")
	}

	store := chat.NewStore(logger)
	recorder := capture.NewRecorder(&capture.MemorySource{
		ChunkData: demoChunks(),
		Enc:       chunkEncoding(cfg.Audio.Encoding),
		Rate:      cfg.Audio.SampleRate,
	}, logger)
	coordinator := playback.NewCoordinator(consolePlayer{logger: logger}, logger)

	pipe := pipeline.New(store, client, recorder, coordinator, pipeline.DefaultConfig(), logger)
	pipe.Metrics = mtr
	pipe.Sink = consoleSink{}

	runREPL(ctx, pipe, store, cfg.Chat.DefaultLanguage)
	logger.Info("Shutting down...")
}

// loadConfig loads the YAML config or falls back to defaults.
func loadConfig(path string) *config.Config {
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		core.GetLogger().With(map[string]any{"path": path, "error": err}).Warn("failed to load config, using defaults")
		return config.Default()
	}
	return cfg
}

// buildAssistant constructs the configured assistant transport.
func buildAssistant(ctx context.Context, cfg *config.Config, logger *core.Logger) (assistant.Client, error) {
	switch cfg.Assistant.Transport {
	case "http":
		return assistant.NewHTTPClient(cfg.Assistant.Endpoint, cfg.Assistant.Timeout(), logger), nil
	case "websocket":
		client := assistant.NewWSClient(assistant.WSConfig{
			ConnectURL:     cfg.Assistant.Endpoint,
			RequestTimeout: cfg.Assistant.Timeout(),
			Logger:         logger,
		})
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	case "openai":
		return assistant.NewOpenAIClient(assistant.OpenAIConfig{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  cfg.Assistant.OpenAIModel,
			Voice:  cfg.Assistant.OpenAIVoice,
			Speak:  true,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown assistant transport %q", cfg.Assistant.Transport)
	}
}

// runREPL drives the core from stdin, standing in for the presentation layer.
func runREPL(ctx context.Context, pipe *pipeline.Pipeline, store *chat.Store, language string) {
	fmt.Println("Commands: /new, /list, /select <id>, /rename <title>, /delete, /lang <code>, /mic, anything else is a text turn.")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/new":
			sess := store.CreateSession()
			fmt.Printf("created session %s\n", sess.ID)
		case line == "/list":
			for _, s := range store.Sessions() {
				marker := " "
				if s.ID == store.ActiveID() {
					marker = "*"
				}
				fmt.Printf("%s %s  %s (%d messages)\n", marker, s.ID, s.Title, len(s.Messages))
			}
		case strings.HasPrefix(line, "/select "):
			store.SelectSession(strings.TrimSpace(strings.TrimPrefix(line, "/select ")))
		case strings.HasPrefix(line, "/rename "):
			store.RenameSession(store.ActiveID(), strings.TrimPrefix(line, "/rename "))
		case line == "/delete":
			store.DeleteSession(store.ActiveID())
		case strings.HasPrefix(line, "/lang "):
			language = config.NormalizeLanguage(strings.TrimSpace(strings.TrimPrefix(line, "/lang ")))
			fmt.Printf("language set to %s (%s)\n", language, config.SupportedLanguages[language])
		case line == "/mic":
			if pipe.Recording() {
				if err := pipe.SendAudio(ctx, language); err != nil {
					fmt.Printf("voice turn failed: %v\n", err)
				}
			} else {
				if err := pipe.StartRecording(ctx); err != nil {
					fmt.Printf("recording failed: %v\n", err)
				} else {
					fmt.Println("recording... /mic again to stop and send")
				}
			}
		case line == "":
		default:
			if err := pipe.SendText(ctx, line, language); err != nil {
				fmt.Printf("text turn failed: %v\n", err)
			}
		}
	}
}

// chunkEncoding maps the config encoding name to the capture encoding.
func chunkEncoding(name string) core.AudioEncoding {
	switch name {
	case "ulaw":
		return core.ULaw
	case "alaw":
		return core.ALaw
	default:
		return core.PCM16
	}
}

// demoChunks returns a short burst of silence so the demo recorder has
// something to package.
func demoChunks() [][]byte {
	chunk := make([]byte, 640) // 20ms of 16kHz PCM16 silence
	return [][]byte{chunk, chunk, chunk}
}

// consoleSink prints appended messages, standing in for the chat window.
type consoleSink struct{}

func (consoleSink) MessageAppended(sessionID string, msg chat.Message) {
	fmt.Printf("[%s] %s\n", msg.Sender, msg.Text)
}

func (consoleSink) PipelineError(sessionID string, err error) {
	fmt.Printf("[error] %v\n", err)
}

// consolePlayer logs playback instead of driving a real output device.
type consolePlayer struct {
	logger *core.Logger
}

func (p consolePlayer) Play(data []byte, mime string) (playback.Handle, error) {
	p.logger.With(map[string]any{"bytes": len(data), "mime": mime}).Info("playing clip")
	return consoleHandle{}, nil
}

type consoleHandle struct{}

func (consoleHandle) Stop() {}
