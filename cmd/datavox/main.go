// Command datavox runs a conversation against the realtime API with
// the SQL, chart, search and image tools registered. The default mode
// sends a text prompt and prints the transcript; -voice runs a duplex
// audio session with raw pcm16 on stdin/stdout.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/datavox/datavox"
	"github.com/datavox/datavox/audio"
	"github.com/datavox/datavox/conversation"
	"github.com/datavox/datavox/tools/charttool"
	"github.com/datavox/datavox/tools/imagetool"
	"github.com/datavox/datavox/tools/searchtool"
	"github.com/datavox/datavox/tools/sqltool"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	voice := flag.Bool("voice", false, "run a voice session with raw pcm16 mono audio on stdin/stdout")
	floatInput := flag.Bool("float32-input", false, "treat stdin as little-endian float32 samples")
	userRate := flag.Int("rate", 24_000, "sample rate of stdin/stdout audio")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	client, err := datavox.New(
		datavox.WithLogger(logger),
		datavox.WithInstructions("You are a helpful data assistant. Use the available tools to answer questions about the data."),
		datavox.WithConversationLog("output/conversation_log.jsonl"),
		datavox.WithUserSampleRate(*userRate),
	)
	if err != nil {
		return err
	}

	if err := registerTools(client, logger); err != nil {
		return err
	}

	client.On("conversation.updated", func(e datavox.Event) {
		if e.Delta != nil && e.Delta.Transcript != "" {
			fmt.Print(e.Delta.Transcript)
		}
	})

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	if err := client.WaitForSessionCreated(connectCtx); err != nil {
		return err
	}

	if *voice {
		return runVoice(ctx, client, *floatInput)
	}

	prompt := strings.Join(flag.Args(), " ")
	if prompt == "" {
		prompt = "Hello! What can you do?"
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := client.SendUserContent(datavox.TextContent(prompt)); err != nil {
			return err
		}
		for {
			item, err := client.WaitForNextCompletedItem(ctx)
			if err != nil {
				return err
			}
			if item.Type == conversation.TypeMessage && item.Role == conversation.RoleAssistant {
				fmt.Println()
				return nil
			}
		}
	})
	return g.Wait()
}

// runVoice bridges stdin/stdout to the session's audio endpoints.
// Server-side turn detection drives the conversation; the session runs
// until stdin closes or the context ends.
func runVoice(ctx context.Context, client *datavox.Client, floatInput bool) error {
	playback, microphone := client.Audio()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if floatInput {
			return copyFloat32(microphone, os.Stdin)
		}
		_, err := io.Copy(microphone, os.Stdin)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(os.Stdout, playback)
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	return g.Wait()
}

// copyFloat32 converts a little-endian float32 sample stream, as
// captured by browser audio APIs, to pcm16 while copying.
func copyFloat32(dst io.Writer, src io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, err := io.ReadFull(src, buf)
		if n >= 4 {
			samples := make([]float32, n/4)
			for i := range samples {
				samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
			}
			if _, werr := dst.Write(audio.Float32ToPCM16(samples)); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
	}
}

func registerTools(client *datavox.Client, logger *slog.Logger) error {
	if dsn := os.Getenv("DATAVOX_DB"); dsn != "" {
		db, err := sqltool.Open(dsn, logger)
		if err != nil {
			return err
		}
		if err := client.AddTool(sqltool.Definition, db.Handler()); err != nil {
			return err
		}
	}

	charts, err := charttool.New("static/graphs", logger)
	if err != nil {
		return err
	}
	if err := client.AddTool(charttool.Definition, charts.Handler()); err != nil {
		return err
	}

	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		search, err := searchtool.New(key, searchtool.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := client.AddTool(searchtool.Definition, search.Handler()); err != nil {
			return err
		}
	}

	if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
		images, err := imagetool.New(key, "static/images", imagetool.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := client.AddTool(imagetool.Definition, images.Handler()); err != nil {
			return err
		}
	}

	return nil
}
