// Command streamgate is a terminal client for the relay. It opens one
// multiplexed socket connection, runs a chat or completion stream, and prints
// deltas as they arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/streamgate/streamgate/internal/client"
	"github.com/streamgate/streamgate/internal/config"
	"github.com/streamgate/streamgate/internal/protocol"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	var (
		url         = flag.String("url", "", "relay stream URL (default derived from listen_addr)")
		model       = flag.String("model", "", "model name for routing")
		prompt      = flag.String("prompt", "", "completion prompt")
		message     = flag.String("message", "", "chat message (uses the chat operation)")
		cancelAfter = flag.Duration("cancel-after", 0, "cancel the stream after this duration")
		timeout     = flag.Duration("timeout", 2*time.Minute, "overall request timeout")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[streamgate] ", log.LstdFlags|log.Lmicroseconds)

	target := strings.TrimSpace(*url)
	if target == "" {
		addr := cfg.ListenAddr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		target = "ws://" + addr + "/v1/stream"
	}
	if strings.TrimSpace(*prompt) == "" && strings.TrimSpace(*message) == "" {
		logger.Fatal("provide -prompt or -message")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, err := client.Dial(ctx, target)
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer c.Close()
	c.SetLogger(logger)
	logger.Printf("connected url=%s", target)

	var (
		id string
		ch <-chan protocol.Envelope
	)
	if strings.TrimSpace(*message) != "" {
		id, ch, err = c.StartChat(*model, []protocol.ChatMessage{{Role: "user", Content: *message}})
	} else {
		id, ch, err = c.StartCompletion(*model, *prompt)
	}
	if err != nil {
		logger.Fatalf("start stream: %v", err)
	}

	if *cancelAfter > 0 {
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(*cancelAfter):
				logger.Printf("cancelling stream id=%s", id)
				if err := c.Cancel(id); err != nil {
					logger.Printf("cancel failed: %v", err)
				}
			}
		}()
	}

	exitCode := 0
	for env := range ch {
		switch env.Kind {
		case protocol.KindStreamStart:
			logger.Printf("stream accepted id=%s", id)
		case protocol.KindChatChunk, protocol.KindCompletionChunk:
			var p protocol.ChunkPayload
			if err := protocol.DecodePayload(env, &p); err != nil {
				logger.Printf("bad chunk: %v", err)
				continue
			}
			fmt.Print(p.Delta)
		case protocol.KindStreamComplete:
			var p protocol.CompletePayload
			_ = protocol.DecodePayload(env, &p)
			fmt.Println()
			logger.Printf("stream complete chunks=%d duration_ms=%d", p.TotalChunks, p.DurationMs)
		case protocol.KindStreamCancelled:
			fmt.Println()
			logger.Printf("stream cancelled id=%s", id)
		case protocol.KindError:
			var p protocol.ErrorPayload
			_ = protocol.DecodePayload(env, &p)
			fmt.Println()
			logger.Printf("stream error code=%s provider=%s message=%s", p.Code, p.Provider, p.Message)
			exitCode = 1
		}
	}
	if err := c.Err(); err != nil && err != client.ErrClosed {
		logger.Printf("connection error: %v", err)
		exitCode = 1
	}
	os.Exit(exitCode)
}
