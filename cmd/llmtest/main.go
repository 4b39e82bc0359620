package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wolfman30/messenger-concierge/cmd/mainconfig"
	"github.com/wolfman30/messenger-concierge/internal/app/bootstrap"
	appconfig "github.com/wolfman30/messenger-concierge/internal/config"
	"github.com/wolfman30/messenger-concierge/internal/llm"
	"github.com/wolfman30/messenger-concierge/internal/reply"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

func main() {
	prompt := flag.String("prompt", "Hi, how much is a facial and can I come in this week?", "user message to send")
	system := flag.String("system", "You are a friendly clinic concierge. Keep responses brief and helpful.", "system prompt")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Parse()

	_ = appconfig.LoadDotEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aws config: %v\n", err)
		os.Exit(1)
	}
	client, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llm client: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("LLM provider test (%s", cfg.LLMProvider)
	if cfg.LLMFallbackProvider != "" {
		fmt.Printf(", fallback %s", cfg.LLMFallbackProvider)
	}
	fmt.Println(")")
	fmt.Println(strings.Repeat("=", 60))

	start := time.Now()
	resp, err := client.Complete(ctx, llm.Request{
		System:      []string{*system},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: *prompt}},
		MaxTokens:   300,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "completion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("latency: %s, tokens: %d in / %d out\n\n", time.Since(start).Round(time.Millisecond),
		resp.Usage.InputTokens, resp.Usage.OutputTokens)
	fmt.Println(resp.Text)

	bands, err := reply.ParseBands(cfg.PriceBands)
	if err != nil {
		fmt.Fprintf(os.Stderr, "price bands: %v\n", err)
		os.Exit(1)
	}
	decomposer := reply.NewDecomposer(cfg.FollowUpKeywords, reply.NewPriceCorrector(cfg.PriceCanonical, bands))
	d := decomposer.Decompose(resp.Text, nil)
	fmt.Printf("\nDecomposed as %s:\n", d.Kind)
	fmt.Printf("main: %q\n", d.Main)
	if d.FollowUp != "" {
		fmt.Printf("follow-up: %q\n", d.FollowUp)
	}
	if d.Payload != "" {
		fmt.Printf("payload: %q\n", d.Payload)
	}
}
