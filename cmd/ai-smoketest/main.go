package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stake-plus/nexvote/src/ai"
	"github.com/stake-plus/nexvote/src/config"
	"github.com/stake-plus/nexvote/src/store"
)

var (
	urlFlag     = flag.String("url", "", "AI service URL; empty uses AI_SERVICE_URL")
	modeFlag    = flag.String("mode", "all", "Comma-separated checks: health,summarize,translate,embed or 'all'")
	textFlag    = flag.String("text", defaultText, "Input text")
	targetFlag  = flag.String("target", "ta", "Target locale for translate")
	compareFlag = flag.String("compare", defaultCompare, "Second text for embedding similarity")
	timeoutFlag = flag.Duration("timeout", 30*time.Second, "Per-check timeout")
	maxLenFlag  = flag.Int("max-bytes", 1200, "Maximum bytes of output to print per response (0=unlimited)")
)

var allChecks = []string{"health", "summarize", "translate", "embed"}

func main() {
	log.SetFlags(0)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	client, err := ai.NewClient(ai.FactoryConfig{
		ServiceURL:  pickFirst(*urlFlag, cfg.AI.ServiceURL),
		APIKey:      cfg.AI.APIKey,
		Timeout:     *timeoutFlag,
		MaxAttempts: 1,
	})
	if err != nil {
		log.Fatalf("client init: %v", err)
	}

	checks := resolveChecks(*modeFlag)
	if len(checks) == 0 {
		log.Fatal("no checks specified")
	}
	failed := 0
	for _, check := range checks {
		if err := runCheck(client, check); err != nil {
			fmt.Printf("%s ❌ %v\n", check, err)
			failed++
		}
	}
	if failed > 0 {
		log.Fatalf("%d of %d checks failed", failed, len(checks))
	}
}

func runCheck(client ai.Client, check string) error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	start := time.Now()
	var out string
	switch check {
	case "health":
		if !client.Health(ctx) {
			return errors.New("service reported unhealthy")
		}
		out = "ok"
	case "summarize":
		s, err := client.Summarize(ctx, *textFlag)
		if err != nil {
			return err
		}
		out = s
	case "translate":
		s, err := client.Translate(ctx, *textFlag, "en", *targetFlag)
		if err != nil {
			return err
		}
		out = s
	case "embed":
		a, err := client.Embed(ctx, *textFlag)
		if err != nil {
			return err
		}
		b, err := client.Embed(ctx, *compareFlag)
		if err != nil {
			return err
		}
		out = fmt.Sprintf("dimension=%d cosine=%.4f", len(a), store.CosineSimilarity(a, b))
	default:
		return fmt.Errorf("unknown check %q", check)
	}
	fmt.Printf("%s ✅ (%.1fs)\n%s\n", check, time.Since(start).Seconds(), truncate(out, *maxLenFlag))
	return nil
}

func resolveChecks(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.EqualFold(raw, "all") {
		return append([]string{}, allChecks...)
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	var out []string
	seen := map[string]struct{}{}
	for _, p := range parts {
		key := strings.ToLower(strings.TrimSpace(p))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func pickFirst(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[:limit]) + "...(truncated)"
}

const (
	defaultText    = "The drainage channel behind the bus stand overflows every monsoon and floods the market street. Desilt it before June and add a grating at the inlet."
	defaultCompare = "Clean the storm drain near the bus stand so the market does not flood during the rains."
)
