// Command digestpreview fetches (or reuses a cached) harvest, runs the
// summarizer, and prints the exact message segments the Delivery
// Orchestrator would send — without touching Telegram or the database.
// It mirrors the standalone preview tool the original single-shot script
// shipped for iterating on prompt and formatting changes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"digestbot/internal/adapters/mirror"
	"digestbot/internal/adapters/summarizer"
	"digestbot/internal/domain"
	"digestbot/internal/infra/config"
	"digestbot/internal/infra/openai"
	"digestbot/internal/usecase/digest"
)

const cacheDir = "run-history"
const cacheFile = "posts_cache.json"

func main() {
	useCached := flag.Bool("use-cached", false, "reuse the last harvested posts instead of polling the mirror")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "digestpreview: configuration-invalid:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var posts []domain.Post
	if *useCached {
		posts, err = loadCache()
		if err != nil {
			fmt.Fprintln(os.Stderr, "digestpreview:", err)
			os.Exit(1)
		}
		fmt.Printf("loaded %d cached posts\n", len(posts))
	} else {
		roster, err := mirror.LoadRoster(cfg.UsernamesFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "digestpreview: cannot load roster:", err)
			os.Exit(1)
		}
		harvester := mirror.New(cfg.Nitter.Instance, cfg.Nitter.APIKey)
		posts, err = harvester.Harvest(ctx, roster, time.Duration(cfg.HoursLookback)*time.Hour, cfg.MaxTweets)
		if err != nil {
			fmt.Fprintln(os.Stderr, "digestpreview: harvest failed:", err)
			os.Exit(1)
		}
		if err := saveCache(posts); err != nil {
			fmt.Fprintln(os.Stderr, "digestpreview: warning: could not write cache:", err)
		}
		fmt.Printf("harvested %d posts in the last %d hours\n", len(posts), cfg.HoursLookback)
	}

	if len(posts) == 0 {
		fmt.Println("no posts found, nothing to summarize")
		return
	}

	chatClient := openai.NewClient(cfg.OpenAI.APIKey, "", 60*time.Second)
	summarizerAdapter := summarizer.NewOpenAI(chatClient, cfg.OpenAI.Model, 60*time.Second)
	content, err := summarizerAdapter.Summarize(ctx, posts, cfg.BaseLanguage)
	if err != nil {
		fmt.Fprintln(os.Stderr, "digestpreview: summarize failed:", err)
		os.Exit(1)
	}

	segments := digest.FormatMessages(content, time.Now().UTC())

	fmt.Println()
	fmt.Println("==================== PREVIEW ====================")
	for i, segment := range segments {
		fmt.Printf("\n--- segment %d/%d (%d bytes) ---\n%s\n", i+1, len(segments), len(segment), segment)
	}
	fmt.Println("===================================================")
}

func loadCache() ([]domain.Post, error) {
	path := filepath.Join(cacheDir, cacheFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no cached posts at %s, run without --use-cached first: %w", path, err)
	}
	var posts []domain.Post
	if err := json.Unmarshal(raw, &posts); err != nil {
		return nil, fmt.Errorf("decode cached posts: %w", err)
	}
	return posts, nil
}

func saveCache(posts []domain.Post) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cacheDir, cacheFile), raw, 0o644)
}
