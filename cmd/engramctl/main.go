// Command engramctl is a local operator CLI for the memory graph: capture
// a memory, run a hybrid search, or trigger a consolidation/decay pass
// outside the daemon's hourly schedule. It mirrors the teacher's one-shot
// flag-parsed CLI tool shape rather than a cobra-style subcommand tree.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"engram/internal/config"
	"engram/internal/engram"
	"engram/internal/store"
	"engram/internal/vault"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	keyring := vault.NewKeyRing("engram")
	embedder := engram.NewHTTPEmbedder(cfg.Embedding)
	momentum, err := engram.NewMomentumCache(cfg.Redis, cfg.Engram.MomentumCap, cfg.Engram.MomentumTTLHours)
	if err != nil {
		log.Printf("momentum cache unavailable, continuing without working-memory momentum: %v", err)
		momentum = nil
	}
	st := engram.NewStore(db, embedder, keyring, cfg.Vault, cfg.Engram, momentum)

	switch cmd {
	case "capture":
		runCapture(ctx, st, args)
	case "search":
		runSearch(ctx, st, args)
	case "consolidate":
		runConsolidate(ctx, st, args)
	case "decay":
		runDecay(ctx, st, args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `engramctl <command> [flags]

Commands:
  capture     -agent <id> -content <text> [-category <cat>] [-importance <0..10>]
  search      -agent <id> -query <text> [-limit <n>]
  consolidate -agent <id>
  decay       -agent <id> [-threshold <0..1>]`)
}

func runCapture(ctx context.Context, st *engram.Store, args []string) {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	agent := fs.String("agent", "", "agent id")
	content := fs.String("content", "", "memory content")
	category := fs.String("category", "note", "memory category")
	importance := fs.Float64("importance", 0.5, "importance 0..10")
	fs.Parse(args)

	if *agent == "" || *content == "" {
		log.Fatal("capture requires -agent and -content")
	}

	id, err := st.Capture(ctx, engram.CaptureRequest{
		AgentID:    *agent,
		Content:    *content,
		Category:   *category,
		Importance: *importance,
		Explicit:   true,
	})
	if err != nil {
		log.Fatalf("capture: %v", err)
	}
	fmt.Println(id)
}

func runSearch(ctx context.Context, st *engram.Store, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	agent := fs.String("agent", "", "agent id")
	query := fs.String("query", "", "search query")
	limit := fs.Int("limit", 10, "max results")
	fs.Parse(args)

	if *agent == "" || *query == "" {
		log.Fatal("search requires -agent and -query")
	}

	res, err := st.HybridSearch(ctx, engram.SearchRequest{
		AgentID: *agent,
		Query:   *query,
		Scope:   engram.Scope{AgentID: *agent},
		Limit:   *limit,
	})
	if err != nil {
		log.Fatalf("search: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatalf("encode results: %v", err)
	}
}

func runConsolidate(ctx context.Context, st *engram.Store, args []string) {
	fs := flag.NewFlagSet("consolidate", flag.ExitOnError)
	agent := fs.String("agent", "", "agent id")
	fs.Parse(args)

	if *agent == "" {
		log.Fatal("consolidate requires -agent")
	}

	report, err := st.RunConsolidation(ctx, *agent)
	if err != nil {
		log.Fatalf("consolidate: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatalf("encode report: %v", err)
	}
}

func runDecay(ctx context.Context, st *engram.Store, args []string) {
	fs := flag.NewFlagSet("decay", flag.ExitOnError)
	agent := fs.String("agent", "", "agent id")
	threshold := fs.Float64("threshold", 0.05, "forget threshold 0..1")
	fs.Parse(args)

	if *agent == "" {
		log.Fatal("decay requires -agent")
	}

	forgotten, err := st.ApplyDecay(ctx, *agent, *threshold)
	if err != nil {
		log.Fatalf("decay: %v", err)
	}
	fmt.Printf("forgotten: %d\n", len(forgotten))
	for _, id := range forgotten {
		fmt.Println(id)
	}
}
