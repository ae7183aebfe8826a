// Seed script for creating demo data in Memori.
// Run with: go run ./scripts/seed.go
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	memori "github.com/memorilabs/memori"
	"github.com/memorilabs/memori/internal/llm"
)

type seedTurn struct {
	userInput  string
	aiOutput   string
	extraction string
}

// Canned extractions stand in for the analysis LLM so seeding works
// offline and produces deterministic rows.
var seedTurns = []seedTurn{
	{
		userInput: "My name is Alice and I lead the payments team",
		aiOutput:  "Nice to meet you, Alice.",
		extraction: `{"store":true,"summary":"User is Alice, payments team lead",
			"searchable_content":"The user's name is Alice and she leads the payments team",
			"category":"fact","importance":"high","classification":"essential",
			"promotion_eligible":true,"retention":"long_term",
			"entities":[{"type":"person","value":"alice"}]}`,
	},
	{
		userInput: "We run everything on Kubernetes in GCP",
		aiOutput:  "Understood, GKE it is.",
		extraction: `{"store":true,"summary":"Team deploys on Kubernetes in GCP",
			"searchable_content":"The team runs all services on Kubernetes in GCP",
			"category":"context","importance":"medium","classification":"conversational",
			"promotion_eligible":false,"retention":"long_term",
			"entities":[{"type":"technology","value":"kubernetes"}]}`,
	},
	{
		userInput: "I prefer structured logging with zap over plain printf",
		aiOutput:  "Noted, structured logging everywhere.",
		extraction: `{"store":true,"summary":"User prefers zap structured logging",
			"searchable_content":"The user prefers structured logging with zap over printf logging",
			"category":"preference","importance":"medium","classification":"conscious_info",
			"promotion_eligible":true,"retention":"long_term",
			"entities":[{"type":"technology","value":"zap"}]}`,
	},
	{
		userInput: "Current project is the checkout rewrite, due end of quarter",
		aiOutput:  "Checkout rewrite, end of quarter. Got it.",
		extraction: `{"store":true,"summary":"Current project is the checkout rewrite",
			"searchable_content":"The user's current project is the checkout rewrite due end of quarter",
			"category":"context","importance":"high","classification":"conscious_info",
			"promotion_eligible":true,"retention":"long_term",
			"entities":[{"type":"project","value":"checkout rewrite"}]}`,
	},
}

func main() {
	_ = godotenv.Load()

	mock := llm.NewMockClient()
	for _, t := range seedTurns {
		mock.Responses = append(mock.Responses, t.extraction)
	}

	ctx := context.Background()
	cfg := memori.FromEnv()
	cfg.AnalysisClient = mock

	orc, err := memori.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer orc.Close()

	for _, t := range seedTurns {
		id, err := orc.Record(t.userInput, t.aiOutput, "seed", map[string]any{"seeded": true})
		if err != nil {
			log.Fatalf("record: %v", err)
		}
		fmt.Printf("seeded turn %s\n", id)
	}

	// Wait for the extraction pool to drain before closing.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := orc.Stats(ctx)
		if err != nil {
			log.Fatalf("stats: %v", err)
		}
		if stats.LongTermCount >= len(seedTurns) {
			fmt.Printf("done: %d memories in namespace %q\n", stats.LongTermCount, orc.Namespace())
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Fatal("extraction did not finish in time")
}
