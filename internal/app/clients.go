package app

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/gcp"
	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/openai"
	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/pinecone"
	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/redisx"
	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/rerank"
	"github.com/gndumbri/arbiter-ai-sub001/internal/parse"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/scan"
)

// Clients holds every external connection the app talks to. Bucket may be
// nil: without object storage, direct uploads still work and only gs://
// ingestion is refused. PineconeClient is nil under the qdrant provider.
type Clients struct {
	Redis          *goredis.Client
	OpenAI         openai.Client
	Bucket         gcp.Bucket
	PineconeClient pinecone.Client
	VectorStore    pinecone.VectorStore
	Scanner        scan.Scanner
	Parser         parse.Parser
	Reranker       rerank.Reranker
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	rdb, err := redisx.New(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init redis client: %w", err)
	}

	openaiClient, err := openai.NewClient(log)
	if err != nil {
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	bucket, err := resolveBucket(log, cfg)
	if err != nil {
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("init object storage: %w", err)
	}

	pineconeClient, vectorStore, err := resolveVectorStoreProvider(log, cfg)
	if err != nil {
		if bucket != nil {
			_ = bucket.Close()
		}
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("init vector store: %w", err)
	}

	scanner, err := scan.New(log)
	if err != nil {
		if bucket != nil {
			_ = bucket.Close()
		}
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("init malware scanner: %w", err)
	}

	parser, err := parse.New(log)
	if err != nil {
		if bucket != nil {
			_ = bucket.Close()
		}
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("init parser: %w", err)
	}

	reranker, err := rerank.New(log)
	if err != nil {
		if bucket != nil {
			_ = bucket.Close()
		}
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("init reranker: %w", err)
	}

	return Clients{
		Redis:          rdb,
		OpenAI:         openaiClient,
		Bucket:         bucket,
		PineconeClient: pineconeClient,
		VectorStore:    vectorStore,
		Scanner:        scanner,
		Parser:         parser,
		Reranker:       reranker,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Bucket != nil {
		_ = c.Bucket.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
