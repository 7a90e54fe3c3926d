package parse

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/gcp"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	ProviderDocAI = "docai"
	ProviderLocal = "local"
)

type BlockKind string

const (
	BlockHeader    BlockKind = "header"
	BlockParagraph BlockKind = "paragraph"
	BlockTable     BlockKind = "table"
)

// Block is one layout unit of a parsed rulebook, in reading order. Level is
// the heading depth (1-3) and zero for non-headers. Table text is markdown.
type Block struct {
	Kind  BlockKind
	Level int
	Text  string
	Page  int
}

type Document struct {
	Blocks []Block
	Pages  int
}

// Parser turns a staged PDF into ordered blocks. PageCount and
// FirstPagesText run on the local reader regardless of provider: the
// gatekeeper and classifier need them before anyone pays for a full
// layout parse.
type Parser interface {
	Name() string
	Parse(ctx context.Context, path string) (*Document, error)
	PageCount(ctx context.Context, path string) (int, error)
	FirstPagesText(ctx context.Context, path string, n int) (string, error)
}

type BootstrapErrorCode string

const (
	BootstrapErrorUnknownProvider  BootstrapErrorCode = "unknown_provider"
	BootstrapErrorDocAIUnavailable BootstrapErrorCode = "docai_unavailable"
)

type BootstrapError struct {
	Code    BootstrapErrorCode
	Message string
	Cause   error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("parser bootstrap failed: code=%s message=%s", e.Code, e.Message)
}

func (e *BootstrapError) Unwrap() error {
	return e.Cause
}

// New selects the parser from PARSER_PROVIDER (default local). The docai
// variant wraps Document AI and, when PARSER_FALLBACK_ENABLED (default
// true), degrades to the local parser on structural failure.
func New(log *logger.Logger) (Parser, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("PARSER_PROVIDER")))
	if provider == "" {
		provider = ProviderLocal
	}
	switch provider {
	case ProviderLocal:
		return newLocalParser(log), nil
	case ProviderDocAI:
		doc, err := gcp.NewDocument(log)
		if err != nil {
			return nil, &BootstrapError{
				Code:    BootstrapErrorDocAIUnavailable,
				Message: "Document AI client could not be constructed",
				Cause:   err,
			}
		}
		local := newLocalParser(log)
		docai := newDocAIParser(log, doc, local)
		if utils.GetEnvAsBool("PARSER_FALLBACK_ENABLED", true, log) {
			return &fallbackParser{log: log.With("parser", "fallback"), primary: docai, backup: local}, nil
		}
		return docai, nil
	default:
		return nil, &BootstrapError{
			Code:    BootstrapErrorUnknownProvider,
			Message: fmt.Sprintf("unknown PARSER_PROVIDER %q", provider),
		}
	}
}

// fallbackParser keeps ingestion alive when the layout provider rejects a
// document the local reader can still handle.
type fallbackParser struct {
	log     *logger.Logger
	primary Parser
	backup  Parser
}

func (f *fallbackParser) Name() string { return f.primary.Name() }

func (f *fallbackParser) Parse(ctx context.Context, path string) (*Document, error) {
	doc, err := f.primary.Parse(ctx, path)
	if err == nil {
		return doc, nil
	}
	f.log.Warn("layout parse failed, falling back to local parser", "path", path, "error", err)
	return f.backup.Parse(ctx, path)
}

func (f *fallbackParser) PageCount(ctx context.Context, path string) (int, error) {
	return f.primary.PageCount(ctx, path)
}

func (f *fallbackParser) FirstPagesText(ctx context.Context, path string, n int) (string, error) {
	return f.primary.FirstPagesText(ctx, path, n)
}
