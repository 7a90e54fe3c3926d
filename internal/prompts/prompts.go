package prompts

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

// PROMPT_PACK_YAML points at an external pack file so prompts can be tuned
// without a rebuild. Invalid or missing files fall back to the embedded pack.
const promptPackEnv = "PROMPT_PACK_YAML"

//go:embed prompts.yaml
var packFS embed.FS

const (
	NameClassifier = "classifier"
	NameExpander   = "expander"
	NameVerdict    = "verdict"
)

type Prompt struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// RenderUser substitutes {{key}} placeholders in the user template. Unknown
// placeholders are left in place so a malformed template is visible in logs
// rather than silently blank.
func (p Prompt) RenderUser(vars map[string]string) string {
	if len(vars) == 0 {
		return p.User
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(p.User)
}

type pack struct {
	Version int               `yaml:"version"`
	Prompts map[string]Prompt `yaml:"prompts"`
}

var (
	packOnce  sync.Once
	packCache *pack
	packErr   error
)

// Get returns one named prompt from the pack.
func Get(log *logger.Logger, name string) (Prompt, error) {
	packOnce.Do(func() {
		packCache, packErr = loadPack(log)
	})
	if packErr != nil {
		return Prompt{}, packErr
	}
	p, ok := packCache.Prompts[name]
	if !ok {
		return Prompt{}, fmt.Errorf("prompt pack has no %q prompt", name)
	}
	return p, nil
}

func Classifier(log *logger.Logger) (Prompt, error) { return Get(log, NameClassifier) }
func Expander(log *logger.Logger) (Prompt, error)   { return Get(log, NameExpander) }
func Verdict(log *logger.Logger) (Prompt, error)    { return Get(log, NameVerdict) }

func loadPack(log *logger.Logger) (*pack, error) {
	if override := strings.TrimSpace(os.Getenv(promptPackEnv)); override != "" {
		data, err := os.ReadFile(override)
		if err == nil {
			if p, perr := parsePack(data); perr == nil {
				if log != nil {
					log.Info("prompt pack loaded from override file", "path", override)
				}
				return p, nil
			} else if log != nil {
				log.Warn("prompt pack override invalid, using embedded pack", "path", override, "error", perr)
			}
		} else if log != nil {
			log.Warn("prompt pack override unreadable, using embedded pack", "path", override, "error", err)
		}
	}

	data, err := packFS.ReadFile("prompts.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded prompt pack: %w", err)
	}
	return parsePack(data)
}

func parsePack(data []byte) (*pack, error) {
	var p pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse prompt pack: %w", err)
	}
	for _, name := range []string{NameClassifier, NameExpander, NameVerdict} {
		prompt, ok := p.Prompts[name]
		if !ok {
			return nil, fmt.Errorf("prompt pack missing %q", name)
		}
		if strings.TrimSpace(prompt.System) == "" || strings.TrimSpace(prompt.User) == "" {
			return nil, fmt.Errorf("prompt %q needs both system and user text", name)
		}
	}
	return &p, nil
}
