// Package prompt assembles provider-ready prompts for each completion
// task type from embedded system templates.
package prompt

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/strataops/strata/internal/budget"
	"github.com/strataops/strata/internal/model"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// ErrUnknownTask is returned when no template exists for a task type.
var ErrUnknownTask = fmt.Errorf("prompt: unknown task type")

// Assembled is a provider-ready prompt pair.
type Assembled struct {
	System          string
	User            string
	EstimatedTokens int
}

// Loader resolves a task type to its system prompt text. The default
// loader reads from the embedded template set; tests may inject another.
type Loader func(task model.FeatureKey) (string, error)

// Assembler caches system templates and builds prompts. The cache is
// read-through: the first request for a task type loads and stores the
// template, concurrent first requests are deduplicated via singleflight.
type Assembler struct {
	loader Loader
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[model.FeatureKey]string
}

// New returns an Assembler backed by the embedded templates.
func New() *Assembler {
	return NewWithLoader(loadEmbedded)
}

// NewWithLoader returns an Assembler with a custom template loader.
func NewWithLoader(loader Loader) *Assembler {
	return &Assembler{
		loader: loader,
		cache:  make(map[model.FeatureKey]string),
	}
}

func loadEmbedded(task model.FeatureKey) (string, error) {
	content, err := templatesFS.ReadFile(fmt.Sprintf("templates/%s.tmpl", task))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}
	return strings.TrimSpace(string(content)), nil
}

// System returns the cached system prompt for task, loading it on first use.
func (a *Assembler) System(task model.FeatureKey) (string, error) {
	a.mu.RLock()
	cached, ok := a.cache[task]
	a.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := a.group.Do(string(task), func() (any, error) {
		loaded, err := a.loader(task)
		if err != nil {
			return "", err
		}
		a.mu.Lock()
		a.cache[task] = loaded
		a.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Assemble builds the system and user messages for one completion request.
// When settings caps prompt tokens, the caller-supplied context is trimmed
// from the tail first; if the prompt still cannot fit, the user prompt is
// trimmed too. The system template is never cut.
func (a *Assembler) Assemble(req model.CompletionRequest, settings *model.CompanyAISettings) (Assembled, error) {
	system, err := a.System(req.TaskType)
	if err != nil {
		return Assembled{}, err
	}

	ctxText := req.Context
	userPrompt := req.UserPrompt
	if settings != nil && settings.MaxPromptTokens > 0 {
		maxChars := settings.MaxPromptTokens * 4
		fixed := len(system) + len(userPrompt) + contextFrame
		if budgetChars := maxChars - fixed; budgetChars < len(ctxText) {
			if budgetChars < 0 {
				budgetChars = 0
			}
			ctxText = ctxText[:budgetChars]
		}
		if ctxText == "" {
			if budgetChars := maxChars - len(system); budgetChars < len(userPrompt) {
				if budgetChars < 0 {
					budgetChars = 0
				}
				userPrompt = userPrompt[:budgetChars]
			}
		}
	}

	user := userPrompt
	if ctxText != "" {
		user = fmt.Sprintf("<context>\n%s\n</context>\n\n%s", ctxText, userPrompt)
	}

	return Assembled{
		System:          system,
		User:            user,
		EstimatedTokens: budget.EstimateTokens(system + user),
	}, nil
}

// contextFrame is the fixed overhead of the context wrapper, counted
// against the prompt budget even though it is not caller content.
const contextFrame = len("<context>\n\n</context>\n\n")
