package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/agentia/replyflow/internal/domain/model"
	openai "github.com/sashabaranov/go-openai"
)

// Defaults for the reply templates when the user has not configured any.
const (
	DefaultGreeting  = "尊敬的客户，您好！"
	DefaultClosing   = "祝好！"
	DefaultSignature = "Agentia 团队"
)

// Agent is the language-model port the pipeline drives. One Agent is bound
// to one user's resolved reply endpoint and templates.
type Agent interface {
	Classify(ctx context.Context, body string) (model.Category, error)
	SynthesiseQueries(ctx context.Context, body string) ([]string, error)
	Answer(ctx context.Context, query string, category model.Category, contextDocs string) (string, error)
	Draft(ctx context.Context, category model.Category, body, retrieved string, history []string) (string, error)
	Proofread(ctx context.Context, original, draft string) (sendable bool, feedback string, err error)
	Summarise(ctx context.Context, text string) (string, error)
}

// Embedder is the embedding port used by the knowledge index.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type agent struct {
	client *Client
	logger *slog.Logger

	greeting  string
	closing   string
	signature string
}

// NewAgent binds a client to a user's templates.
func NewAgent(client *Client, settings model.Settings, logger *slog.Logger) Agent {
	a := &agent{
		client:    client,
		logger:    logger,
		greeting:  settings.Greeting,
		closing:   settings.Closing,
		signature: settings.Signature,
	}
	if a.greeting == "" {
		a.greeting = DefaultGreeting
	}
	if a.closing == "" {
		a.closing = DefaultClosing
	}
	if a.signature == "" {
		a.signature = DefaultSignature
	}
	return a
}

func (a *agent) Classify(ctx context.Context, body string) (model.Category, error) {
	prompt := strings.Replace(categorizePrompt, "{email}", body, 1)
	raw, err := a.client.ChatPrompt(ctx, prompt)
	if err != nil {
		return "", err
	}
	category, outcome := parseCategory(raw)
	if outcome != ParseOK {
		a.logger.Warn("classifier output recovered heuristically", "category", category)
	}
	return category, nil
}

func (a *agent) SynthesiseQueries(ctx context.Context, body string) ([]string, error) {
	prompt := strings.Replace(ragQueriesPrompt, "{email}", body, 1)
	raw, err := a.client.ChatPrompt(ctx, prompt)
	if err != nil {
		return nil, err
	}
	queries, outcome := parseQueries(raw)
	if outcome == ParseUnusable || len(queries) == 0 {
		// Last resort: the opening of the body is the query.
		queries = []string{firstN(body, 100)}
		a.logger.Warn("query synthesis unusable, using body prefix")
	}
	if len(queries) > 3 {
		queries = queries[:3]
	}
	return queries, nil
}

func (a *agent) Answer(ctx context.Context, query string, category model.Category, contextDocs string) (string, error) {
	var tmpl string
	switch category {
	case model.CategoryCustomerComplaint:
		tmpl = ragAnswerComplaintPrompt
	case model.CategoryCustomerFeedback:
		tmpl = ragAnswerFeedbackPrompt
	case model.CategoryProductEnquiry, model.CategoryUnrelated:
		// Unrelated reaches here only through the RAG test path, which wants
		// the broad product strategy.
		tmpl = ragAnswerProductPrompt
	default:
		tmpl = ragAnswerPrompt
	}
	prompt := strings.Replace(tmpl, "{context}", contextDocs, 1)
	prompt = strings.Replace(prompt, "{question}", query, 1)
	return a.client.ChatPrompt(ctx, prompt)
}

func (a *agent) Draft(ctx context.Context, category model.Category, body, retrieved string, history []string) (string, error) {
	system := strings.Replace(writerSystemPrompt, "{greeting}", a.greeting, 1)
	system = strings.Replace(system, "{closing}", a.closing, 1)
	system = strings.Replace(system, "{signature}", a.signature, 1)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	for _, h := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant, Content: h,
		})
	}
	info := "# **EMAIL CATEGORY:** " + string(category) + "\n\n" +
		"# **EMAIL CONTENT:**\n" + body + "\n\n" +
		"# **INFORMATION:**\n" + retrieved
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: info,
	})

	raw, err := a.client.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	draft, outcome := parseDraft(raw)
	if outcome == ParseUnusable {
		a.logger.Warn("writer output unusable")
		return "", errUnusableDraft
	}
	return draft, nil
}

func (a *agent) Proofread(ctx context.Context, original, draft string) (bool, string, error) {
	prompt := strings.Replace(proofreaderPrompt, "{initial_email}", original, 1)
	prompt = strings.Replace(prompt, "{generated_email}", draft, 1)
	raw, err := a.client.ChatPrompt(ctx, prompt)
	if err != nil {
		return false, "", err
	}
	send, feedback, outcome := parseProofread(raw)
	if outcome == ParseUnusable {
		// Treat an unreadable verdict as "not sendable" with the raw text as
		// feedback so the next trial has something to work with.
		return false, firstN(raw, 500), nil
	}
	return send, feedback, nil
}

func (a *agent) Summarise(ctx context.Context, text string) (string, error) {
	prompt := strings.Replace(summarisePrompt, "{text}", firstN(text, 4000), 1)
	out, err := a.client.ChatPrompt(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func firstN(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
