package gemini

import (
	"context"
	"fmt"
	"log"
	"sync"

	"google.golang.org/genai"

	"github.com/room4-2/studytutor/failure"
	"github.com/room4-2/studytutor/payment"
	"github.com/room4-2/studytutor/study"
)

const (
	DefaultContentModel   = "gemini-3-flash-preview"
	defaultReceiptMIME    = "image/jpeg"
	receiptUnreadableText = "Erro ao ler comprovante"
)

// ClientConfig configures the content client
type ClientConfig struct {
	APIKey string
	Model  string
	// Recipients are the names and keys a receipt must be addressed to
	Recipients []string
	// BaseURL overrides the API endpoint
	BaseURL string
}

// Client runs request/response generation calls: study content, chat turns
// and receipt verification. The SDK client is created on first use so a
// missing key only fails the calls that need it.
type Client struct {
	cfg ClientConfig

	mu     sync.Mutex
	client *genai.Client
}

// NewClient creates a content client
func NewClient(cfg ClientConfig) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultContentModel
	}
	return &Client{cfg: cfg}
}

// HasCredential reports whether an API key is configured
func (c *Client) HasCredential() bool {
	return c.cfg.APIKey != ""
}

func (c *Client) sdk(ctx context.Context, op string) (*genai.Client, error) {
	if c.cfg.APIKey == "" {
		return nil, failure.New(failure.Authentication, op, failure.ErrMissingCredential)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	cc := &genai.ClientConfig{
		APIKey:  c.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, failure.New(failure.TransientService, op, fmt.Errorf("failed to create GenAI client: %w", err))
	}
	c.client = client
	return client, nil
}

// generate runs one completion and returns the response text
func (c *Client) generate(ctx context.Context, op string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	client, err := c.sdk(ctx, op)
	if err != nil {
		return "", err
	}
	resp, err := client.Models.GenerateContent(ctx, c.cfg.Model, contents, config)
	if err != nil {
		log.Printf("❌ Gemini %s failed: %v", op, err)
		return "", classify(op, failure.TransientService, err)
	}
	return resp.Text(), nil
}

func materialParts(content study.Content) []*genai.Part {
	parts := make([]*genai.Part, 0, len(content.Files)+2)
	for _, f := range content.Files {
		parts = append(parts, genai.NewPartFromBytes(f.Data, f.MIMEType))
	}
	if content.Text != "" {
		parts = append(parts, genai.NewPartFromText(extraTextPrefix+content.Text))
	}
	return parts
}

func userTurn(parts ...*genai.Part) []*genai.Content {
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func jsonConfig(schema *genai.Schema) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
}

func stringProps(names ...string) map[string]*genai.Schema {
	props := make(map[string]*genai.Schema, len(names))
	for _, n := range names {
		props[n] = &genai.Schema{Type: genai.TypeString}
	}
	return props
}

var (
	analysisSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: func() map[string]*genai.Schema {
			p := stringProps("topic", "description", "language", "suggestion")
			p["isStudyMaterial"] = &genai.Schema{Type: genai.TypeBoolean}
			return p
		}(),
		Required: []string{"isStudyMaterial", "topic", "description", "language", "suggestion"},
	}

	quizSchema = &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"question":      {Type: genai.TypeString},
				"options":       {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
				"correctAnswer": {Type: genai.TypeInteger},
				"explanation":   {Type: genai.TypeString},
			},
			Required: []string{"question", "options", "correctAnswer", "explanation"},
		},
	}

	flashcardSchema = &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: stringProps("front", "back"),
			Required:   []string{"front", "back"},
		},
	}

	verdictSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"verified": {Type: genai.TypeBoolean},
			"reason":   {Type: genai.TypeString},
		},
		Required: []string{"verified", "reason"},
	}
)

// Analyze identifies the topic of the material
func (c *Client) Analyze(ctx context.Context, content study.Content) (study.Analysis, error) {
	parts := append(materialParts(content), genai.NewPartFromText(analysisPrompt(content.Language)))
	text, err := c.generate(ctx, "analyze", userTurn(parts...), jsonConfig(analysisSchema))
	if err != nil {
		return study.Analysis{}, err
	}
	var a study.Analysis
	if err := decodeJSON(text, &a); err != nil {
		return study.Analysis{}, failure.New(failure.TransientService, "analyze", err)
	}
	return a, nil
}

// Summarize writes a markdown summary
func (c *Client) Summarize(ctx context.Context, content study.Content) (string, error) {
	parts := append(materialParts(content), genai.NewPartFromText(summaryPrompt(content.Language)))
	return c.generate(ctx, "summary", userTurn(parts...), nil)
}

// Quiz generates multiple choice questions
func (c *Client) Quiz(ctx context.Context, content study.Content) ([]study.QuizQuestion, error) {
	parts := append(materialParts(content), genai.NewPartFromText(quizPrompt(content.Language)))
	text, err := c.generate(ctx, "quiz", userTurn(parts...), jsonConfig(quizSchema))
	if err != nil {
		return nil, err
	}
	var qs []study.QuizQuestion
	if err := decodeJSON(text, &qs); err != nil {
		return nil, failure.New(failure.TransientService, "quiz", err)
	}
	return qs, nil
}

// Flashcards generates memorization cards
func (c *Client) Flashcards(ctx context.Context, content study.Content) ([]study.Flashcard, error) {
	parts := append(materialParts(content), genai.NewPartFromText(flashcardsPrompt(content.Language)))
	text, err := c.generate(ctx, "flashcards", userTurn(parts...), jsonConfig(flashcardSchema))
	if err != nil {
		return nil, err
	}
	var cards []study.Flashcard
	if err := decodeJSON(text, &cards); err != nil {
		return nil, failure.New(failure.TransientService, "flashcards", err)
	}
	return cards, nil
}

// Explain writes a simple explanation
func (c *Client) Explain(ctx context.Context, content study.Content) (string, error) {
	parts := append(materialParts(content), genai.NewPartFromText(explainPrompt(content.Language)))
	return c.generate(ctx, "explain", userTurn(parts...), nil)
}

// Turn is one message of a text conversation
type Turn struct {
	Role string // genai.RoleUser or genai.RoleModel
	Text string
}

// ChatTurn answers text given the system prompt and the prior turns
func (c *Client) ChatTurn(ctx context.Context, systemPrompt string, history []Turn, text string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		contents = append(contents, genai.NewContentFromText(t.Text, genai.Role(t.Role)))
	}
	contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
	reply, err := c.generate(ctx, "chat", contents, config)
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", failure.New(failure.TransientService, "chat", errEmptyResponse)
	}
	return reply, nil
}

// VerifyReceipt asks the model whether the receipt proves payment of expected
// to one of the configured recipients. The verdict is advisory.
func (c *Client) VerifyReceipt(ctx context.Context, receipt payment.Receipt, expected payment.Amount) (payment.Verdict, error) {
	mime := receipt.MIMEType
	if mime == "" {
		mime = defaultReceiptMIME
	}
	parts := []*genai.Part{
		genai.NewPartFromBytes(receipt.Data, mime),
		genai.NewPartFromText(receiptPrompt(expected.String(), c.cfg.Recipients)),
	}
	text, err := c.generate(ctx, "verify", userTurn(parts...), jsonConfig(verdictSchema))
	if err != nil {
		return payment.Verdict{}, err
	}

	var v payment.Verdict
	if err := decodeJSON(text, &v); err != nil {
		log.Printf("⚠️ Unreadable verdict from model: %v", err)
		return payment.Verdict{Verified: false, Reason: receiptUnreadableText}, nil
	}
	return v, nil
}
