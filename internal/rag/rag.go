// Package rag answers questions over a project's documents.
//
// The pipeline retrieves chunks for the question, asks a grader model
// whether they are relevant, and either generates the answer or rewrites
// the question and retrieves again. Rewrites are bounded: after the
// configured number of attempts the pipeline answers with whatever
// context it has instead of looping. Grading failures count as relevant
// so a flaky grader degrades to plain retrieval-and-answer.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/document"
	"github.com/docchat/docchat/internal/log"
)

// ErrEmptyQuestion indicates a blank question.
var ErrEmptyQuestion = errors.New("question cannot be empty")

// DefaultMaxRewrites bounds question rewriting per request.
const DefaultMaxRewrites = 2

const systemPrompt = `You are an intelligent and helpful assistant with access to project documents.

INSTRUCTIONS:
- Be clear, concise, and helpful in your responses
- Maintain conversation context to provide coherent answers
- Always ground your answers in the retrieved documents
- If the retrieved documents don't contain relevant information, acknowledge this clearly`

const gradePrompt = `You are a grader assessing relevance of a retrieved document.
Retrieved document: %s
User question: %s
If the document contains keywords or meaning related to the question,
grade it as relevant. Answer with a single word: 'yes' or 'no'.`

const rewritePrompt = `Look at the input and try to reason about the underlying
semantic intent / meaning.
Here is the initial question:

-------
%s
-------

Formulate an improved question. Reply with the improved question only.`

const generatePrompt = `You are an assistant for question-answering tasks.
Use the following pieces of retrieved context to answer the question.
If you don't know the answer, just say that you don't know.
Use three sentences maximum and keep the answer concise.
Question: %s

Context: %s`

// Retriever finds chunks similar to a query.
type Retriever interface {
	SearchSimilar(ctx context.Context, projectID int64, query string) ([]document.Match, error)
}

// Result is a generated answer with its provenance.
type Result struct {
	// Answer is the model's final response.
	Answer string `json:"answer"`

	// Question is the question actually answered; differs from the input
	// when the pipeline rewrote it.
	Question string `json:"question"`

	// Rewrites counts how many times the question was rewritten.
	Rewrites int `json:"rewrites"`

	// Sources are the chunks the answer was grounded on.
	Sources []document.Match `json:"sources"`
}

// Pipeline orchestrates retrieval, grading, and generation.
type Pipeline struct {
	llm         ai.ChatModel
	grader      ai.ChatModel
	retriever   Retriever
	maxRewrites int
	logger      log.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGrader uses a separate (typically smaller) model for relevance
// grading.
func WithGrader(grader ai.ChatModel) Option {
	return func(p *Pipeline) {
		if grader != nil {
			p.grader = grader
		}
	}
}

// WithMaxRewrites bounds how often an unproductive question is rewritten.
func WithMaxRewrites(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.maxRewrites = n
		}
	}
}

// NewPipeline creates an answer pipeline. The grader defaults to the main
// model.
func NewPipeline(llm ai.ChatModel, retriever Retriever, logger log.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		llm:         llm,
		grader:      llm,
		retriever:   retriever,
		maxRewrites: DefaultMaxRewrites,
		logger:      logger.With("component", "rag"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Answer runs the full pipeline for one question. history is the prior
// conversation, oldest first; projectPrompt, when set, replaces the stock
// system prompt.
func (p *Pipeline) Answer(ctx context.Context, projectID int64, question string, history []ai.Message, projectPrompt string) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}

	current := question
	var rewrites int
	var sources []document.Match

	for {
		matches, err := p.retriever.SearchSimilar(ctx, projectID, current)
		if err != nil {
			return Result{}, fmt.Errorf("retrieve: %w", err)
		}
		sources = matches

		if len(matches) > 0 && p.isRelevant(ctx, current, matches) {
			break
		}
		if rewrites >= p.maxRewrites {
			p.logger.Debug("rewrite budget exhausted", "question", current, "rewrites", rewrites)
			break
		}

		rewritten, err := p.rewrite(ctx, current)
		if err != nil || rewritten == "" || rewritten == current {
			p.logger.Warn("question rewrite unproductive", "error", err)
			break
		}
		current = rewritten
		rewrites++
		p.logger.Debug("rewrote question", "attempt", rewrites, "question", current)
	}

	answer, err := p.generate(ctx, current, sources, history, projectPrompt)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Answer:   answer,
		Question: current,
		Rewrites: rewrites,
		Sources:  sources,
	}, nil
}

// isRelevant asks the grader for a binary yes/no. Errors and unparseable
// answers count as relevant.
func (p *Pipeline) isRelevant(ctx context.Context, question string, matches []document.Match) bool {
	prompt := fmt.Sprintf(gradePrompt, document.FormatForLLM(matches), question)

	verdict, err := p.grader.Generate(ctx, []ai.Message{{Role: ai.RoleUser, Content: prompt}})
	if err != nil {
		p.logger.Warn("grading failed, assuming relevant", "error", err)
		return true
	}

	verdict = strings.ToLower(strings.TrimSpace(verdict))
	if strings.HasPrefix(verdict, "no") {
		return false
	}
	return true
}

func (p *Pipeline) rewrite(ctx context.Context, question string) (string, error) {
	prompt := fmt.Sprintf(rewritePrompt, question)

	rewritten, err := p.llm.Generate(ctx, []ai.Message{{Role: ai.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("rewrite question: %w", err)
	}
	return strings.TrimSpace(rewritten), nil
}

func (p *Pipeline) generate(ctx context.Context, question string, sources []document.Match, history []ai.Message, projectPrompt string) (string, error) {
	system := systemPrompt
	if strings.TrimSpace(projectPrompt) != "" {
		system = projectPrompt
	}

	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, ai.Message{
		Role:    ai.RoleUser,
		Content: fmt.Sprintf(generatePrompt, question, document.FormatForLLM(sources)),
	})

	answer, err := p.llm.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return answer, nil
}
