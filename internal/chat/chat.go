// Package chat implements the assistant conversation flow: retrieve
// relevant historical cases, assemble them into a single system message,
// and generate a grounded answer with optional streaming.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/caselight/caselight/internal/retrieval"
	"github.com/caselight/caselight/internal/session"
)

const (
	// DefaultContextLimit is how many retrieved cases go into the prompt
	// when not configured.
	DefaultContextLimit int32 = 3

	// fallbackAnswer is returned when the model produces an empty response.
	fallbackAnswer = "抱歉,我暂时无法回答这个问题,请稍后再试或换个说法。"

	// systemPersona is the base instruction prepended to every request.
	// Retrieved case context, when present, is appended to this message so
	// the model always sees exactly one system message.
	systemPersona = "你是一位专业的客服助手。请根据历史客服案例回答用户的问题,语气简洁友好。" +
		"如果历史案例中没有相关信息,请如实说明并给出一般性建议,不要编造案例内容。"

	titleGenerationTimeout = 5 * time.Second
	titleMaxRunes          = 50
)

var titlePrompt = `根据用户的第一条消息,为这次会话生成一个简短的标题(不超过` +
	fmt.Sprint(titleMaxRunes) + `个字)。只返回标题本身,不要引号,不要解释。

消息: %s

标题:`

// SessionStore is the slice of session persistence the chat flow needs.
type SessionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	Messages(ctx context.Context, sessionID uuid.UUID) ([]session.Message, error)
	AddMessage(ctx context.Context, sessionID uuid.UUID, role, content string) (*session.Message, error)
	Rename(ctx context.Context, id uuid.UUID, title string) error
}

// FragmentFunc receives one streamed answer fragment. Returning an error
// aborts the stream.
type FragmentFunc func(fragment string) error

// Config carries the chat service dependencies.
type Config struct {
	Genkit   *genkit.Genkit
	Searcher retrieval.Searcher
	Sessions SessionStore
	Logger   *slog.Logger

	// ModelName is the provider-qualified model, e.g. "googleai/gemini-2.5-flash".
	ModelName string

	// ContextLimit caps retrieved cases per request (0 = default).
	ContextLimit int32
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Searcher == nil {
		return errors.New("searcher is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Service runs retrieval-grounded chat. Stateless per request; safe for
// concurrent use.
type Service struct {
	g            *genkit.Genkit
	searcher     retrieval.Searcher
	sessions     SessionStore
	logger       *slog.Logger
	modelName    string
	contextLimit int32

	// generate is swapped out in tests.
	generate func(ctx context.Context, messages []*ai.Message, stream ai.ModelStreamCallback) (*ai.ModelResponse, error)
}

// New creates a chat service from required configuration.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit := cfg.ContextLimit
	if limit <= 0 {
		limit = DefaultContextLimit
	}

	s := &Service{
		g:            cfg.Genkit,
		searcher:     cfg.Searcher,
		sessions:     cfg.Sessions,
		logger:       logger,
		modelName:    cfg.ModelName,
		contextLimit: limit,
	}
	s.generate = func(ctx context.Context, messages []*ai.Message, stream ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		opts := []ai.GenerateOption{
			ai.WithMessages(messages...),
			ai.WithModelName(s.modelName),
		}
		if stream != nil {
			opts = append(opts, ai.WithStreaming(stream))
		}
		return genkit.Generate(ctx, s.g, opts...)
	}

	logger.Info("chat service initialized", "model", cfg.ModelName, "context_limit", limit)
	return s, nil
}

// Answer generates one grounded answer for question given prior history.
// The history slice is never mutated. Retrieval failures fail the request;
// the stores already classify their own benign empty states (no keywords,
// unindexed database) as empty results rather than errors.
func (s *Service) Answer(ctx context.Context, history []*ai.Message, question string) (string, error) {
	return s.answer(ctx, history, question, nil)
}

// AnswerStream generates an answer while forwarding fragments to onFragment
// in generation order. The returned string is the complete answer.
func (s *Service) AnswerStream(ctx context.Context, history []*ai.Message, question string, onFragment FragmentFunc) (string, error) {
	return s.answer(ctx, history, question, onFragment)
}

func (s *Service) answer(ctx context.Context, history []*ai.Message, question string, onFragment FragmentFunc) (string, error) {
	messages, err := s.buildMessages(ctx, history, question)
	if err != nil {
		return "", err
	}

	var stream ai.ModelStreamCallback
	if onFragment != nil {
		stream = func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return onFragment(chunk.Text())
		}
	}

	resp, err := s.generate(ctx, messages, stream)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		s.logger.Warn("model returned empty answer")
		text = fallbackAnswer
		if onFragment != nil {
			if err := onFragment(text); err != nil {
				return "", err
			}
		}
	}
	return text, nil
}

// buildMessages assembles the prompt: one system message (persona plus any
// retrieved case context), the prior transcript, then the new question.
func (s *Service) buildMessages(ctx context.Context, history []*ai.Message, question string) ([]*ai.Message, error) {
	matches, err := s.searcher.SearchRelevant(ctx, question, s.contextLimit)
	if err != nil {
		return nil, fmt.Errorf("retrieving cases: %w", err)
	}
	s.logger.Debug("retrieved cases", "count", len(matches))

	system := systemPersona
	if cases := retrieval.FormatContext(matches); cases != "" {
		system += "\n\n" + cases
	}

	messages := make([]*ai.Message, 0, len(history)+2)
	messages = append(messages, ai.NewSystemMessage(ai.NewTextPart(system)))
	messages = append(messages, history...)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(question)))
	return messages, nil
}

// Send runs one full exchange against a stored session: persist the user
// message, answer with the session transcript as history, persist the
// assistant message. Returns the assistant message.
func (s *Service) Send(ctx context.Context, sessionID uuid.UUID, question string) (*session.Message, error) {
	return s.SendStream(ctx, sessionID, question, nil)
}

// SendStream is Send with fragment streaming. onFragment may be nil.
func (s *Service) SendStream(ctx context.Context, sessionID uuid.UUID, question string, onFragment FragmentFunc) (*session.Message, error) {
	transcript, err := s.sessions.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.AddMessage(ctx, sessionID, session.RoleUser, question); err != nil {
		return nil, err
	}

	answer, err := s.answer(ctx, toAIMessages(transcript), question, onFragment)
	if err != nil {
		return nil, err
	}

	msg, err := s.sessions.AddMessage(ctx, sessionID, session.RoleAssistant, answer)
	if err != nil {
		return nil, err
	}

	if len(transcript) == 0 {
		s.maybeEntitle(ctx, sessionID, question)
	}

	return msg, nil
}

// maybeEntitle sets a title on a session's first exchange if it has none.
// Best-effort: failures are logged, never surfaced.
func (s *Service) maybeEntitle(ctx context.Context, sessionID uuid.UUID, question string) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil || sess.Title != "" {
		return
	}

	title := s.GenerateTitle(ctx, question)
	if title == "" {
		return
	}
	if err := s.sessions.Rename(ctx, sessionID, title); err != nil {
		s.logger.Debug("setting session title", "error", err)
	}
}

// GenerateTitle produces a short session title from the first user message.
// Falls back to truncating the message when generation fails.
func (s *Service) GenerateTitle(ctx context.Context, firstMessage string) string {
	ctx, cancel := context.WithTimeout(ctx, titleGenerationTimeout)
	defer cancel()

	prompt := ai.NewUserMessage(ai.NewTextPart(fmt.Sprintf(titlePrompt, firstMessage)))
	resp, err := s.generate(ctx, []*ai.Message{prompt}, nil)
	if err == nil {
		if title := clampTitle(resp.Text()); title != "" {
			return title
		}
	} else {
		s.logger.Debug("title generation failed, truncating message", "error", err)
	}

	return clampTitle(firstMessage)
}

func clampTitle(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes])
	}
	return s
}

// toAIMessages converts a stored transcript into model messages.
func toAIMessages(transcript []session.Message) []*ai.Message {
	if len(transcript) == 0 {
		return nil
	}

	out := make([]*ai.Message, len(transcript))
	for i, m := range transcript {
		if m.Role == session.RoleUser {
			out[i] = ai.NewUserMessage(ai.NewTextPart(m.Content))
		} else {
			out[i] = ai.NewModelMessage(ai.NewTextPart(m.Content))
		}
	}
	return out
}
