// Package council orchestrates the three providers: it fans a message out to
// all of them, synthesizes or lists their answers, and runs debate rounds.
package council

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nomadeum/nomadeum/internal/domain"
	"github.com/nomadeum/nomadeum/internal/metrics"
	"github.com/nomadeum/nomadeum/internal/provider"
	"github.com/nomadeum/nomadeum/internal/store"
	"github.com/nomadeum/nomadeum/internal/transcript"
)

// Synthesizer is the provider that merges answers in unified mode.
const Synthesizer = domain.SourceClaude

// SendRequest is one user turn.
type SendRequest struct {
	// Mode overrides the conversation's mode when set.
	Mode domain.Mode
	// Target overrides the selected provider for individual mode when set.
	Target      domain.Source
	Message     string
	Attachments []domain.Attachment
}

// Settings updates the conversation's toggles. Empty fields are left unchanged.
type Settings struct {
	Mode       domain.Mode
	SelectedAI domain.Source
}

// State is a conversation together with its messages.
type State struct {
	Conversation *domain.Conversation `json:"conversation"`
	Messages     []domain.Message     `json:"messages"`
}

// TurnResult reports what a turn recorded.
type TurnResult struct {
	Conversation *domain.Conversation `json:"conversation"`
	Messages     []domain.Message     `json:"messages"`
	// Failed is set when the providers failed and the generic error notice was recorded.
	Failed bool `json:"failed"`
}

// Service runs chat turns against the providers and persists the results.
type Service struct {
	caller provider.Caller
	repo   store.Repository
	log    transcript.Logger

	now   func() time.Time
	newID func() string

	mu   sync.Mutex
	busy map[domain.Key]struct{}
}

// NewService creates an orchestration service.
func NewService(caller provider.Caller, repo store.Repository, log transcript.Logger) *Service {
	if log == nil {
		log = transcript.Noop()
	}
	return &Service{
		caller: caller,
		repo:   repo,
		log:    log,
		now:    time.Now,
		newID:  uuid.NewString,
		busy:   make(map[domain.Key]struct{}),
	}
}

// Providers returns the selectable providers in fan-out order.
func (s *Service) Providers() []domain.Source {
	out := make([]domain.Source, len(domain.Providers))
	copy(out, domain.Providers)
	return out
}

// acquire marks the conversation as loading. Only one turn may run per conversation.
func (s *Service) acquire(key domain.Key) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.busy[key]; ok {
		return nil, domain.ErrBusy
	}
	s.busy[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.busy, key)
		s.mu.Unlock()
	}, nil
}

func (s *Service) loadOrCreate(ctx context.Context, key domain.Key) (*domain.Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, key.UserID, key.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv != nil {
		return conv, nil
	}

	now := s.now()
	conv = &domain.Conversation{
		ID:         s.newID(),
		UserID:     key.UserID,
		SessionID:  key.SessionID,
		Mode:       domain.DefaultMode,
		SelectedAI: domain.SourceClaude,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.UpsertConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) save(ctx context.Context, conv *domain.Conversation) error {
	conv.UpdatedAt = s.now()
	if err := s.repo.UpsertConversation(ctx, conv); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// Conversation returns the tab's conversation, creating an empty one if needed.
func (s *Service) Conversation(ctx context.Context, key domain.Key) (*State, error) {
	conv, err := s.loadOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return &State{Conversation: conv, Messages: msgs}, nil
}

// UpdateSettings changes the mode and/or the provider used by individual mode.
// It fails with domain.ErrBusy while a turn is running.
func (s *Service) UpdateSettings(ctx context.Context, key domain.Key, settings Settings) (*domain.Conversation, error) {
	if settings.Mode != "" {
		if _, err := domain.ParseMode(string(settings.Mode)); err != nil {
			return nil, err
		}
	}
	if settings.SelectedAI != "" && !settings.SelectedAI.IsProvider() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, settings.SelectedAI)
	}

	release, err := s.acquire(key)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, err := s.loadOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	if settings.Mode != "" {
		conv.Mode = settings.Mode
	}
	if settings.SelectedAI != "" {
		conv.SelectedAI = settings.SelectedAI
	}
	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Reset discards the tab's conversation.
func (s *Service) Reset(ctx context.Context, key domain.Key) error {
	release, err := s.acquire(key)
	if err != nil {
		return err
	}
	defer release()

	conv, err := s.repo.GetConversation(ctx, key.UserID, key.SessionID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil
	}
	if err := s.repo.DeleteConversation(ctx, conv.ID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	slog.Info("Conversation reset", "user_id", key.UserID, "session_id", key.SessionID, "conversation_id", conv.ID)
	return nil
}

// Send records the user's message and answers it according to the mode.
// Provider failures are not returned: they are recorded as a single error
// notice and reported through TurnResult.Failed.
func (s *Service) Send(ctx context.Context, key domain.Key, req SendRequest, obs Observer) (*TurnResult, error) {
	if obs == nil {
		obs = noopObserver{}
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, domain.ErrEmptyMessage
	}
	if req.Mode != "" {
		if _, err := domain.ParseMode(string(req.Mode)); err != nil {
			return nil, err
		}
	}
	if req.Target != "" && !req.Target.IsProvider() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, req.Target)
	}

	release, err := s.acquire(key)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, err := s.loadOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	if req.Mode != "" {
		conv.Mode = req.Mode
	}
	if req.Target != "" {
		conv.SelectedAI = req.Target
	}

	history, err := s.repo.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	result := &TurnResult{Conversation: conv}

	userMsg := s.message(conv, domain.RoleUser, "", req.Message)
	conv.DebateOpen = false
	if err := s.record(ctx, conv, obs, result, userMsg); err != nil {
		return nil, err
	}

	slog.Info("Chat turn started",
		"user_id", key.UserID,
		"session_id", key.SessionID,
		"conversation_id", conv.ID,
		"mode", conv.Mode,
		"message_length", len(req.Message),
		"attachments", len(req.Attachments),
	)

	replies, turnErr := s.answer(ctx, conv, req, history, obs)
	if turnErr != nil {
		slog.Error("Chat turn failed", "error", turnErr, "conversation_id", conv.ID, "mode", conv.Mode)
		metrics.TurnsTotal.WithLabelValues(string(conv.Mode), "error").Inc()
		result.Failed = true
		replies = []domain.Message{s.message(conv, domain.RoleAssistant, domain.SourceError, ErrorNotice)}
	} else {
		metrics.TurnsTotal.WithLabelValues(string(conv.Mode), "ok").Inc()
		conv.DebateOpen = conv.Mode == domain.ModeDebate
	}

	// The outcome is recorded even if the client went away mid-turn.
	if err := s.record(context.WithoutCancel(ctx), conv, obs, result, replies...); err != nil {
		return nil, err
	}
	return result, nil
}

// answer produces the assistant messages for one turn.
func (s *Service) answer(ctx context.Context, conv *domain.Conversation, req SendRequest, history []domain.Message, obs Observer) ([]domain.Message, error) {
	switch conv.Mode {
	case domain.ModeUnified:
		answers, err := s.fanOut(ctx, samePrompt(req.Message), history, req.Attachments, obs)
		if err != nil {
			return nil, err
		}
		unified, err := s.caller.Call(ctx, provider.Request{
			Provider: Synthesizer,
			Message:  SynthesisPrompt(req.Message, answers),
			History:  history,
		})
		if err != nil {
			return nil, fmt.Errorf("synthesize: %w", err)
		}
		obs.ProviderAnswered(domain.SourceNomadeum)
		return []domain.Message{s.message(conv, domain.RoleAssistant, domain.SourceNomadeum, unified)}, nil

	case domain.ModeDebate:
		answers, err := s.fanOut(ctx, samePrompt(req.Message), history, req.Attachments, obs)
		if err != nil {
			return nil, err
		}
		return s.providerMessages(conv, answers), nil

	case domain.ModeIndividual:
		target := conv.SelectedAI
		if !target.IsProvider() {
			target = domain.SourceClaude
		}
		text, err := s.caller.Call(ctx, provider.Request{
			Provider:    target,
			Message:     req.Message,
			History:     history,
			Attachments: req.Attachments,
		})
		if err != nil {
			return nil, err
		}
		obs.ProviderAnswered(target)
		return []domain.Message{s.message(conv, domain.RoleAssistant, target, text)}, nil
	}

	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMode, conv.Mode)
}

// ContinueDebate runs one rebuttal round in which every provider answers
// the latest statements of the other two.
func (s *Service) ContinueDebate(ctx context.Context, key domain.Key, obs Observer) (*TurnResult, error) {
	if obs == nil {
		obs = noopObserver{}
	}

	release, err := s.acquire(key)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, err := s.repo.GetConversation(ctx, key.UserID, key.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil || !conv.DebateOpen {
		return nil, domain.ErrNoDebate
	}

	history, err := s.repo.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	conv.DebateOpen = false
	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}

	last := domain.Tail(history, 3)
	previous := Answers{}
	for _, p := range domain.Providers {
		previous[p] = domain.LastFrom(last, p)
	}
	prompts := make(map[domain.Source]string, len(domain.Providers))
	for _, p := range domain.Providers {
		prompts[p] = RebuttalPrompt(p, previous)
	}

	answers, err := s.fanOut(ctx, prompts, history, nil, obs)
	if err != nil {
		slog.Error("Debate round failed", "error", err, "conversation_id", conv.ID)
		metrics.TurnsTotal.WithLabelValues("debate_continue", "error").Inc()
		return nil, err
	}
	metrics.TurnsTotal.WithLabelValues("debate_continue", "ok").Inc()

	result := &TurnResult{Conversation: conv}
	conv.DebateOpen = true
	if err := s.record(context.WithoutCancel(ctx), conv, obs, result, s.providerMessages(conv, answers)...); err != nil {
		return nil, err
	}
	return result, nil
}

// fanOut calls every provider concurrently and waits for all of them.
// The first failure cancels the remaining calls.
func (s *Service) fanOut(ctx context.Context, prompts map[domain.Source]string, history []domain.Message, attachments []domain.Attachment, obs Observer) (Answers, error) {
	results := make([]string, len(domain.Providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range domain.Providers {
		g.Go(func() error {
			text, err := s.caller.Call(gctx, provider.Request{
				Provider:    p,
				Message:     prompts[p],
				History:     history,
				Attachments: attachments,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			results[i] = text
			obs.ProviderAnswered(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrProviderFailure, err)
	}

	answers := make(Answers, len(results))
	for i, p := range domain.Providers {
		answers[p] = results[i]
	}
	return answers, nil
}

func samePrompt(message string) map[domain.Source]string {
	prompts := make(map[domain.Source]string, len(domain.Providers))
	for _, p := range domain.Providers {
		prompts[p] = message
	}
	return prompts
}

func (s *Service) providerMessages(conv *domain.Conversation, answers Answers) []domain.Message {
	msgs := make([]domain.Message, 0, len(domain.Providers))
	for _, p := range domain.Providers {
		msgs = append(msgs, s.message(conv, domain.RoleAssistant, p, answers[p]))
	}
	return msgs
}

func (s *Service) message(conv *domain.Conversation, role domain.Role, source domain.Source, content string) domain.Message {
	return domain.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		Role:           role,
		Content:        content,
		Source:         source,
		CreatedAt:      s.now(),
	}
}

// record persists msgs, saves the conversation and notifies obs and the transcript.
func (s *Service) record(ctx context.Context, conv *domain.Conversation, obs Observer, result *TurnResult, msgs ...domain.Message) error {
	if err := s.repo.AppendMessages(ctx, conv.ID, msgs...); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	if err := s.save(ctx, conv); err != nil {
		return err
	}
	for _, m := range msgs {
		result.Messages = append(result.Messages, m)
		obs.MessageRecorded(m)
		s.log.Log(transcript.Event{
			Timestamp:      m.CreatedAt.UTC().Format(time.RFC3339Nano),
			UserID:         conv.UserID,
			SessionID:      conv.SessionID,
			ConversationID: conv.ID,
			Mode:           string(conv.Mode),
			Role:           string(m.Role),
			Source:         string(m.Source),
			Content:        m.Content,
		})
	}
	return nil
}

// IsClientError reports whether err was caused by the request rather than the service.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrEmptyMessage) ||
		errors.Is(err, domain.ErrUnknownMode) ||
		errors.Is(err, domain.ErrUnknownProvider)
}
