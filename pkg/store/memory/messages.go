package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

func (s *Store) CountActiveMessages(_ context.Context, customerID uuid.UUID, channel models.Channel, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.messages {
		effective := m.ChannelPlanned
		if m.ChannelFinal != nil {
			effective = *m.ChannelFinal
		}
		if m.CustomerID == customerID && effective == channel &&
			!m.CreatedAt.Before(since) && m.Status.CountsTowardCap() {
			count++
		}
	}
	return count, nil
}

func (s *Store) HasOpenMessage(_ context.Context, customerID, ruleID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages {
		if m.CustomerID == customerID && m.RuleID != nil && *m.RuleID == ruleID && m.Status.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) InsertScheduledMessage(_ context.Context, msg *models.ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	now := s.now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	stored := *msg
	s.messages[msg.ID] = &stored
	return nil
}

func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (*models.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("message", id.String())
	}
	out := *m
	return &out, nil
}

func (s *Store) GetMessageByProviderID(_ context.Context, providerMessageID string) (*models.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages {
		if m.ProviderMessageID != nil && *m.ProviderMessageID == providerMessageID {
			out := *m
			return &out, nil
		}
	}
	return nil, apperrors.NewNotFoundError("message", providerMessageID)
}

func (s *Store) ListMessages(_ context.Context, filter models.MessageFilter) ([]models.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ScheduledMessage
	for _, m := range s.messages {
		if m.RestaurantID != filter.RestaurantID {
			continue
		}
		if filter.Status != nil && m.Status != *filter.Status {
			continue
		}
		if filter.CustomerID != nil && m.CustomerID != *filter.CustomerID {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.After(out[j].ScheduledFor) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListDueMessages(_ context.Context, now time.Time, limit int) ([]models.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ScheduledMessage
	for _, m := range s.messages {
		if m.Status == models.MessageStatusPlanned && !m.ScheduledFor.After(now) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListStaleProcessing(_ context.Context, claimedBefore time.Time, limit int) ([]models.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ScheduledMessage
	for _, m := range s.messages {
		if m.Status == models.MessageStatusProcessing && m.ClaimedAt != nil && m.ClaimedAt.Before(claimedBefore) {
			out = append(out, *m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateMessageStatus applies t only while the message is still in t.From.
func (s *Store) UpdateMessageStatus(ctx context.Context, id uuid.UUID, t models.Transition) (*models.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("message", id.String())
	}
	if m.Status != t.From {
		return nil, apperrors.NewRaceLostError(id.String(), string(t.From))
	}
	if t.At.IsZero() {
		t.At = s.now()
	}
	prev := *m
	record(ctx, func() { *m = prev })
	m.Apply(t)
	out := *m
	return &out, nil
}

func (s *Store) RescheduleMessage(_ context.Context, id uuid.UUID, scheduledFor time.Time) error {
	return s.updatePlanned(id, func(m *models.ScheduledMessage) {
		m.ScheduledFor = scheduledFor
	})
}

func (s *Store) EditMessageContent(_ context.Context, id uuid.UUID, content string) error {
	return s.updatePlanned(id, func(m *models.ScheduledMessage) {
		m.ContentRendered = content
	})
}

func (s *Store) updatePlanned(id uuid.UUID, fn func(*models.ScheduledMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return apperrors.NewNotFoundError("message", id.String())
	}
	if m.Status != models.MessageStatusPlanned {
		return apperrors.NewRaceLostError(id.String(), string(models.MessageStatusPlanned))
	}
	fn(m)
	m.UpdatedAt = s.now()
	return nil
}

// AppendInteractionLog records entry unless the same (provider_message_id,
// event_type) pair was already seen, in which case it reports false.
func (s *Store) AppendInteractionLog(ctx context.Context, entry *models.InteractionLog) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key *interactionKey
	if entry.ProviderMessageID != nil {
		key = &interactionKey{*entry.ProviderMessageID, entry.EventType}
		if _, dup := s.seen[*key]; dup {
			return false, nil
		}
		s.seen[*key] = struct{}{}
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = s.now()
	s.interactions = append(s.interactions, *entry)

	id := entry.ID
	record(ctx, func() {
		if key != nil {
			delete(s.seen, *key)
		}
		for i := range s.interactions {
			if s.interactions[i].ID == id {
				s.interactions = append(s.interactions[:i], s.interactions[i+1:]...)
				break
			}
		}
	})
	return true, nil
}

// InteractionLogs returns a copy of every appended entry.
func (s *Store) InteractionLogs() []models.InteractionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.InteractionLog(nil), s.interactions...)
}
