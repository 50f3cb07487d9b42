package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"blockpulse/internal/models"
)

// MemoryStore is a process-local Store used for local development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	alerts   map[string]*models.Alert
	failures []*models.EmailFailure
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*models.Alert)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateAlert(_ context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.alerts {
		if existing.UserID == alert.UserID && existing.SymbolID == alert.SymbolID {
			return ErrAlertExists
		}
	}
	if _, ok := s.alerts[alert.ID]; ok {
		return ErrAlertExists
	}
	s.alerts[alert.ID] = cloneAlert(alert)
	return nil
}

func (s *MemoryStore) GetAlertByID(_ context.Context, id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return cloneAlert(alert), nil
}

func (s *MemoryStore) GetAlertByUserAndSymbol(_ context.Context, userID, symbolID string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, alert := range s.alerts {
		if alert.UserID == userID && alert.SymbolID == symbolID {
			return cloneAlert(alert), nil
		}
	}
	return nil, ErrAlertNotFound
}

func (s *MemoryStore) GetAlertsByUserID(_ context.Context, userID string) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var alerts []*models.Alert
	for _, alert := range s.alerts {
		if alert.UserID == userID {
			alerts = append(alerts, cloneAlert(alert))
		}
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	return alerts, nil
}

func (s *MemoryStore) GetAllAlerts(_ context.Context) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]*models.Alert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		alerts = append(alerts, cloneAlert(alert))
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].ID < alerts[j].ID
		}
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})
	return alerts, nil
}

func (s *MemoryStore) UpdateAlert(_ context.Context, id string, update AlertUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	update.Apply(alert)
	return nil
}

func (s *MemoryStore) TouchAlert(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	alert.UpdatedAt = &at
	return nil
}

func (s *MemoryStore) DeleteAlert(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[id]; !ok {
		return ErrAlertNotFound
	}
	delete(s.alerts, id)
	return nil
}

func (s *MemoryStore) InsertEmailFailure(_ context.Context, failure *models.EmailFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := *failure
	s.failures = append(s.failures, &f)
	return nil
}

// EmailFailures returns a snapshot of the recorded failures.
func (s *MemoryStore) EmailFailures() []*models.EmailFailure {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.EmailFailure, len(s.failures))
	for i, f := range s.failures {
		c := *f
		out[i] = &c
	}
	return out
}

func cloneAlert(a *models.Alert) *models.Alert {
	c := *a
	if a.UpdatedAt != nil {
		at := *a.UpdatedAt
		c.UpdatedAt = &at
	}
	return &c
}
