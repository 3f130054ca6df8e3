package service

import (
	"context"
	"fmt"
	"sync"

	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
	userservice "github.com/AlibekovAA/refresh-guard/internal/user/service"
)

type mockCredentialVerifier struct {
	verifyFunc func(ctx context.Context, username, password string) (userdomain.User, error)
}

func (m *mockCredentialVerifier) VerifyCredentials(ctx context.Context, username, password string) (userdomain.User, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, username, password)
	}
	if username == "testuser" && password == "password123" {
		return userdomain.User{ID: "1", Username: "testuser", Name: "Test User"}, nil
	}
	return userdomain.User{}, userservice.ErrInvalidCredentials
}

type mockCircuitBreaker struct {
	callFunc func(ctx context.Context, fn func(context.Context) error) error
}

func (m *mockCircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if m.callFunc != nil {
		return m.callFunc(ctx, fn)
	}
	return fn(ctx)
}

// sequenceIDGenerator hands out ids in order, then falls back to generated ones.
type sequenceIDGenerator struct {
	mu   sync.Mutex
	ids  []string
	next int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next < len(g.ids) {
		id := g.ids[g.next]
		g.next++
		return id, nil
	}
	g.next++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", g.next), nil
}
