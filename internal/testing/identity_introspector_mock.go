/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testing

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/discoenv/go-authkit/idptoken"
)

type identityIntrospectionResult struct {
	identity idptoken.Identity
	err      error
}

// IdentityIntrospectorMock is an in-memory IdentityIntrospector that returns preset results per token.
// Unknown tokens are reported as not active.
type IdentityIntrospectorMock struct {
	mu      sync.RWMutex
	results map[string]identityIntrospectionResult

	called         atomic.Int64
	lastIntrospect atomic.Pointer[string]
}

func NewIdentityIntrospectorMock() *IdentityIntrospectorMock {
	return &IdentityIntrospectorMock{results: make(map[string]identityIntrospectionResult)}
}

func (m *IdentityIntrospectorMock) SetResultForToken(token string, identity idptoken.Identity, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[token] = identityIntrospectionResult{identity: identity, err: err}
}

func (m *IdentityIntrospectorMock) IntrospectIdentity(_ context.Context, token string) (idptoken.Identity, error) {
	m.called.Add(1)
	m.lastIntrospect.Store(&token)

	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.results[token]
	if !ok {
		return idptoken.Identity{Active: false}, nil
	}
	return result.identity, result.err
}

func (m *IdentityIntrospectorMock) Called() int64 {
	return m.called.Load()
}

func (m *IdentityIntrospectorMock) LastIntrospectedToken() string {
	if token := m.lastIntrospect.Load(); token != nil {
		return *token
	}
	return ""
}

func (m *IdentityIntrospectorMock) ResetCallsInfo() {
	m.called.Store(0)
	m.lastIntrospect.Store(nil)
}
