package kards

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Home wraps the backend's root discovery document. The endpoint map is
// cached per instance and invalidated when the logged-in identity changes,
// so independent brokers in one process never share discovery state.
type Home struct {
	mu        sync.Mutex
	requester *Requester
	endpoints Endpoints
	currentID int
}

func NewHome(requester *Requester) *Home {
	return &Home{requester: requester}
}

// Info fetches the root document. Authenticated calls additionally resolve
// the my_-prefixed endpoints and the current user.
func (h *Home) Info(ctx context.Context, authenticated bool) (*HomeDocument, error) {
	logrus.Debugf("home info(authenticated=%v)", authenticated)
	var doc HomeDocument
	if err := h.requester.RequestJSON(ctx, "GET", "/", authenticated, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Endpoint resolves a named endpoint from the cached map, refreshing it on a
// miss. Names prefixed my_ require an authenticated root call.
func (h *Home) Endpoint(ctx context.Context, name string) (string, error) {
	logrus.Debugf("home endpoint(%s)", name)
	authenticated := strings.HasPrefix(strings.ToLower(name), "my_")

	h.mu.Lock()
	cached, ok := h.endpoints[name]
	h.mu.Unlock()
	if ok && cached != "" {
		return cached, nil
	}

	doc, err := h.Info(ctx, authenticated)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	h.endpoints = doc.Endpoints
	if doc.CurrentUser != nil {
		h.currentID = doc.CurrentUser.PlayerID
	}
	endpoint := h.endpoints[name]
	h.mu.Unlock()

	return endpoint, nil
}

// SessionEndpoint resolves the session login endpoint.
func (h *Home) SessionEndpoint(ctx context.Context) (string, error) {
	endpoint, err := h.Endpoint(ctx, "session")
	if err != nil {
		return "", err
	}
	if endpoint == "" {
		return "", ErrNoSessionEndpoint
	}
	return endpoint, nil
}

// Reset invalidates the cached endpoints. With all=false only the
// authenticated my_ entries and the cached identity are dropped; with
// all=true the whole map goes. Reports whether anything changed.
func (h *Home) Reset(all bool) bool {
	logrus.Debugf("home reset(all=%v)", all)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.endpoints == nil && h.currentID == 0 {
		return false
	}

	changed := false
	if h.currentID != 0 {
		h.currentID = 0
		changed = true
	}
	if all {
		h.endpoints = nil
		return true
	}
	for name := range h.endpoints {
		if strings.HasPrefix(name, "my_") {
			delete(h.endpoints, name)
			changed = true
		}
	}
	return changed
}

// ResetIfNew drops cached state when the bound session's identity no longer
// matches the one the cache was built for.
func (h *Home) ResetIfNew(ctx context.Context) (bool, error) {
	session := h.requester.session
	if session == nil {
		return h.Reset(false), nil
	}

	playerID, err := session.GetPlayerID(ctx)
	if err != nil {
		return false, err
	}

	h.mu.Lock()
	same := playerID == h.currentID
	h.mu.Unlock()
	if same {
		return false, nil
	}
	return h.Reset(false), nil
}
