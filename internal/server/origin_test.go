package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/javelin/internal/logger"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "", true},
		{"browser origin not configured", nil, "http://evil.example", false},
		{"configured origin", []string{"https://Game.Example"}, "https://game.example", true},
		{"other origin", []string{"https://game.example"}, "https://evil.example", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"invalid configured entry ignored", []string{"not-a-url"}, "not-a-url", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newOriginPolicy(tt.allowed, logger.Discard())
			req := httptest.NewRequest("GET", "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.check(req))
		})
	}
}
