package authn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser_DisplayName(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]any
		want     string
	}{
		{"full_name preferred", map[string]any{"full_name": "Asha Rao", "name": "Asha"}, "Asha Rao"},
		{"name as fallback", map[string]any{"name": "Asha"}, "Asha"},
		{"empty strings skipped", map[string]any{"full_name": "", "name": ""}, "User"},
		{"non-string values skipped", map[string]any{"full_name": 1, "name": true}, "User"},
		{"nil metadata", nil, "User"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{Metadata: tt.metadata}
			assert.Equal(t, tt.want, u.DisplayName())
		})
	}
}

func TestUser_Confirmed(t *testing.T) {
	t.Run("nil timestamp means unconfirmed", func(t *testing.T) {
		u := &User{}
		assert.False(t, u.Confirmed())
	})

	t.Run("zero timestamp means unconfirmed", func(t *testing.T) {
		zero := time.Time{}
		u := &User{EmailConfirmedAt: &zero}
		assert.False(t, u.Confirmed())
	})

	t.Run("set timestamp means confirmed", func(t *testing.T) {
		now := time.Now()
		u := &User{EmailConfirmedAt: &now}
		assert.True(t, u.Confirmed())
	})
}
