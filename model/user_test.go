package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHasActivePremium(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	cases := []struct {
		name string
		user *User
		want bool
	}{
		{"nil user", nil, false},
		{"free user", &User{}, false},
		{"premium without expiry", &User{IsPremium: true}, true},
		{"premium expiring later", &User{IsPremium: true, PremiumExpiresAt: &future}, true},
		{"premium expired", &User{IsPremium: true, PremiumExpiresAt: &past}, false},
		{"premium expiring exactly now", &User{IsPremium: true, PremiumExpiresAt: &now}, false},
		{"expiry without flag", &User{PremiumExpiresAt: &future}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.user.HasActivePremium(now))
		})
	}
}

func TestHourBucket(t *testing.T) {
	loc := time.FixedZone("UTC+5:30", 5*3600+1800)
	in := time.Date(2026, 3, 1, 17, 47, 12, 999, loc)

	got := HourBucket(in)

	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), got)
}
