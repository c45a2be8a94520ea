package cron

import (
	"context"
	"fmt"
	"time"
)

// CleanupTokenBlacklist removes revoked tokens that have expired anyway.
func (m *CronManager) CleanupTokenBlacklist(ctx context.Context) (string, map[string]interface{}, error) {
	if m.tokens == nil {
		return "token cleanup not configured", nil, nil
	}

	removed, err := m.tokens.CleanupExpiredTokens(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("cleanup blacklist: %w", err)
	}

	return fmt.Sprintf("removed %d expired blacklist entries", removed),
		map[string]interface{}{"removed": removed}, nil
}

// PurgeUsageRecords deletes usage buckets older than the retention period.
func (m *CronManager) PurgeUsageRecords(ctx context.Context) (string, map[string]interface{}, error) {
	if m.usage == nil || m.options.UsageRetentionDays <= 0 {
		return "usage retention disabled", nil, nil
	}

	cutoff := m.clock.Now().UTC().Add(-time.Duration(m.options.UsageRetentionDays) * 24 * time.Hour)
	removed, err := m.usage.PurgeBefore(ctx, cutoff)
	if err != nil {
		return "", nil, fmt.Errorf("purge usage: %w", err)
	}

	return fmt.Sprintf("purged %d usage buckets before %s", removed, cutoff.Format(time.RFC3339)),
		map[string]interface{}{"removed": removed, "cutoff": cutoff.Format(time.RFC3339)}, nil
}
