package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pixscaler/pixscaler-api/database/dbtest"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyticsTrack(t *testing.T) {
	db := dbtest.NewDB(t)
	svc := NewAnalyticsService(db, nil)
	ctx := context.Background()
	userID := uint(9)

	svc.Track(ctx, Event{Type: model.EventTypeLogin, UserID: &userID, IPAddress: "10.1.1.1"})
	svc.Track(ctx, Event{Type: model.EventTypeImageResize, Data: map[string]interface{}{"width": 100}})
	svc.Track(ctx, Event{Type: model.EventTypeImageResize})

	var stored model.AnalyticsEvent
	require.NoError(t, db.Where("event_type = ? AND data IS NOT NULL", model.EventTypeImageResize).First(&stored).Error)
	var data map[string]int
	require.NoError(t, json.Unmarshal(stored.Data, &data))
	assert.Equal(t, 100, data["width"])

	counts, err := svc.EventCounts(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.EventTypeLogin])
	assert.Equal(t, int64(2), counts[model.EventTypeImageResize])
}

func TestAnalyticsNilServiceIsNoop(t *testing.T) {
	var svc *AnalyticsService
	assert.NotPanics(t, func() {
		svc.Track(context.Background(), Event{Type: model.EventTypeRegister})
	})
}
