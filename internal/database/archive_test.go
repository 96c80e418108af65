package database

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/offer-scraper/internal/models"
)

type execCall struct {
	sql  string
	args []interface{}
}

type recordingExecer struct {
	calls  []execCall
	failOn string
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	r.calls = append(r.calls, execCall{sql: sql, args: args})
	if r.failOn != "" && strings.Contains(sql, r.failOn) {
		return pgconn.CommandTag{}, errors.New("constraint violation")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *recordingExecer) count(table string) int {
	n := 0
	for _, c := range r.calls {
		if strings.Contains(c.sql, "INSERT INTO "+table+" ") {
			n++
		}
	}
	return n
}

func testArchive() *Archive {
	return &Archive{
		outbox: &OutboxRepository{},
		stream: DefaultStream,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func finishedRun() *models.ScrapeResult {
	locales := []string{"ru", "en"}
	now := time.Now()
	return &models.ScrapeResult{
		RunID:      uuid.NewString(),
		Success:    true,
		State:      "done",
		ListingURL: "https://funpay.com/users/1/",
		Filter:     "dota",
		Records: []models.OfferRecord{
			models.NewOfferRecord("11", "https://funpay.com/lots/offer?id=11", locales, map[string]models.LocaleContent{
				"ru": {Title: "Аккаунт"},
			}, ""),
			models.NewOfferRecord("12", "https://funpay.com/lots/offer?id=12", locales, nil, "navigation timed out"),
		},
		Count:        2,
		FailedOffers: 1,
		FilePath:     "results/Parser_dota_2025-03-14.json",
		StartedAt:    now.Add(-time.Minute),
		FinishedAt:   now,
	}
}

func TestArchiveWritesRunOffersAndEvent(t *testing.T) {
	tx := &recordingExecer{}
	result := finishedRun()

	require.NoError(t, testArchive().write(context.Background(), tx, result))

	assert.Equal(t, 1, tx.count("scrape_run"))
	assert.Equal(t, 2, tx.count("offer_record"))
	assert.Equal(t, 1, tx.count("outbox_event"))

	offer := tx.calls[2]
	assert.Equal(t, 1, offer.args[1])
	assert.Equal(t, "12", offer.args[2])
	msg, ok := offer.args[5].(*string)
	require.True(t, ok)
	assert.Equal(t, "navigation timed out", *msg)

	event := tx.calls[3]
	assert.Equal(t, AggregateScrapeRun, event.args[1])
	assert.Equal(t, result.RunID, event.args[2])
	assert.Equal(t, EventScrapeRunCompleted, event.args[3])
	assert.Equal(t, DefaultStream, event.args[5])

	var payload runCompletedPayload
	require.NoError(t, json.Unmarshal(event.args[4].(json.RawMessage), &payload))
	assert.Equal(t, []string{"11", "12"}, payload.OfferIDs)
	assert.Equal(t, 1, payload.FailedOffers)
	assert.Equal(t, "dota", payload.Filter)
}

func TestArchiveStopsOnInsertFailure(t *testing.T) {
	tx := &recordingExecer{failOn: "offer_record"}

	err := testArchive().write(context.Background(), tx, finishedRun())
	assert.Error(t, err)
	assert.Zero(t, tx.count("outbox_event"))
}

func TestArchiveRejectsBadRunID(t *testing.T) {
	result := finishedRun()
	result.RunID = "not-a-uuid"

	err := testArchive().write(context.Background(), &recordingExecer{}, result)
	assert.Error(t, err)
}

func TestOutboxInsertValidation(t *testing.T) {
	repo := &OutboxRepository{}
	ctx := context.Background()

	tests := []struct {
		name  string
		event *OutboxEvent
	}{
		{"missing aggregate type", &OutboxEvent{EventType: EventScrapeRunCompleted, Payload: json.RawMessage(`{}`)}},
		{"missing event type", &OutboxEvent{AggregateType: AggregateScrapeRun, Payload: json.RawMessage(`{}`)}},
		{"missing payload", &OutboxEvent{AggregateType: AggregateScrapeRun, EventType: EventScrapeRunCompleted}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &recordingExecer{}
			assert.Error(t, repo.InsertWithTx(ctx, tx, tt.event))
			assert.Empty(t, tx.calls)
		})
	}
}

func TestOutboxInsertDefaults(t *testing.T) {
	tx := &recordingExecer{}
	event := &OutboxEvent{
		AggregateType: AggregateScrapeRun,
		AggregateID:   "run",
		EventType:     EventScrapeRunCompleted,
		Payload:       json.RawMessage(`{}`),
	}

	require.NoError(t, (&OutboxRepository{}).InsertWithTx(context.Background(), tx, event))

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, OutboxStatusPending, event.Status)
	assert.Equal(t, DefaultStream, event.TargetStream)
	assert.False(t, event.CreatedAt.IsZero())
	require.NotNil(t, event.NextRetryAt)
}

func TestRetryPlan(t *testing.T) {
	now := time.Now()

	status, next := retryPlan(1, now)
	assert.Equal(t, OutboxStatusFailed, status)
	assert.Equal(t, now.Add(2*time.Second), next)

	_, next = retryPlan(4, now)
	assert.Equal(t, now.Add(16*time.Second), next)

	status, _ = retryPlan(MaxRetryCount, now)
	assert.Equal(t, OutboxStatusDeadLetter, status)
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "u", Password: "p", Database: "offers"}
	assert.Equal(t, "postgres://u:p@db:5432/offers?sslmode=disable", cfg.DSN())
}
