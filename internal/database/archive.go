package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/offer-scraper/internal/models"
)

// Archive stores finished runs with their offers and queues a
// SCRAPE_RUN_COMPLETED event for the relay, all in one transaction.
type Archive struct {
	db     *DB
	outbox *OutboxRepository
	stream string
	logger *slog.Logger
}

func NewArchive(db *DB, stream string, logger *slog.Logger) *Archive {
	if stream == "" {
		stream = DefaultStream
	}
	return &Archive{
		db:     db,
		outbox: NewOutboxRepository(db),
		stream: stream,
		logger: logger.With("component", "archive"),
	}
}

type runCompletedPayload struct {
	RunID               string    `json:"run_id"`
	ListingURL          string    `json:"listing_url"`
	Filter              string    `json:"filter"`
	Success             bool      `json:"success"`
	Count               int       `json:"count"`
	FailedOffers        int       `json:"failed_offers"`
	FilePath            string    `json:"file_path,omitempty"`
	OfferIDs            []string  `json:"offer_ids"`
	AvailableCategories []string  `json:"available_categories,omitempty"`
	FinishedAt          time.Time `json:"finished_at"`
}

func (a *Archive) ArchiveRun(ctx context.Context, result *models.ScrapeResult) error {
	err := a.db.WithTx(ctx, func(tx pgx.Tx) error {
		return a.write(ctx, tx, result)
	})
	if err != nil {
		return err
	}
	a.logger.Info("run archived", "run_id", result.RunID, "offers", len(result.Records))
	return nil
}

func (a *Archive) write(ctx context.Context, tx Execer, result *models.ScrapeResult) error {
	runID, err := uuid.Parse(result.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", result.RunID, err)
	}

	var errCode, errMessage *string
	if result.Error != nil {
		errCode, errMessage = &result.Error.Code, &result.Error.Message
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO scrape_run (
			id, listing_url, filter, success, state, offer_count,
			failed_offers, file_path, error_code, error_message,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		runID, result.ListingURL, result.Filter, result.Success, result.State, result.Count,
		result.FailedOffers, nullable(result.FilePath), errCode, errMessage,
		result.StartedAt, result.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	offerIDs := make([]string, 0, len(result.Records))
	for i, rec := range result.Records {
		content, err := json.Marshal(rec.Content)
		if err != nil {
			return fmt.Errorf("failed to encode offer %s: %w", rec.OfferID, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO offer_record (run_id, position, offer_id, link, content, error)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			runID, i, rec.OfferID, rec.Link, content, nullable(rec.Error),
		); err != nil {
			return fmt.Errorf("failed to insert offer %s: %w", rec.OfferID, err)
		}
		offerIDs = append(offerIDs, rec.OfferID)
	}

	payload, err := json.Marshal(runCompletedPayload{
		RunID:               result.RunID,
		ListingURL:          result.ListingURL,
		Filter:              result.Filter,
		Success:             result.Success,
		Count:               result.Count,
		FailedOffers:        result.FailedOffers,
		FilePath:            result.FilePath,
		OfferIDs:            offerIDs,
		AvailableCategories: result.AvailableCategories,
		FinishedAt:          result.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	return a.outbox.InsertWithTx(ctx, tx, &OutboxEvent{
		AggregateType: AggregateScrapeRun,
		AggregateID:   result.RunID,
		EventType:     EventScrapeRunCompleted,
		Payload:       payload,
		TargetStream:  a.stream,
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
