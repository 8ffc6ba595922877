package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stickerpack/internal/domain"
	"stickerpack/internal/infra"
	"stickerpack/internal/sqlinline"
)

// StickerRepositoryPG implements domain.StickerRepository.
type StickerRepositoryPG struct {
	db infra.SQLExecutor
}

func NewStickerRepository(db infra.SQLExecutor) *StickerRepositoryPG {
	return &StickerRepositoryPG{db: db}
}

func (r *StickerRepositoryPG) ListByJob(ctx context.Context, jobID string) ([]domain.Sticker, error) {
	if !validID(jobID) {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, sqlinline.QSelectJobStickers, jobID)
	if err != nil {
		return nil, fmt.Errorf("select stickers: %w", err)
	}
	defer rows.Close()
	var out []domain.Sticker
	for rows.Next() {
		s, err := scanSticker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sticker: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *StickerRepositoryPG) Get(ctx context.Context, jobID string, emotion domain.Emotion) (*domain.Sticker, error) {
	s, err := scanSticker(r.db.QueryRow(ctx, sqlinline.QSelectSticker, jobID, string(emotion)))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select sticker: %w", err)
	}
	return s, nil
}

func (r *StickerRepositoryPG) SavePipeline(ctx context.Context, jobID string, emotion domain.Emotion, pipeline domain.Pipeline, attempts int) error {
	payload, err := json.Marshal(pipeline)
	if err != nil {
		return fmt.Errorf("encode pipeline: %w", err)
	}
	if _, err := r.db.Exec(ctx, sqlinline.QUpsertStickerPipeline, jobID, string(emotion), payload, attempts); err != nil {
		return fmt.Errorf("save sticker pipeline: %w", err)
	}
	return nil
}

func (r *StickerRepositoryPG) MarkReady(ctx context.Context, jobID string, emotion domain.Emotion, imageURL, thumbnailURL string) error {
	if imageURL == "" || domain.IsProgressMarker(imageURL) {
		return fmt.Errorf("mark sticker ready: %w", domain.ErrInvalidInput)
	}
	if thumbnailURL == "" {
		thumbnailURL = imageURL
	}
	if _, err := r.db.Exec(ctx, sqlinline.QMarkStickerReady, jobID, string(emotion), imageURL, thumbnailURL); err != nil {
		return fmt.Errorf("mark sticker ready: %w", err)
	}
	return nil
}

func (r *StickerRepositoryPG) MarkSkipped(ctx context.Context, jobID string, emotion domain.Emotion, reason string, attempts int) error {
	payload, err := json.Marshal(domain.Pipeline{Step: domain.StepGenerate, LastError: reason})
	if err != nil {
		return fmt.Errorf("encode pipeline: %w", err)
	}
	if _, err := r.db.Exec(ctx, sqlinline.QMarkStickerSkipped, jobID, string(emotion), payload, attempts); err != nil {
		return fmt.Errorf("mark sticker skipped: %w", err)
	}
	return nil
}

func scanSticker(row pgx.Row) (*domain.Sticker, error) {
	var s domain.Sticker
	var emotion, status string
	var pipeline []byte
	if err := row.Scan(
		&s.ID,
		&s.JobID,
		&emotion,
		&status,
		&s.ImageURL,
		&s.ThumbnailURL,
		&pipeline,
		&s.Attempts,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Emotion = domain.Emotion(emotion)
	s.Status = domain.StickerStatus(status)
	if len(pipeline) > 0 {
		if err := json.Unmarshal(pipeline, &s.Pipeline); err != nil {
			return nil, fmt.Errorf("decode pipeline: %w", err)
		}
	}
	// Rows written before the pipeline column carried their state in image_url.
	if !s.Pipeline.Awaiting() {
		if legacy, ok := domain.DecodeLegacyMarker(s.ImageURL); ok {
			s.Pipeline = legacy
			s.Status = domain.StickerStatusGenerating
		}
	}
	return &s, nil
}

var _ domain.StickerRepository = (*StickerRepositoryPG)(nil)
