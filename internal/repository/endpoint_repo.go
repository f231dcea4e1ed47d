package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"reminder-service/internal/model"
)

type EndpointRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewEndpointRepository(db *pgxpool.Pool, logger *zap.Logger) *EndpointRepository {
	return &EndpointRepository{
		db:     db,
		logger: logger,
	}
}

// ListByUsers returns the endpoints of the given users on the given channels
func (r *EndpointRepository) ListByUsers(ctx context.Context, userIDs []string, channels []model.Channel) ([]model.DeliveryEndpoint, error) {
	if len(userIDs) == 0 || len(channels) == 0 {
		return nil, nil
	}

	channelNames := make([]string, 0, len(channels))
	for _, c := range channels {
		channelNames = append(channelNames, c.String())
	}

	query := `
        SELECT id, user_id, channel, payload, created_at, updated_at
        FROM delivery_endpoints
        WHERE user_id = ANY($1)
          AND channel = ANY($2)
        ORDER BY user_id ASC, channel ASC, created_at ASC
    `
	rows, err := r.db.Query(ctx, query, userIDs, channelNames)
	if err != nil {
		r.logger.Error("Failed to query delivery endpoints", zap.Error(err))
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []model.DeliveryEndpoint
	for rows.Next() {
		var (
			e       model.DeliveryEndpoint
			channel string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &channel, &payload, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		c, err := model.ParseChannel(channel)
		if err != nil {
			r.logger.Warn("Skipping endpoint with unknown channel",
				zap.String("endpoint_id", e.ID),
				zap.String("channel", channel),
			)
			continue
		}
		e.Channel = c
		e.Payload = json.RawMessage(payload)
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

// Upsert creates or replaces the single endpoint a user has on a channel
func (r *EndpointRepository) Upsert(ctx context.Context, userID string, channel model.Channel, payload json.RawMessage) (*model.DeliveryEndpoint, error) {
	query := `
        INSERT INTO delivery_endpoints (id, user_id, channel, payload)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id, channel)
        DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()
        RETURNING id, created_at, updated_at
    `
	e := model.DeliveryEndpoint{
		UserID:  userID,
		Channel: channel,
		Payload: payload,
	}
	err := r.db.QueryRow(ctx, query, uuid.NewString(), userID, channel.String(), []byte(payload)).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert endpoint",
			zap.String("user_id", userID),
			zap.String("channel", channel.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("upsert endpoint: %w", err)
	}

	r.logger.Info("Endpoint upserted",
		zap.String("endpoint_id", e.ID),
		zap.String("user_id", userID),
		zap.String("channel", channel.String()),
	)
	return &e, nil
}

// DeleteByID removes one endpoint; deleting a missing row is not an error
func (r *EndpointRepository) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM delivery_endpoints WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete endpoint %s: %w", id, err)
	}
	return nil
}

// DeleteByUserChannel removes the user's endpoint on a channel, reporting whether one existed
func (r *EndpointRepository) DeleteByUserChannel(ctx context.Context, userID string, channel model.Channel) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM delivery_endpoints WHERE user_id = $1 AND channel = $2`,
		userID, channel.String(),
	)
	if err != nil {
		return false, fmt.Errorf("delete endpoint: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
