package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"event-pipeline/internal/client"
	"event-pipeline/internal/model"
)

// ErrNotFound marks a lookup with no matching association. Callers in the
// enrichment path fail open on it.
var ErrNotFound = errors.New("association not found")

// AssociationRepository reads the platform's authoritative identity and tag
// association tables. This pipeline never writes them.
type AssociationRepository struct {
	client *client.PostgresClient
}

func NewAssociationRepository(pgClient *client.PostgresClient) *AssociationRepository {
	return &AssociationRepository{client: pgClient}
}

// DeviceIDForAgent resolves a tool-native agent or host identifier to the
// platform device id. Agent associations are checked first; host identifiers
// are a secondary mapping maintained for tools that only report hostnames.
func (r *AssociationRepository) DeviceIDForAgent(ctx context.Context, tool model.ToolType, agentOrHostID string) (string, error) {
	var deviceID string

	err := r.client.Pool.QueryRow(ctx,
		`SELECT device_id FROM device_agents WHERE tool = $1 AND agent_id = $2`,
		string(tool), agentOrHostID,
	).Scan(&deviceID)
	if err == nil {
		return deviceID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("failed to look up agent association: %w", err)
	}

	err = r.client.Pool.QueryRow(ctx,
		`SELECT device_id FROM device_hosts WHERE tool = $1 AND host_identifier = $2`,
		string(tool), agentOrHostID,
	).Scan(&deviceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to look up host association: %w", err)
	}
	return deviceID, nil
}

func (r *AssociationRepository) UserIDForUsername(ctx context.Context, username string) (string, error) {
	var userID string
	err := r.client.Pool.QueryRow(ctx,
		`SELECT id FROM users WHERE username = $1`,
		username,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	return userID, nil
}

// TagIDsForDevice returns the authoritative tag associations for a device.
func (r *AssociationRepository) TagIDsForDevice(ctx context.Context, deviceID string) ([]string, error) {
	rows, err := r.client.Pool.Query(ctx,
		`SELECT tag_id FROM device_tags WHERE device_id = $1`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read device tags: %w", err)
	}
	defer rows.Close()

	var tagIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan device tag row: %w", err)
		}
		tagIDs = append(tagIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device tags: %w", err)
	}
	return tagIDs, nil
}

func (r *AssociationRepository) DeviceIDsForTag(ctx context.Context, tagID string) ([]string, error) {
	rows, err := r.client.Pool.Query(ctx,
		`SELECT device_id FROM device_tags WHERE tag_id = $1`,
		tagID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read tag devices: %w", err)
	}
	defer rows.Close()

	var deviceIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tag device row: %w", err)
		}
		deviceIDs = append(deviceIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tag devices: %w", err)
	}
	return deviceIDs, nil
}

// TagName resolves a tag id to its current name.
func (r *AssociationRepository) TagName(ctx context.Context, tagID string) (string, error) {
	var name string
	err := r.client.Pool.QueryRow(ctx,
		`SELECT name FROM tags WHERE id = $1`,
		tagID,
	).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to look up tag name: %w", err)
	}
	return name, nil
}
