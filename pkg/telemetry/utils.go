package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docker/plugin-telemetry/pkg/event"
	"github.com/docker/plugin-telemetry/pkg/settings"
)

const uniqueIDKey = "telemetry_unique_id"

// getOrCreateUniqueID returns the installation id, generating and persisting
// it on first use.
func getOrCreateUniqueID(ctx context.Context, store settings.Store) (string, error) {
	// Try to read existing UUID
	if existing, ok, err := store.Get(ctx, uniqueIDKey); err != nil {
		return event.NewProfileID(), fmt.Errorf("failed to read unique id: %w", err)
	} else if ok && strings.TrimSpace(existing) != "" {
		return strings.TrimSpace(existing), nil
	}

	newUUID := event.NewProfileID()
	if err := store.Set(ctx, uniqueIDKey, newUUID, settings.Autoload(false)); err != nil {
		// If we can't save, still return a UUID for this session
		// but it won't persist across runs
		return newUUID, fmt.Errorf("failed to persist unique id: %w", err)
	}

	return newUUID, nil
}

// structToMap converts a struct to map[string]any using JSON marshaling
// This automatically handles all fields and respects JSON tags (including omitempty)
func structToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal struct: %w", err)
	}

	var result map[string]any
	err = json.Unmarshal(data, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal to map: %w", err)
	}

	return result, nil
}

// PropertiesOf converts a tagged struct into event properties, keys sorted.
func PropertiesOf(v any) (*event.Properties, error) {
	m, err := structToMap(v)
	if err != nil {
		return nil, err
	}
	return event.FromMap(m), nil
}
