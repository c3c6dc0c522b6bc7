package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/health"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/storage"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// EnvironmentDetailsBucket holds one environment details record per environment name
const EnvironmentDetailsBucket = "sn-environment-type"

const environmentDetailsRetries = 3

// ErrEnvironmentDetailsNotFound is returned when no record exists for an environment
var ErrEnvironmentDetailsNotFound = errors.New("environment details not found")

// retryDelay separates attempts to read a record that failed to download or parse
var retryDelay = time.Second

// GetEnvironmentDetails reads the record written when the environment was created
func GetEnvironmentDetails(ctx context.Context, store storage.ObjectStore, name string) (*types.EnvironmentDetails, error) {
	logger := log.WithComponent("inventory.envdetails")

	var lastErr error
	for attempt := 0; attempt <= environmentDetailsRetries; attempt++ {
		if attempt > 0 {
			if err := health.SleepContext(ctx, retryDelay); err != nil {
				return nil, err
			}
		}
		data, err := store.Get(ctx, EnvironmentDetailsBucket, name)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrEnvironmentDetailsNotFound, name)
		}
		if err != nil {
			logger.Error().Err(err).Str("environment", name).Msg("Could not download the environment details")
			lastErr = err
			continue
		}
		var details types.EnvironmentDetails
		if err := json.Unmarshal(data, &details); err != nil {
			logger.Error().Err(err).Str("environment", name).Msg("Could not parse the environment details")
			lastErr = err
			continue
		}
		logger.Debug().Str("environment", name).Str("deployment_type", string(details.DeploymentType)).Msg("Fetched environment details")
		return &details, nil
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrEnvironmentDetailsNotFound, name, lastErr)
}

// WriteEnvironmentDetails records how the environment was created
func WriteEnvironmentDetails(ctx context.Context, store storage.ObjectStore, name string, details types.EnvironmentDetails) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode environment details: %w", err)
	}
	if err := store.Put(ctx, EnvironmentDetailsBucket, name, data); err != nil {
		return fmt.Errorf("failed to write environment details: %w", err)
	}
	return nil
}

// DeleteEnvironmentDetails removes the record for name
func DeleteEnvironmentDetails(ctx context.Context, store storage.ObjectStore, name string) error {
	if err := store.Delete(ctx, EnvironmentDetailsBucket, name); err != nil {
		return fmt.Errorf("failed to delete environment details: %w", err)
	}
	return nil
}
