package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// ErrSlackWebhookURLNotSupplied is returned when a notification is requested without a webhook
var ErrSlackWebhookURLNotSupplied = errors.New("a Slack webhook URL was not supplied")

const samplePeers = 20

// NotificationMessage renders the deployment summary posted to Slack
func NotificationMessage(inv *inventory.DeploymentInventory) string {
	var sb strings.Builder
	sb.WriteString("*Testnet Details*\n")
	fmt.Fprintf(&sb, "Name: %s\n", inv.Name)
	fmt.Fprintf(&sb, "Node count: %d\n", inv.NodeCount())
	if inv.FaucetAddress != "" {
		fmt.Fprintf(&sb, "Faucet address: %s\n", inv.FaucetAddress)
	}

	switch opt := inv.BinaryOption.(type) {
	case types.BuildFromSource:
		sb.WriteString("*Branch Details*\n")
		fmt.Fprintf(&sb, "Repo owner: %s\n", opt.RepoOwner)
		fmt.Fprintf(&sb, "Branch: %s\n", opt.Branch)
	case types.Versioned:
		sb.WriteString("*Version Details*\n")
		fmt.Fprintf(&sb, "ant version: %s\n", types.VersionString(opt.SafeVersion))
		fmt.Fprintf(&sb, "antnode version: %s\n", types.VersionString(opt.SafenodeVersion))
		fmt.Fprintf(&sb, "antctl version: %s\n", types.VersionString(opt.SafenodeManagerVersion))
	}

	sb.WriteString("*Sample Peers*\n```\n")
	peers := inv.Peers()
	for i, peer := range peers {
		if i == samplePeers {
			break
		}
		sb.WriteString(peer + "\n")
	}
	sb.WriteString("```\n")
	sb.WriteString("*Available Files*\n```\n")
	for _, f := range inv.UploadedFiles {
		fmt.Fprintf(&sb, "%s: %s\n", f.Address, f.Name)
	}
	sb.WriteString("```\n")
	return sb.String()
}

// NotifySlack posts the deployment summary to a Slack incoming webhook
func NotifySlack(ctx context.Context, client *http.Client, webhookURL string, inv *inventory.DeploymentInventory) error {
	if webhookURL == "" {
		return ErrSlackWebhookURLNotSupplied
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	body, err := json.Marshal(map[string]string{"text": NotificationMessage(inv)})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to post notification: slack returned %s", resp.Status)
	}
	logger := log.WithEnvironment(inv.Name)
	logger.Debug().Msg("Posted notification to Slack")
	return nil
}
