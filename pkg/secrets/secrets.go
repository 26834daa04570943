// Package secrets loads the service-account credential from Google Secret
// Manager, for deployments that keep no key file on disk.
package secrets

import (
	"context"
	"encoding/base64"
	"fmt"

	secretmanager "google.golang.org/api/secretmanager/v1"
	"google.golang.org/api/option"
)

// DefaultVersion is used when no version label is configured.
const DefaultVersion = "latest"

// AccessSecret fetches one secret version and returns its payload bytes.
// resource is the secret name without a version, like
// "projects/123/secrets/workspace-dwd-sa-key". Authentication comes from
// application default credentials.
func AccessSecret(ctx context.Context, resource, version string, opts ...option.ClientOption) ([]byte, error) {
	if version == "" {
		version = DefaultVersion
	}

	svc, err := secretmanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager service: %w", err)
	}

	name := fmt.Sprintf("%s/versions/%s", resource, version)
	resp, err := svc.Projects.Secrets.Versions.Access(name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	if resp.Payload == nil {
		return nil, fmt.Errorf("secret %s has no payload", name)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret %s payload: %w", name, err)
	}
	return data, nil
}
