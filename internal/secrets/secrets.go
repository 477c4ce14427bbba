// Package secrets loads portal access keys from AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/4dn-dcic/foursight-sub000/internal/portal"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, input *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// PortalKeys reads secretID and decodes it as {"key","secret","server"}.
func PortalKeys(ctx context.Context, client SecretsManagerAPI, secretID string) (portal.Keys, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return portal.Keys{}, fmt.Errorf("reading secret %s: %w", secretID, err)
	}

	raw := aws.ToString(out.SecretString)
	if raw == "" && len(out.SecretBinary) > 0 {
		raw = string(out.SecretBinary)
	}
	if raw == "" {
		return portal.Keys{}, fmt.Errorf("secret %s is empty", secretID)
	}

	var keys portal.Keys
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return portal.Keys{}, fmt.Errorf("decoding secret %s: %w", secretID, err)
	}
	if keys.Key == "" || keys.Secret == "" {
		return portal.Keys{}, fmt.Errorf("secret %s is missing key or secret", secretID)
	}
	return keys, nil
}
