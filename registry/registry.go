// Package registry verifies that a component's container image exists
// before any traffic is pointed at it.
package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// ArtifactChecker answers whether an image tag exists in a registry.
type ArtifactChecker interface {
	TagExists(ctx context.Context, repository, tag string) (bool, error)
}

// Client checks artifacts against a container registry, using basic auth
// when configured, an ECR authorization token for ECR registries, or the
// default keychain otherwise.
type Client struct {
	username  string
	password  string
	ecrClient *ecr.Client
}

// NewClient creates a registry client with optional basic credentials.
func NewClient(username, password string) *Client {
	return &Client{username: username, password: password}
}

// NewECRClient creates a registry client that authenticates against ECR.
func NewECRClient(ecrClient *ecr.Client) *Client {
	return &Client{ecrClient: ecrClient}
}

// TagExists checks whether repository:tag is present in the registry.
func (c *Client) TagExists(ctx context.Context, repository, tag string) (bool, error) {
	ref, err := name.ParseReference(fmt.Sprintf("%s:%s", repository, tag))
	if err != nil {
		return false, fmt.Errorf("invalid reference: %w", err)
	}

	opts, err := c.authOptions(ctx)
	if err != nil {
		return false, err
	}
	opts = append(opts, remote.WithContext(ctx))

	_, err = remote.Head(ref, opts...)
	if err != nil {
		if strings.Contains(err.Error(), "MANIFEST_UNKNOWN") || strings.Contains(err.Error(), "NOT_FOUND") {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (c *Client) authOptions(ctx context.Context) ([]remote.Option, error) {
	if c.ecrClient != nil {
		username, password, err := c.ecrToken(ctx)
		if err != nil {
			return nil, err
		}
		return []remote.Option{remote.WithAuth(&authn.Basic{Username: username, Password: password})}, nil
	}

	if c.username != "" && c.password != "" {
		return []remote.Option{remote.WithAuth(&authn.Basic{Username: c.username, Password: c.password})}, nil
	}

	// Default keychain covers public repos and docker config credentials.
	return []remote.Option{remote.WithAuthFromKeychain(authn.DefaultKeychain)}, nil
}

// ecrToken exchanges an ECR authorization token for basic credentials.
func (c *Client) ecrToken(ctx context.Context) (string, string, error) {
	out, err := c.ecrClient.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", "", fmt.Errorf("failed to get ECR authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 || out.AuthorizationData[0].AuthorizationToken == nil {
		return "", "", fmt.Errorf("ECR returned no authorization data")
	}

	decoded, err := base64.StdEncoding.DecodeString(*out.AuthorizationData[0].AuthorizationToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to decode ECR token: %w", err)
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed ECR token")
	}

	return parts[0], parts[1], nil
}
