package configstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMStore writes configuration into AWS SSM Parameter Store under a
// common prefix, e.g. /shiftsmith/<deployment>/<component>/<key>.
type SSMStore struct {
	client *ssm.Client
	prefix string
}

// NewSSMStore creates a store rooted at prefix.
func NewSSMStore(client *ssm.Client, prefix string) *SSMStore {
	return &SSMStore{
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
	}
}

// Put writes one parameter, overwriting any previous value.
func (s *SSMStore) Put(ctx context.Context, path, value string) error {
	name := s.prefix + "/" + strings.TrimLeft(path, "/")

	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Type:      ssmtypes.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to put parameter %s: %w", name, err)
	}

	return nil
}
