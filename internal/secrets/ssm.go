// Package secrets resolves sensitive config values from SSM Parameter Store,
// falling back to plain env vars for local runs.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolve returns the secret named by envKey. If <envKey>_SSM_PARAM is set,
// the value is fetched (decrypted) from Parameter Store; otherwise the env
// var itself is used.
func Resolve(ctx context.Context, client SSMClient, envKey string) (string, error) {
	param := strings.TrimSpace(os.Getenv(envKey + "_SSM_PARAM"))
	if param == "" {
		v := strings.TrimSpace(os.Getenv(envKey))
		if v == "" {
			return "", fmt.Errorf("%s not set", envKey)
		}
		return v, nil
	}

	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm GetParameter %s: %w", param, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("ssm parameter %s is empty", param)
	}
	return aws.ToString(out.Parameter.Value), nil
}
