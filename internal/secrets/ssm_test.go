package secrets

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	values map[string]string
	calls  int
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	v := f.values[aws.ToString(in.Name)]
	return &ssm.GetParameterOutput{
		Parameter: &types.Parameter{Value: aws.String(v)},
	}, nil
}

func TestResolveFromEnv(t *testing.T) {
	t.Setenv("SHOPIFY_API_SECRET", "plain-secret")

	f := &fakeSSM{}
	got, err := Resolve(context.Background(), f, "SHOPIFY_API_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "plain-secret", got)
	assert.Zero(t, f.calls)
}

func TestResolveFromParameterStore(t *testing.T) {
	t.Setenv("SHOPIFY_API_SECRET_SSM_PARAM", "/stylebox/prod/shopify-api-secret")

	f := &fakeSSM{values: map[string]string{
		"/stylebox/prod/shopify-api-secret": "ssm-secret",
	}}
	got, err := Resolve(context.Background(), f, "SHOPIFY_API_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "ssm-secret", got)
	assert.Equal(t, 1, f.calls)
}

func TestResolveMissing(t *testing.T) {
	_, err := Resolve(context.Background(), &fakeSSM{}, "NOT_SET_ANYWHERE")
	assert.Error(t, err)
}
