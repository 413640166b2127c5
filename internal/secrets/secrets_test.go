package secrets

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsAPI struct {
	values map[string]string
	calls  int
}

func (f *fakeSecretsAPI) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	v := f.values[aws.ToString(params.SecretId)]
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestGetSecretCaches(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{"arn:x": "hunter2"}}
	s := NewWithClient(api, zerolog.New(nil).Level(zerolog.Disabled))

	v, err := s.GetSecret(context.Background(), "arn:x")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	_, err = s.GetSecret(context.Background(), "arn:x")
	require.NoError(t, err)
	assert.Equal(t, 1, api.calls, "second read must come from cache")
}

func TestGetAPIKeys(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{
		"wavepilot/api-keys": `{"ALPACA_API_KEY":"ak","ALPACA_API_SECRET":"as","MASSIVE_API_KEY":"mk"}`,
	}}
	s := NewWithClient(api, zerolog.New(nil).Level(zerolog.Disabled))

	keys, err := s.GetAPIKeys(context.Background(), "wavepilot/api-keys")
	require.NoError(t, err)
	assert.Equal(t, "ak", keys.AlpacaKey)
	assert.Equal(t, "as", keys.AlpacaSecret)
	assert.Equal(t, "mk", keys.MassiveKey)
}

func TestGetInfluxTokenFallsBackToPassword(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{
		"arn:influx": `{"password":"pw"}`,
	}}
	s := NewWithClient(api, zerolog.New(nil).Level(zerolog.Disabled))

	tok, err := s.GetInfluxToken(context.Background(), "arn:influx")
	require.NoError(t, err)
	assert.Equal(t, "pw", tok)
}

func TestGetSecretEmptyARN(t *testing.T) {
	s := NewWithClient(&fakeSecretsAPI{}, zerolog.New(nil).Level(zerolog.Disabled))
	_, err := s.GetSecret(context.Background(), "")
	assert.Error(t, err)
}
