package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var (
	ErrInvalidConfig = errors.New("secrets: invalid config")
	ErrNotFound      = errors.New("secrets: not found")
)

const (
	SourceEnv = "env"
	SourceAWS = "aws-sm"
)

type Provider interface {
	Get(ctx context.Context, key string) (string, error)
}

// Ref points at a secret. The textual form is "env:NAME" or "aws-sm:SECRET_ID[#json_field]".
// Text without a known source prefix is read as an env variable name.
type Ref struct {
	Source string
	Key    string
	Field  string
}

func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("%w: empty secret ref", ErrInvalidConfig)
	}
	src, rest, ok := strings.Cut(s, ":")
	switch {
	case ok && src == SourceEnv:
		if strings.TrimSpace(rest) == "" {
			return Ref{}, fmt.Errorf("%w: empty env name in %q", ErrInvalidConfig, s)
		}
		return Ref{Source: SourceEnv, Key: strings.TrimSpace(rest)}, nil
	case ok && src == SourceAWS:
		id, field, _ := strings.Cut(rest, "#")
		if strings.TrimSpace(id) == "" {
			return Ref{}, fmt.Errorf("%w: empty secret id in %q", ErrInvalidConfig, s)
		}
		return Ref{Source: SourceAWS, Key: strings.TrimSpace(id), Field: strings.TrimSpace(field)}, nil
	default:
		return Ref{Source: SourceEnv, Key: s}, nil
	}
}

func (r Ref) String() string {
	if r.Field != "" {
		return r.Source + ":" + r.Key + "#" + r.Field
	}
	return r.Source + ":" + r.Key
}

// Resolver dispatches refs to providers. AWS is built lazily so env-only deployments never load AWS config.
type Resolver struct {
	Env Provider
	AWS func(ctx context.Context) (Provider, error)
}

func (r Resolver) Resolve(ctx context.Context, ref Ref) (string, error) {
	var (
		p   Provider
		err error
	)
	switch ref.Source {
	case SourceEnv:
		p = r.Env
		if p == nil {
			p = NewEnv()
		}
	case SourceAWS:
		if r.AWS == nil {
			return "", fmt.Errorf("%w: no aws provider for %s", ErrInvalidConfig, ref)
		}
		if p, err = r.AWS(ctx); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, ref.Source)
	}

	v, err := p.Get(ctx, ref.Key)
	if err != nil {
		return "", err
	}
	if ref.Field == "" {
		return v, nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(v), &doc); err != nil {
		return "", fmt.Errorf("%w: %s is not a json object", ErrInvalidConfig, ref)
	}
	field, ok := doc[ref.Field].(string)
	if !ok || strings.TrimSpace(field) == "" {
		return "", fmt.Errorf("%w: field %q missing in %s", ErrNotFound, ref.Field, ref.Key)
	}
	return strings.TrimSpace(field), nil
}

type awsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type AWSProvider struct {
	client awsClient
}

func NewAWS(ctx context.Context) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrInvalidConfig, err)
	}
	return NewAWSWithClient(secretsmanager.NewFromConfig(cfg))
}

func NewAWSWithClient(client awsClient) (*AWSProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil secretsmanager client", ErrInvalidConfig)
	}
	return &AWSProvider{client: client}, nil
}

func (p *AWSProvider) Get(ctx context.Context, key string) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("%w: nil aws provider", ErrInvalidConfig)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty secret id", ErrInvalidConfig)
	}
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &key})
	if err != nil {
		return "", fmt.Errorf("secrets: get secret %q: %w", key, err)
	}
	if out.SecretString != nil && strings.TrimSpace(*out.SecretString) != "" {
		return strings.TrimSpace(*out.SecretString), nil
	}
	if len(out.SecretBinary) > 0 {
		return strings.TrimSpace(string(out.SecretBinary)), nil
	}
	return "", fmt.Errorf("%w: secret %q has no value", ErrNotFound, key)
}

type EnvProvider struct{}

func NewEnv() *EnvProvider { return &EnvProvider{} }

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty env key", ErrInvalidConfig)
	}
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("%w: env %s is empty", ErrNotFound, key)
	}
	return v, nil
}
