package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

type fakeSecretsManager struct {
	secrets map[string]string
	err     error
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.secrets[*in.SecretId]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: &v}, nil
}

func TestAWSResolver(t *testing.T) {
	p := NewParser()
	p.Register(TypeAWS, &AWSResolver{Client: &fakeSecretsManager{secrets: map[string]string{"prod-db": "pw"}}})

	got := p.Parse(context.Background(), "PGPASSWORD=#!cxtower.aws.prod-db!# psql", NewContext(1, ""))
	if got != "PGPASSWORD=pw psql" {
		t.Errorf("unexpected parse %q", got)
	}

	missing := "#!cxtower.aws.nope!#"
	if got := p.Parse(context.Background(), missing, NewContext(1, "")); got != missing {
		t.Errorf("missing secret should stay verbatim, got %q", got)
	}
}

func TestAWSResolverPropagatesErrors(t *testing.T) {
	r := &AWSResolver{Client: &fakeSecretsManager{err: errors.New("throttled")}}
	if _, _, err := r.Resolve(context.Background(), nil, "x"); err == nil {
		t.Fatal("expected error")
	}
}
