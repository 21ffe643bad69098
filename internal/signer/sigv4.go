// Package signer signs upstream requests with AWS SigV4 for Bedrock-style
// providers, where forwarding the client's auth headers verbatim cannot work.
package signer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// SigV4 holds resolved AWS credentials and a request signer.
type SigV4 struct {
	creds  aws.CredentialsProvider
	signer *v4.Signer
	region string
}

// New resolves credentials from the default AWS chain (env, shared config,
// IMDS). Returns an error when no credentials are available, so callers can
// treat signing as unconfigured.
func New(ctx context.Context, region string) (*SigV4, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("resolve aws credentials: %w", err)
	}
	if region == "" {
		region = cfg.Region
	}
	return &SigV4{
		creds:  cfg.Credentials,
		signer: v4.NewSigner(),
		region: region,
	}, nil
}

// Region returns the signing region.
func (s *SigV4) Region() string { return s.region }

// Sign removes any client-supplied auth headers and signs the request for the
// given service (e.g. "bedrock"). body must be the exact bytes the request
// will carry.
func (s *SigV4) Sign(ctx context.Context, req *http.Request, body []byte, service string) error {
	req.Header.Del("Authorization")
	req.Header.Del("x-api-key")

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve aws credentials: %w", err)
	}
	if err := s.signer.SignHTTP(ctx, creds, req, payloadHash, service, s.region, time.Now()); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	return nil
}
