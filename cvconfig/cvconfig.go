// Package cvconfig loads and validates the JSON configuration file the
// chainval CLI and any long-running instance of this engine start
// from, following the same shape Boulder's own cmd.ConfigValidate
// helper uses: a struct tagged for github.com/go-playground/validator,
// unmarshaled from JSON, then checked in one pass before anything else
// starts up.
package cvconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	validator "github.com/letsencrypt/validator/v10"
)

// Config is the top-level on-disk configuration document.
type Config struct {
	Database struct {
		Driver string `json:"driver" validate:"required"`
		DSN    string `json:"dsn" validate:"required"`
	} `json:"database"`

	Redis struct {
		Addr        string `json:"addr" validate:"required"`
		EphemeralTTLSeconds int `json:"ephemeralTTLSeconds"`
	} `json:"redis"`

	Dirmngr struct {
		BaseURL      string `json:"baseURL" validate:"required,url"`
		ResolverAddr string `json:"resolverAddr"`
	} `json:"dirmngr"`

	PolicyFile        string `json:"policyFile"`
	QualifiedListFile string `json:"qualifiedListFile" validate:"required"`
	WeakKeyDir        string `json:"weakKeyDir"`

	Validation struct {
		NoChainValidation     bool `json:"noChainValidation"`
		NoPolicyCheck         bool `json:"noPolicyCheck"`
		NoCRLCheck            bool `json:"noCRLCheck"`
		NoTrustedCertCRLCheck bool `json:"noTrustedCertCRLCheck"`
		IgnoreExpiration      bool `json:"ignoreExpiration"`
		UseOCSP               bool `json:"useOCSP"`
		MaxBadSignatureRetries int `json:"maxBadSignatureRetries" validate:"gte=0"`
	} `json:"validation"`

	AuditLogTag string `json:"auditLogTag" validate:"required"`
}

var validate = validator.New()

// Load reads path (a local filesystem path, or an s3:// URI) and
// parses and validates it as a Config.
func Load(ctx context.Context, path string) (*Config, error) {
	data, err := readBytes(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("cvconfig: reading %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cvconfig: parsing %s: %w", path, err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("cvconfig: invalid configuration %s: %w", path, err)
	}
	return &cfg, nil
}

func readBytes(ctx context.Context, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "s3://") {
		return os.ReadFile(path)
	}
	return readS3(ctx, path)
}

// readS3 fetches the config file from an s3:// URI, the way an
// operator running many chainval instances might centralize shared
// configuration without distributing it to every host's disk. The
// policy file and qualified-root list are read from local paths only.
func readS3(ctx context.Context, uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("malformed s3 URI %q, expected s3://bucket/key", uri)
	}
	bucket, key := parts[0], parts[1]

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
