// Package s3 stores export files in AWS S3 or an S3-compatible service.
package s3

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultAWSRegion applies to AWS S3 when neither config nor environment
// name a region.
const DefaultAWSRegion = "us-east-1"

// ErrInvalidConfig wraps every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid s3 config")

// Config configures the S3 backend. Without a static key pair the SDK
// default credential chain is used. MinIO and similar stores need
// Endpoint and usually ForcePathStyle.
type Config struct {
	Bucket string

	// Prefix scopes every object, e.g. "mod-data-export/diku".
	Prefix string

	Region   string
	Endpoint string
	Profile  string

	AccessKeyID     string
	SecretAccessKey string

	ForcePathStyle bool
}

// Validate reports a missing bucket or a half-configured key pair.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Bucket) == "":
		return fmt.Errorf("%w: bucket name is required", ErrInvalidConfig)
	case (c.AccessKeyID == "") != (c.SecretAccessKey == ""):
		return fmt.Errorf("%w: access key id and secret access key go together", ErrInvalidConfig)
	}
	return nil
}

// keyPrefix is Prefix without surrounding slashes plus one trailing slash,
// or "".
func (c *Config) keyPrefix() string {
	if p := strings.Trim(c.Prefix, "/"); p != "" {
		return p + "/"
	}
	return ""
}

// resolveRegion keeps the SDK region. Only plain AWS S3 falls back to
// DefaultAWSRegion.
func resolveRegion(endpoint, sdkRegion string) string {
	switch {
	case sdkRegion != "":
		return sdkRegion
	case endpoint != "":
		return ""
	default:
		return DefaultAWSRegion
	}
}
