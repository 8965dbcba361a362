// Package config loads and validates the settings of the profile service.
// Values come from the environment and may be overridden by CLI flags before
// Validate is called.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

var (
	tableNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,255}$`)
	bucketPattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
	poolIDPattern    = regexp.MustCompile(`^([a-z]{2}(?:-[a-z]+)+-\d+):[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// Config holds the service settings.
type Config struct {
	TableName      string        `env:"PROFILE_TABLE" validate:"required"`                                  // DynamoDB table holding profile records
	AvatarBucket   string        `env:"AVATAR_BUCKET" validate:"required"`                                  // S3 bucket holding avatar objects
	IdentityPoolID string        `env:"IDENTITY_POOL_ID" validate:"required"`                               // Cognito identity pool (region:uuid)
	Region         string        `env:"AWS_REGION" validate:"required"`                                     // AWS region of all resources
	AccountID      string        `env:"AWS_ACCOUNT_ID" validate:"omitempty,numeric,len=12"`                 // Account sent with GetId, optional
	RoleARN        string        `env:"IDENTITY_ROLE_ARN" validate:"omitempty,startswith=arn:aws:iam::"`    // Pool role checked by preflight
	DeviceStore    string        `env:"DEVICE_STORE" validate:"required"`                                   // bolt://, file:// or mem:// URI
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"` // zap level
	Strict         bool          `env:"STRICT_PRECONDITIONS"`                                               // Panic on precondition violations
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"30s"`                                           // Deadline for a single command
}

// Load reads the configuration from the environment. It does not validate;
// call Validate once all overrides are applied.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// PoolRegion returns the region prefix of the identity pool id, or "".
func (c *Config) PoolRegion() string {
	m := poolIDPattern.FindStringSubmatch(c.IdentityPoolID)
	if m == nil {
		return ""
	}
	return m[1]
}

// Validate checks field formats and the rules that span fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid %s: failed %q", fieldName(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if !tableNamePattern.MatchString(c.TableName) {
		return fmt.Errorf("table name %q must be 3-255 characters of a-z, A-Z, 0-9, _, - or .", c.TableName)
	}

	if !bucketPattern.MatchString(c.AvatarBucket) || strings.Contains(c.AvatarBucket, "..") {
		return fmt.Errorf("invalid avatar bucket name: %s", c.AvatarBucket)
	}

	region := c.PoolRegion()
	if region == "" {
		return fmt.Errorf("identity pool id must look like region:uuid, got %s", c.IdentityPoolID)
	}
	if region != c.Region {
		return fmt.Errorf("identity pool %s is in %s, not in region %s", c.IdentityPoolID, region, c.Region)
	}

	if err := validateDeviceStore(c.DeviceStore); err != nil {
		return err
	}

	if c.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1 second")
	}

	return nil
}

func validateDeviceStore(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid device store URI: %w", err)
	}
	switch u.Scheme {
	case "mem":
		return nil
	case "bolt", "file":
		if u.Host != "" || !filepath.IsAbs(u.Path) {
			return fmt.Errorf("device store path must be absolute: %s", uri)
		}
		return nil
	default:
		return fmt.Errorf("device store URI must use bolt://, file:// or mem://, got %s", uri)
	}
}

func fieldName(field string) string {
	switch field {
	case "TableName":
		return "table name"
	case "AvatarBucket":
		return "avatar bucket"
	case "IdentityPoolID":
		return "identity pool id"
	case "AccountID":
		return "account id"
	case "RoleARN":
		return "role ARN"
	case "DeviceStore":
		return "device store"
	case "LogLevel":
		return "log level"
	}
	return strings.ToLower(field)
}
