// Package main implements profilectl, an operator CLI that runs the profile
// flows against a real identity pool, table and bucket.
//
// Usage:
//
//	profilectl <create|fetch|update|login|signout|preflight> [flags]
//
// Settings are read from the environment (PROFILE_TABLE, AVATAR_BUCKET,
// IDENTITY_POOL_ID, AWS_REGION, DEVICE_STORE, ...) and may be overridden with
// flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gurre/cognito-profile/avatar"
	"github.com/gurre/cognito-profile/aws"
	"github.com/gurre/cognito-profile/config"
	"github.com/gurre/cognito-profile/devicestore"
	"github.com/gurre/cognito-profile/identity"
	"github.com/gurre/cognito-profile/metrics"
	"github.com/gurre/cognito-profile/orchestrator"
	"github.com/gurre/cognito-profile/profile"
	"go.uber.org/zap"
)

const usage = "usage: profilectl <create|fetch|update|login|signout|preflight> [flags]"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand plus the ones only some
// of them use.
type options struct {
	cfg      *config.Config
	report   bool
	name     string
	nameSet  bool
	image    string
	provider string
	token    string
	create   bool
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	command, rest := args[0], args[1:]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.DeviceStore == "" {
		cfg.DeviceStore = defaultDeviceStore()
	}

	opts, err := parseFlags(command, rest, cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	if command == "preflight" {
		return runPreflight(ctx, cfg, aws.NewIAMClient(iam.NewFromConfig(awsCfg)))
	}

	device, err := devicestore.Open(cfg.DeviceStore)
	if err != nil {
		return fmt.Errorf("failed to open device store: %w", err)
	}
	defer func() { _ = devicestore.Close(device) }()

	// Cognito Identity calls are unsigned; the table and bucket are reached
	// with the federated identity's credentials and without SDK retries.
	cognitoClient := aws.NewCognitoIdentityClient(cognitoidentity.NewFromConfig(awsCfg, func(o *cognitoidentity.Options) {
		o.Credentials = awssdk.AnonymousCredentials{}
	}))
	resolver := identity.NewResolver(cognitoClient, cfg.IdentityPoolID, device, logger.Named("identity"),
		identity.WithAccountID(cfg.AccountID),
	)
	federated := resolver.CredentialsCache()

	dynamoClient := aws.NewDynamoDBClient(dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.Credentials = federated
		o.Retryer = awssdk.NopRetryer{}
	}))
	s3Client := aws.NewS3Client(s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Credentials = federated
		o.Retryer = awssdk.NopRetryer{}
	}))

	m := metrics.NewMetrics()
	svc := orchestrator.New(
		resolver,
		profile.NewDynamoDBStore(dynamoClient, cfg.TableName),
		avatar.NewS3Store(s3Client, cfg.AvatarBucket),
		device,
		orchestrator.Options{
			Logger:              logger.Named("orchestrator"),
			Metrics:             m,
			StrictPreconditions: cfg.Strict,
		},
	)

	cli := &commands{svc: svc, resolver: resolver, opts: opts, logger: logger}
	if err := cli.dispatch(ctx, command); err != nil {
		return err
	}

	if opts.report {
		return printJSON(m.GenerateReport())
	}
	return nil
}

func parseFlags(command string, args []string, cfg *config.Config) (*options, error) {
	opts := &options{cfg: cfg}
	fs := flag.NewFlagSet(command, flag.ContinueOnError)

	fs.StringVar(&cfg.TableName, "table", cfg.TableName, "DynamoDB table holding profiles (PROFILE_TABLE)")
	fs.StringVar(&cfg.AvatarBucket, "bucket", cfg.AvatarBucket, "S3 bucket holding avatars (AVATAR_BUCKET)")
	fs.StringVar(&cfg.IdentityPoolID, "pool", cfg.IdentityPoolID, "Cognito identity pool id (IDENTITY_POOL_ID)")
	fs.StringVar(&cfg.Region, "region", cfg.Region, "AWS region (AWS_REGION)")
	fs.StringVar(&cfg.AccountID, "account", cfg.AccountID, "AWS account id sent with GetId (AWS_ACCOUNT_ID)")
	fs.StringVar(&cfg.RoleARN, "role", cfg.RoleARN, "Identity pool role checked by preflight (IDENTITY_ROLE_ARN)")
	fs.StringVar(&cfg.DeviceStore, "device", cfg.DeviceStore, "Device store URI: bolt://, file:// or mem:// (DEVICE_STORE)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error (LOG_LEVEL)")
	fs.BoolVar(&cfg.Strict, "strict", cfg.Strict, "Panic on precondition violations (STRICT_PRECONDITIONS)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Deadline for the command (TIMEOUT)")
	fs.BoolVar(&opts.report, "report", false, "Print a metrics report after the command")

	switch command {
	case "create":
		fs.StringVar(&opts.name, "name", "", "Profile name")
		fs.StringVar(&opts.image, "image", "", "Path to a JPEG avatar")
	case "update":
		fs.StringVar(&opts.name, "name", "", "Profile name")
		fs.StringVar(&opts.image, "image", "", "Path to a JPEG avatar")
		fs.StringVar(&opts.provider, "provider", "", "Provider the session was signed in with; defaults to the cached one")
		fs.StringVar(&opts.token, "token", os.Getenv("PROVIDER_TOKEN"), "Provider access token (PROVIDER_TOKEN)")
	case "login":
		fs.StringVar(&opts.provider, "provider", "", "Login provider: amazon or facebook")
		fs.StringVar(&opts.token, "token", os.Getenv("PROVIDER_TOKEN"), "Provider access token (PROVIDER_TOKEN)")
		fs.BoolVar(&opts.create, "create", false, "Create the profile when the identity has none")
		fs.StringVar(&opts.name, "name", "", "Profile name used with -create")
		fs.StringVar(&opts.image, "image", "", "Avatar used with -create")
	case "fetch":
		fs.StringVar(&opts.provider, "provider", "", "Provider the session was signed in with; defaults to the cached one")
		fs.StringVar(&opts.token, "token", os.Getenv("PROVIDER_TOKEN"), "Provider access token (PROVIDER_TOKEN)")
	case "signout", "preflight":
	default:
		return nil, fmt.Errorf("unknown command %q\n%s", command, usage)
	}

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "name" {
			opts.nameSet = true
		}
	})
	return opts, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if level == "debug" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	return zc.Build()
}

// defaultDeviceStore places the bolt file under the user's config directory.
func defaultDeviceStore() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return "bolt://" + filepath.ToSlash(filepath.Join(dir, "profilectl", "device.db"))
}
