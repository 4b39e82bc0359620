package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/messenger-concierge/cmd/mainconfig"
	appconfig "github.com/wolfman30/messenger-concierge/internal/config"
	"github.com/wolfman30/messenger-concierge/internal/knowledge"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

type s3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func main() {
	target := flag.String("target", "", "postgres or s3 (defaults to KNOWLEDGE_SOURCE)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: seed-knowledge [-target postgres|s3] <knowledge.json>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	_ = appconfig.LoadDotEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if *target == "" {
		*target = cfg.KnowledgeSource
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := run(ctx, cfg, *target, flag.Arg(0), logger); err != nil {
		logger.Error("seeding knowledge failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appconfig.Config, target, path string, logger *logging.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	snap, err := knowledge.ParseSnapshot(bytes.NewReader(raw))
	if err != nil {
		return err
	}

	switch target {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := knowledge.SeedPostgres(ctx, pool, snap); err != nil {
			return err
		}
	case "s3":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		if err := upload(ctx, s3.NewFromConfig(awsCfg), cfg.KnowledgeBucket, cfg.KnowledgeKey, raw); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown target %q", target)
	}

	logger.Info("knowledge seeded",
		"target", target,
		"prompts", len(snap.Prompts),
		"messages", len(snap.Messages),
		"faq", len(snap.FAQEntries),
		"functions", len(snap.FunctionDefs),
	)
	return nil
}

// upload stores the validated document unchanged so S3Loader reads it back
// exactly as written.
func upload(ctx context.Context, client s3Putter, bucket, key string, raw []byte) error {
	if bucket == "" {
		return fmt.Errorf("KNOWLEDGE_BUCKET is required")
	}
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
