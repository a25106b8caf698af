/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package s3backup implements backup.Target over an S3-compatible bucket,
// narrowed from the teacher's S3Storage (storage/persistence-s3.go) down
// to the single PutObject call a dataset backup needs.
package s3backup

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config mirrors the teacher's S3Factory fields, minus anything tied to
// the column-store's schema/shard/log object layout.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool
}

// Target is a backup.Target that uploads objects under Config.Prefix in
// an S3-compatible bucket.
type Target struct {
	cfg Config

	mu     sync.Mutex
	client *s3.Client
}

func New(cfg Config) *Target {
	return &Target{cfg: cfg}
}

func (t *Target) ensureClient(ctx context.Context) (*s3.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	var opts []func(*config.LoadOptions) error
	if t.cfg.Region != "" {
		opts = append(opts, config.WithRegion(t.cfg.Region))
	}
	if t.cfg.AccessKeyID != "" && t.cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(t.cfg.AccessKeyID, t.cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3backup: loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if t.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(t.cfg.Endpoint)
		})
	}
	if t.cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	t.client = s3.NewFromConfig(awsCfg, s3Opts...)
	return t.client, nil
}

func (t *Target) key(name string) string {
	pfx := strings.TrimSuffix(t.cfg.Prefix, "/")
	if pfx == "" {
		return name
	}
	return pfx + "/" + name
}

// PutObject implements backup.Target, streaming r directly into the S3
// request body instead of buffering the object in memory first.
func (t *Target) PutObject(ctx context.Context, name string, r io.Reader) error {
	client, err := t.ensureClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.cfg.Bucket),
		Key:    aws.String(t.key(name)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("s3backup: PutObject %s: %w", name, err)
	}
	return nil
}
