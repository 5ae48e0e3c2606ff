// Package main ingests claim CSVs dropped into the uploads bucket: each S3
// event becomes a batch of review tasks.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"path"
	"strings"

	"claims-review-service/internal/config"
	"claims-review-service/internal/dedup"
	"claims-review-service/internal/ingest"
	"claims-review-service/internal/store"
	"claims-review-service/internal/workflow"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// App holds the application state, including configuration and AWS clients.
type App struct {
	env      config.Env
	s3c      *s3.Client
	pipeline *ingest.Pipeline
}

// main initializes the app and starts the Lambda handler.
func main() {
	env := config.MustLoad()
	cfg, endpoint, err := store.LoadAWSConfig(context.Background(), env.Region)
	if err != nil {
		log.Fatal(err)
	}

	s3c := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.UsePathStyle = true // localstack/dev friendliness
		}
	})

	st := store.NewDynamo(cfg, env.TasksTable, env.ChangesTable, env.UploadsTable)
	app := &App{
		env: env,
		s3c: s3c,
		pipeline: &ingest.Pipeline{
			Store:  st,
			Filter: &dedup.Filter{Log: st, AllowDuplicates: env.AllowDuplicateUploads},
			Engine: &workflow.Engine{Store: st, Strict: env.StrictTransitions},
		},
	}
	lambda.Start(app.handler)
}

// ---- Handler ----

// handler processes S3 event records, one uploaded CSV per record.
func (a *App) handler(ctx context.Context, ev events.S3Event) (any, error) {
	for _, rec := range ev.Records {
		if err := a.processS3Record(ctx, rec); err != nil {
			log.Printf("ingest: process error: %v", err)
		}
	}
	return nil, nil
}

// processS3Record fetches one uploaded CSV and runs it through the pipeline.
func (a *App) processS3Record(ctx context.Context, record events.S3EventRecord) error {
	bucket := record.S3.Bucket.Name
	keyEsc := record.S3.Object.Key
	key, _ := url.QueryUnescape(keyEsc)

	batchID, err := batchIDFromKey(key)
	if err != nil {
		return fmt.Errorf("bad key %q: %w", key, err)
	}

	obj, err := a.s3c.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Body.Close()

	actor := strings.TrimSpace(obj.Metadata["uploaded_by"])
	if actor == "" {
		actor = "system"
	}

	report, err := a.pipeline.Ingest(ctx, obj.Body, batchID, actor)
	if err != nil {
		return fmt.Errorf("ingest batch %s: %w", batchID, err)
	}
	log.Printf("ingested batch=%s rows=%d tasks=%d duplicates=%d invalid=%d",
		batchID, report.Rows, len(report.TaskIDs), report.Duplicates, report.Invalid)
	return nil
}

// batchIDFromKey derives the batch id from an uploads/<batch>.csv object key.
func batchIDFromKey(key string) (string, error) {
	if strings.ToLower(path.Ext(key)) != ".csv" {
		return "", fmt.Errorf("non-csv file")
	}
	parts := strings.Split(key, "/")
	if len(parts) != 2 || parts[0] != "uploads" {
		return "", fmt.Errorf("unexpected key shape")
	}
	return strings.TrimSuffix(parts[1], path.Ext(parts[1])), nil
}
