package store

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// LoadAWSConfig loads the AWS configuration, pointing every client at a
// custom endpoint if AWS_ENDPOINT_URL is set (localstack/dev).
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, string, error) {
	endpoint := os.Getenv("AWS_ENDPOINT_URL") // e.g., http://localstack:4566
	if endpoint == "" {
		cfg, err := awsCfg.LoadDefaultConfig(ctx, awsCfg.WithRegion(region))
		return cfg, "", err
	}
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, r string, _ ...any) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:               endpoint,
			HostnameImmutable: true,
			PartitionID:       "aws",
		}, nil
	})
	cfg, err := awsCfg.LoadDefaultConfig(ctx, awsCfg.WithRegion(region), awsCfg.WithEndpointResolverWithOptions(resolver))
	return cfg, endpoint, err
}

// NewDynamo builds the DynamoDB store over the three workflow tables.
func NewDynamo(cfg aws.Config, tasksTable, changesTable, uploadsTable string) *Dynamo {
	return &Dynamo{
		DB:           dynamodb.NewFromConfig(cfg),
		TasksTable:   tasksTable,
		ChangesTable: changesTable,
		UploadsTable: uploadsTable,
	}
}
