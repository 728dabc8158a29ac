package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/common"
	"github.com/airbusgeo/nbr-ingester/service"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	landsatAwsBucket      = "usgs-landsat"
	landsatAwsKeyTemplate = "collection02/{LEVEL}/standard/{COLLECTION}/{YEAR}/{PATH}/{ROW}/{SCENE}/{FILE}"
	landsatAwsRegion      = "us-west-2"
)

// LandsatAwsProvider implements BandProvider for the requester-pays usgs-landsat bucket
type LandsatAwsProvider struct {
	accessKeyId     string
	secretAccessKey string
	// Endpoint overrides the default S3 endpoint (optional)
	Endpoint string
}

// Name implements BandProvider
func (ip *LandsatAwsProvider) Name() string {
	return "LandsatAws"
}

// NewLandsatAwsProvider creates a new BandProvider from LandsatAws
// If accessKeyId is empty, the default credential chain is used.
func NewLandsatAwsProvider(accessKeyId, secretAccessKey string) *LandsatAwsProvider {
	return &LandsatAwsProvider{accessKeyId: accessKeyId, secretAccessKey: secretAccessKey}
}

// objectKey returns the key of the band file in the bucket
func objectKey(displayID string) (string, error) {
	productID, err := common.ProductID(displayID)
	if err != nil {
		return "", err
	}
	info, err := common.Info(productID)
	if err != nil {
		return "", err
	}
	return common.FormatBrackets(landsatAwsKeyTemplate, info, map[string]string{"FILE": filepath.Base(displayID)}), nil
}

func (ip *LandsatAwsProvider) client(ctx context.Context) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(landsatAwsRegion)}
	if ip.accessKeyId != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(ip.accessKeyId, ip.secretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("config.LoadDefaultConfig: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ip.Endpoint != "" {
			o.BaseEndpoint = aws.String(ip.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Download implements BandProvider
func (ip *LandsatAwsProvider) Download(ctx context.Context, file entities.BandFile, localDir string) error {
	key, err := objectKey(file.DisplayID)
	if err != nil {
		return fmt.Errorf("LandsatAwsProvider.%w", err)
	}
	client, err := ip.client(ctx)
	if err != nil {
		return fmt.Errorf("LandsatAwsProvider.%w", err)
	}

	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 10 * 1024 * 1024 // 10MB per part
	})

	if err := downloadSingleObjectToFile(ctx, downloader, landsatAwsBucket, key, bandFilePath(localDir, file.DisplayID)); err != nil {
		return fmt.Errorf("LandsatAwsProvider.%w", err)
	}
	return nil
}

func downloadSingleObjectToFile(ctx context.Context, downloader *manager.Downloader, bucketName string, objectKey string, localPath string) error {
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("downloadSingleObjectToFile: failed to create file %s: %w", localPath, err)
	}
	defer file.Close()

	_, err = downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket:       aws.String(bucketName),
		Key:          aws.String(objectKey),
		RequestPayer: "requester",
	})
	if err != nil {
		file.Close()
		os.Remove(localPath)
		return service.MakeTemporary(fmt.Errorf("downloadSingleObjectToFile: failed to download object %s:%s: %w",
			bucketName, objectKey, err))
	}

	return nil
}
