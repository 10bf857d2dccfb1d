package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"oracle-service/internal/config"
	"oracle-service/internal/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage defines bucket names used by the oracle.
var Storage = struct {
	Assessments string
}{
	Assessments: "damage-assessments",
}

var BucketNames = []string{
	Storage.Assessments,
}

// MinioClient archives assessment evidence as immutable JSON objects.
type MinioClient struct {
	client *minio.Client
	config config.MinioConfig
}

func NewMinioClient(cfg config.MinioConfig) (*MinioClient, error) {
	endpoint := strings.TrimPrefix(cfg.MinioURL, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	isSecure, err := strconv.ParseBool(cfg.MinioSecure)
	if err != nil {
		log.Printf("Invalid value for MinIO secure flag: %v. Defaulting to false.", err)
		isSecure = false
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: isSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mc := &MinioClient{client: minioClient, config: cfg}
	for _, bucketName := range BucketNames {
		if err := mc.ensureBucket(ctx, bucketName); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket %s: %w", bucketName, err)
		}
	}

	log.Printf("MinIO client initialized at %s with %d buckets", cfg.MinioURL, len(BucketNames))
	return mc, nil
}

func (mc *MinioClient) ensureBucket(ctx context.Context, bucketName string) error {
	exists, err := mc.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("error checking bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := mc.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: mc.config.MinioLocation}); err != nil {
		return fmt.Errorf("error creating bucket %s: %w", bucketName, err)
	}
	log.Printf("Created bucket: %s", bucketName)
	return nil
}

// AssessmentObjectName is policies/<policy>/<assessed_at>.json so that a
// reassessment adds a new object instead of overwriting the previous one.
func AssessmentObjectName(assessment *models.DamageAssessment) string {
	return fmt.Sprintf("policies/%s/%s.json",
		assessment.PolicyID, assessment.AssessedAt.UTC().Format("20060102T150405.000000000Z"))
}

func (mc *MinioClient) ArchiveAssessment(ctx context.Context, assessment *models.DamageAssessment) error {
	data, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment for policy %s: %w", assessment.PolicyID, err)
	}

	objectName := AssessmentObjectName(assessment)
	_, err = mc.client.PutObject(ctx, Storage.Assessments, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				"policy-id": assessment.PolicyID,
				"source":    string(assessment.Source),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to upload %s to bucket %s: %w", objectName, Storage.Assessments, err)
	}
	return nil
}

// AssessmentHistory lists every archived assessment of a policy, oldest first.
func (mc *MinioClient) AssessmentHistory(ctx context.Context, policyID string) ([]models.DamageAssessment, error) {
	var history []models.DamageAssessment
	for object := range mc.client.ListObjects(ctx, Storage.Assessments, minio.ListObjectsOptions{
		Prefix:    "policies/" + policyID + "/",
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list assessments for policy %s: %w", policyID, object.Err)
		}

		assessment, err := mc.readAssessment(ctx, object.Key)
		if err != nil {
			return nil, err
		}
		history = append(history, *assessment)
	}
	return history, nil
}

func (mc *MinioClient) readAssessment(ctx context.Context, objectName string) (*models.DamageAssessment, error) {
	object, err := mc.client.GetObject(ctx, Storage.Assessments, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", objectName, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", objectName, err)
	}

	var assessment models.DamageAssessment
	if err := json.Unmarshal(data, &assessment); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", objectName, err)
	}
	return &assessment, nil
}

func (mc *MinioClient) GetClient() *minio.Client {
	return mc.client
}
