package tryon

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func ResultsBucket() string {
	if v := os.Getenv("TRYON_RESULTS_BUCKET"); v != "" {
		return v
	}
	return "stylebox-tryon-results"
}

// StoreComposite uploads a generated image under tryon/<shop>/<session>.png
// and returns the object key.
func StoreComposite(ctx context.Context, c S3Client, shopDomain, sessionID string, img []byte) (string, error) {
	if shopDomain == "" || sessionID == "" {
		return "", fmt.Errorf("shop domain and session id are required")
	}
	key := fmt.Sprintf("tryon/%s/%s.png", shopDomain, sessionID)
	_, err := c.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(ResultsBucket()),
		Key:         aws.String(key),
		Body:        bytes.NewReader(img),
		ContentType: aws.String("image/png"),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("s3 putobject failed: %w", err)
	}
	return key, nil
}
