// Package tryon generates virtual try-on composites through a Bedrock image
// model and stores the results in S3.
package tryon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

type BedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// GenerateInput carries the two source images as base64-encoded bytes:
// the shopper photo and the garment product image.
type GenerateInput struct {
	PersonImageB64  string
	GarmentImageB64 string
}

// InvokeTryOnModel calls the Nova Canvas virtual try-on task and returns the
// composite image bytes.
func InvokeTryOnModel(ctx context.Context, c BedrockClient, in GenerateInput) ([]byte, error) {
	modelID := strings.TrimSpace(os.Getenv("BEDROCK_MODEL_ID"))
	if modelID == "" {
		return nil, fmt.Errorf("missing env BEDROCK_MODEL_ID")
	}
	if in.PersonImageB64 == "" || in.GarmentImageB64 == "" {
		return nil, fmt.Errorf("both person and garment images are required")
	}

	payload := map[string]any{
		"taskType": "VIRTUAL_TRY_ON",
		"virtualTryOnParams": map[string]any{
			"sourceImage":    in.PersonImageB64,
			"referenceImage": in.GarmentImageB64,
			"maskType":       "GARMENT",
		},
		"imageGenerationConfig": map[string]any{
			"numberOfImages": 1,
			"quality":        "standard",
		},
	}
	body, _ := json.Marshal(payload)

	out, err := c.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock InvokeModel: %w", err)
	}

	var raw struct {
		Images []string `json:"images"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(out.Body, &raw); err != nil {
		return nil, fmt.Errorf("bedrock response unmarshal: %w", err)
	}
	if raw.Error != "" {
		return nil, fmt.Errorf("bedrock model error: %s", raw.Error)
	}
	if len(raw.Images) == 0 {
		return nil, fmt.Errorf("bedrock returned no images")
	}

	img, err := base64.StdEncoding.DecodeString(raw.Images[0])
	if err != nil {
		return nil, fmt.Errorf("bedrock image decode: %w", err)
	}
	return img, nil
}
