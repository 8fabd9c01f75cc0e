package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"backend/internal/handlers"
	"backend/internal/logging"
)

func main() {
	logger := logging.New()
	defer logger.Sync()

	api, err := handlers.NewAPI(context.Background(), logger)
	if err != nil {
		log.Fatalf("wire api: %v", err)
	}
	lambda.Start(api.HandleOrders)
}
