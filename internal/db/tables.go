package db

import "os"

func ShopsTableName() string {
	return os.Getenv("SHOPS_TABLE")
}

func OrdersTableName() string {
	return os.Getenv("TRYON_ORDERS_TABLE")
}

func UsageTableName() string {
	return os.Getenv("USAGE_TABLE")
}

func OAuthStateTableName() string {
	return os.Getenv("OAUTH_STATE_TABLE")
}
