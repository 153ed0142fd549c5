// Package config handles the environment settings and the job files that
// describe which sources are read and where their chunks are written.
package config

import (
	"os"
)

// Config holds the connection settings, typically loaded from environment
// variables (populated by the .env file in main.go). Every field is optional;
// a connector that needs one reports its absence when it is built.
type Config struct {
	SQLConnString      string
	MongoConnString    string
	PostgresConnString string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	LogLevel           string
}

// LoadConfig loads application settings from environment variables.
func LoadConfig() (*Config, error) {
	return &Config{
		SQLConnString:      os.Getenv("SQL_CONNECTION_STRING"),
		MongoConnString:    os.Getenv("MONGO_CONNECTION_STRING"),
		PostgresConnString: os.Getenv("POSTGRES_CONNECTION_STRING"),
		AWSRegion:          os.Getenv("AWS_REGION"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		LogLevel:           os.Getenv("ACK_LOG_LEVEL"),
	}, nil
}
