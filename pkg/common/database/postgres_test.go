package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/synaptica-ai/curator/pkg/common/config"
)

func TestPostgresDSN(t *testing.T) {
	cfg := &config.Config{
		PostgresHost:     "db.internal",
		PostgresPort:     "5433",
		PostgresUser:     "curator",
		PostgresPassword: "secret",
		PostgresDB:       "mappings",
		PostgresSSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal user=curator password=secret dbname=mappings port=5433 sslmode=require application_name=curator",
		postgresDSN(cfg))
}
