package database

import (
	"sync"
	"testing"

	"github.com/blnkfinance/repay/config"
	"github.com/stretchr/testify/assert"
)

func TestGetDBConnection_Failure(t *testing.T) {
	// Reset the instance and once for testing purposes
	instance = nil
	once = sync.Once{}

	// Create a mock configuration with invalid DNS
	mockConfig := &config.Configuration{
		DataSource: config.DataSourceConfig{
			Dns: "invalid-dns",
		},
	}

	// Expect error when connecting to DB with invalid DNS
	_, err := GetDBConnection(mockConfig)
	assert.Error(t, err)
}

func TestConnectDB_Failure(t *testing.T) {
	db, err := ConnectDB(config.DataSourceConfig{Dns: "invalid-dns", MaxOpenConns: 1, MaxIdleConns: 1})
	assert.Error(t, err)
	assert.Nil(t, db)
}
