package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
)

func TestBuildOptions(t *testing.T) {
	cfg := ClientConfig{Host: "ch", Port: 9440, Database: "sf", User: "u", Password: "p"}
	WithAsyncInsert(true, true)(&cfg)
	WithMaxExecutionTime(90 * time.Second)(&cfg)

	o := buildOptions(cfg)
	assert.Equal(t, []string{"ch:9440"}, o.Addr)
	assert.Equal(t, clickhouse.Native, o.Protocol)
	assert.Equal(t, "sf", o.Auth.Database)
	assert.Equal(t, 90, o.Settings["max_execution_time"])
	assert.Equal(t, 1, o.Settings["async_insert"])
	assert.Equal(t, 1, o.Settings["wait_for_async_insert"])

	WithHTTP(true)(&cfg)
	assert.Equal(t, clickhouse.HTTP, buildOptions(cfg).Protocol)
}

func TestNewClient_RequiresHost(t *testing.T) {
	_, err := NewClient(context.Background())
	assert.Error(t, err)
}
