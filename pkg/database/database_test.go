package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertBuilder_OnConflictUpdate(t *testing.T) {
	ib := NewInsertBuilder()
	ib.InsertInto("customers").Cols("id", "segment").Values("c1", "activo")
	ib.OnConflictUpdate([]string{"id"}, "segment")

	query, args := ib.Build()

	assert.Contains(t, query, "INSERT INTO customers (id, segment) VALUES ($1, $2)")
	assert.Contains(t, query, "ON CONFLICT (id) DO UPDATE SET segment = EXCLUDED.segment")
	assert.Equal(t, []any{"c1", "activo"}, args)
}

func TestInsertBuilder_OnConflictDoNothing(t *testing.T) {
	ib := NewInsertBuilder()
	ib.InsertInto("interaction_logs").Cols("id").Values("x")
	ib.OnConflictDoNothing("provider_message_id", "event_type")

	query, _ := ib.Build()
	assert.Contains(t, query, "ON CONFLICT (provider_message_id, event_type) DO NOTHING")
}

func TestJSONB_ScanAndValue(t *testing.T) {
	var j JSONB[map[string]int]
	require.NoError(t, j.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, 1, j.GetValue()["a"])

	v, err := j.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(v.([]byte)))

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j.GetValue())

	assert.Error(t, j.Scan(42))
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "u", Password: "p", Name: "lifecycle", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=lifecycle sslmode=disable", cfg.DSN())
}
