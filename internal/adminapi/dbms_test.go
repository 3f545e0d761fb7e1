package adminapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkincode/wagate/pkg/common"
)

func TestDbmsListTablesReportsRowCounts(t *testing.T) {
	env := newTestEnv(t, nil)
	seedTenantRow(t, env.db, "acme", common.ENABLED)

	rec := env.api(t, http.MethodGet, "/api/dbms/tables", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	list, ok := decodeEnvelope(t, rec)["data"].([]interface{})
	require.True(t, ok)

	found := false
	for _, item := range list {
		entry := item.(map[string]interface{})
		if entry["name"] == "tenant" {
			found = true
			assert.EqualValues(t, 1, entry["rows"])
		}
	}
	assert.True(t, found, "tenant table missing from listing")
}

func TestDbmsSchemaKnownTable(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.api(t, http.MethodGet, "/api/dbms/tables/wa_session/schema", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	assert.Equal(t, "wa_session", data["table"])

	columns, ok := data["columns"].([]interface{})
	require.True(t, ok)
	names := make([]string, 0, len(columns))
	for _, col := range columns {
		names = append(names, col.(map[string]interface{})["name"].(string))
	}
	assert.Contains(t, names, "tenant_code")
	assert.Contains(t, names, "state")
}

func TestDbmsSchemaUnknownTable(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.api(t, http.MethodGet, "/api/dbms/tables/pg_shadow/schema", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TABLE_NOT_FOUND", decodeEnvelope(t, rec)["error"])
}

func TestDbmsTableRowsPaged(t *testing.T) {
	env := newTestEnv(t, nil)
	seedTenantRow(t, env.db, "acme", common.ENABLED)
	seedTenantRow(t, env.db, "globex", common.ENABLED)

	rec := env.api(t, http.MethodGet, "/api/dbms/tables/tenant/rows?page=1&page_size=1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.EqualValues(t, 2, envelope["total"])
	rows, ok := envelope["data"].([]interface{})
	require.True(t, ok)
	assert.Len(t, rows, 1)
}

func TestDbmsQueryAllowsSingleSelect(t *testing.T) {
	env := newTestEnv(t, nil)
	seedTenantRow(t, env.db, "acme", common.ENABLED)

	rec := env.api(t, http.MethodPost, "/api/dbms/query", map[string]string{
		"sql": "SELECT code, status FROM tenant",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	assert.EqualValues(t, 1, data["count"])
}

func TestDbmsQueryRejectsWrites(t *testing.T) {
	env := newTestEnv(t, nil)
	seedTenantRow(t, env.db, "acme", common.ENABLED)

	for _, stmt := range []string{
		"UPDATE tenant SET status = 'disabled'",
		"DELETE FROM tenant",
		"SELECT 1; DROP TABLE tenant",
	} {
		rec := env.api(t, http.MethodPost, "/api/dbms/query", map[string]string{"sql": stmt})
		assert.Equal(t, http.StatusBadRequest, rec.Code, stmt)
		assert.Equal(t, "QUERY_REJECTED", decodeEnvelope(t, rec)["error"], stmt)
	}

	var count int64
	env.db.Table("tenant").Where("status = ?", common.ENABLED).Count(&count)
	assert.EqualValues(t, 1, count)
}
