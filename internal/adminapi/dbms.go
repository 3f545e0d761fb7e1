package adminapi

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/webserver"
)

const queryRowLimit = 500

type queryPayload struct {
	SQL string `json:"sql" validate:"required,min=1,max=4000"`
}

// registerDbmsRoutes registers database inspection routes
func registerDbmsRoutes() {
	webserver.ApiGET("/dbms/serverinfo", dbmsServerInfo)
	webserver.ApiGET("/dbms/tables", dbmsListTables)
	webserver.ApiGET("/dbms/tables/:name/schema", dbmsTableSchema)
	webserver.ApiGET("/dbms/tables/:name/rows", dbmsTableRows)
	webserver.ApiPOST("/dbms/query", dbmsQuery)
}

// tableModel resolves a table name to its registered model, which
// doubles as the allowlist for every identifier-taking route.
func tableModel(name string) interface{} {
	for _, model := range domain.Tables {
		tn, ok := model.(interface{ TableName() string })
		if ok && tn.TableName() == name {
			return model
		}
	}
	return nil
}

func dbmsServerInfo(c echo.Context) error {
	db := GetDB(c)

	versionSQL := "SELECT sqlite_version()"
	if strings.EqualFold(db.Name(), "postgres") {
		versionSQL = "SELECT version()"
	}
	var version string
	if err := db.Raw(versionSQL).Scan(&version).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query server version", err.Error())
	}

	return ok(c, map[string]interface{}{
		"dialect": db.Name(),
		"version": version,
		"tables":  len(domain.Tables),
	})
}

func dbmsListTables(c echo.Context) error {
	db := GetDB(c)

	type tableInfo struct {
		Name string `json:"name"`
		Rows int64  `json:"rows"`
	}
	infos := make([]tableInfo, 0, len(domain.Tables))
	for _, model := range domain.Tables {
		tn, ok := model.(interface{ TableName() string })
		if !ok {
			continue
		}
		var count int64
		if err := db.Table(tn.TableName()).Count(&count).Error; err != nil {
			return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to count table rows", err.Error())
		}
		infos = append(infos, tableInfo{Name: tn.TableName(), Rows: count})
	}

	return ok(c, infos)
}

func dbmsTableSchema(c echo.Context) error {
	name := strings.TrimSpace(c.Param("name"))
	model := tableModel(name)
	if model == nil {
		return fail(c, http.StatusNotFound, "TABLE_NOT_FOUND", "Unknown table", nil)
	}

	columnTypes, err := GetDB(c).Migrator().ColumnTypes(model)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to read table schema", err.Error())
	}

	type columnInfo struct {
		Name       string `json:"name"`
		Type       string `json:"type"`
		Nullable   bool   `json:"nullable"`
		PrimaryKey bool   `json:"primary_key"`
	}
	columns := make([]columnInfo, 0, len(columnTypes))
	for _, ct := range columnTypes {
		nullable, _ := ct.Nullable()
		pk, _ := ct.PrimaryKey()
		columns = append(columns, columnInfo{
			Name:       ct.Name(),
			Type:       ct.DatabaseTypeName(),
			Nullable:   nullable,
			PrimaryKey: pk,
		})
	}

	return ok(c, map[string]interface{}{"table": name, "columns": columns})
}

func dbmsTableRows(c echo.Context) error {
	name := strings.TrimSpace(c.Param("name"))
	if tableModel(name) == nil {
		return fail(c, http.StatusNotFound, "TABLE_NOT_FOUND", "Unknown table", nil)
	}

	page, pageSize := parsePagination(c)
	db := GetDB(c).Table(name)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to count table rows", err.Error())
	}

	rows, err := db.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Rows()
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query table rows", err.Error())
	}
	defer rows.Close()

	records, err := scanGeneric(rows)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to scan table rows", err.Error())
	}

	return paged(c, records, total, page, pageSize)
}

// dbmsQuery runs a read-only statement. Anything but a single SELECT
// is rejected before touching the database.
func dbmsQuery(c echo.Context) error {
	var payload queryPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse query parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(payload.SQL), ";"))
	if !strings.HasPrefix(strings.ToUpper(stmt), "SELECT") || strings.Contains(stmt, ";") {
		return fail(c, http.StatusBadRequest, "QUERY_REJECTED", "Only a single SELECT statement is allowed", nil)
	}

	rows, err := GetDB(c).Raw(stmt).Rows()
	if err != nil {
		return fail(c, http.StatusBadRequest, "QUERY_FAILED", "Query execution failed", err.Error())
	}
	defer rows.Close()

	records, err := scanGeneric(rows)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to scan query result", err.Error())
	}

	return ok(c, map[string]interface{}{"rows": records, "count": len(records)})
}

// scanGeneric reads rows without a model, decoding []byte cells to
// strings so the JSON payload stays readable. Capped at queryRowLimit.
func scanGeneric(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, 0, 16)
	for rows.Next() && len(out) < queryRowLimit {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			record[col] = v
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
