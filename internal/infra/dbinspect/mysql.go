package dbinspect

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
)

// mysqlInspector samples rows and reads schema metadata over database/sql.
type mysqlInspector struct {
	db          *sql.DB
	owner       string
	sampleLimit int
	logger      *logger.Logger
}

func openMySQL(ctx context.Context, connString string, sampleLimit int, log *logger.Logger) (*mysqlInspector, error) {
	db, err := sql.Open("mysql", connString)
	if err != nil {
		return nil, scanning.NewConnectionError("mysql", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, scanning.NewConnectionError("mysql", err)
	}
	return &mysqlInspector{
		db:          db,
		owner:       ownerFromDSN(connString),
		sampleLimit: sampleLimit,
		logger:      log,
	}, nil
}

// ownerFromDSN reports the connection's user. MySQL has no per-table owner,
// so the connecting user stands in for it.
func ownerFromDSN(connString string) string {
	cfg, err := mysql.ParseDSN(connString)
	if err != nil || cfg.User == "" {
		return scanning.UnknownOwner
	}
	return cfg.User
}

func (m *mysqlInspector) SampleRows(ctx context.Context, table string) ([]scanning.Row, error) {
	if err := validateIdent(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM `%s` LIMIT ?", table)
	rows, err := m.db.QueryContext(ctx, query, m.sampleLimit)
	if err != nil {
		return nil, scanning.NewConnectionError("mysql", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, scanning.NewConnectionError("mysql", err)
	}

	var sampled []scanning.Row
	for rows.Next() {
		values := make([]any, len(columns))
		dests := make([]any, len(columns))
		for i := range values {
			dests[i] = &values[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, scanning.NewConnectionError("mysql", err)
		}

		row := make(scanning.Row, len(columns))
		for i, name := range columns {
			row[name] = normalizeValue(values[i])
		}
		sampled = append(sampled, row)
	}
	if err := rows.Err(); err != nil {
		return nil, scanning.NewConnectionError("mysql", err)
	}
	return sampled, nil
}

// TableOwner reports the connecting user for every table.
func (m *mysqlInspector) TableOwner(ctx context.Context, table string) string {
	return m.owner
}

func (m *mysqlInspector) ListTables(ctx context.Context) ([]string, error) {
	const query = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, scanning.NewConnectionError("mysql", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, scanning.NewConnectionError("mysql", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, scanning.NewConnectionError("mysql", err)
	}
	return tables, nil
}

func (m *mysqlInspector) ListColumns(ctx context.Context, table string) (map[string]string, error) {
	const query = `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?`

	rows, err := m.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, scanning.NewConnectionError("mysql", err)
	}
	defer rows.Close()

	columns := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, scanning.NewConnectionError("mysql", err)
		}
		columns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return nil, scanning.NewConnectionError("mysql", err)
	}
	return columns, nil
}

func (m *mysqlInspector) Close() {
	if err := m.db.Close(); err != nil {
		m.logger.Debug(context.Background(), "closing mysql connection failed", "error", err)
	}
}

// normalizeValue converts driver byte slices to strings so pattern matching
// sees text values.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
