package scanning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/pii-sentinel/internal/domain/pii"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
)

// fakeInspector serves canned rows and metadata for orchestrator tests.
type fakeInspector struct {
	rows    map[string][]scanning.Row
	owners  map[string]string
	tables  []string
	columns map[string]map[string]string
	err     error
}

func (f *fakeInspector) SampleRows(ctx context.Context, table string) ([]scanning.Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[table], nil
}

func (f *fakeInspector) TableOwner(ctx context.Context, table string) string {
	if owner, ok := f.owners[table]; ok {
		return owner
	}
	return scanning.UnknownOwner
}

func (f *fakeInspector) ListTables(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tables, nil
}

func (f *fakeInspector) ListColumns(ctx context.Context, table string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.columns[table], nil
}

func (f *fakeInspector) Close() {}

func newTestOrchestrator(t *testing.T) *DBOrchestrator {
	t.Helper()
	reg, err := pii.NewRegistry()
	require.NoError(t, err)
	return NewDBOrchestrator(reg, testLogger(), noop.NewTracerProvider().Tracer("test"))
}

func TestExtractDBName(t *testing.T) {
	tests := []struct {
		conn string
		want string
	}{
		{"postgres://user@host/salesdb", "salesdb"},
		{"postgres://user:pw@host:5432/salesdb?sslmode=disable", "salesdb"},
		{"mysql://root@tcp(host)/inventory", "inventory"},
		{"no-database-here", scanning.UnknownDatabase},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, ExtractDBName(tt.conn), tt.conn)
	}
}

func TestScanTablesSalesDB(t *testing.T) {
	o := newTestOrchestrator(t)

	insp := &fakeInspector{
		rows: map[string][]scanning.Row{
			"customers": {
				{"email": "jane.doe@example.com"},
			},
			"orders": {},
		},
		owners: map[string]string{"customers": "sales_admin"},
	}

	report, err := o.ScanTables(context.Background(),
		insp, "postgres://user@host/salesdb",
		[]string{"customers", "orders"}, []string{"email"})
	require.NoError(t, err)

	require.Equal(t, "salesdb", report.DBName)
	require.Len(t, report.Tables, 2)
	require.Len(t, report.TableScans, 2)

	customers := report.Tables[0]
	require.Equal(t, "customers", customers.Name)
	require.Equal(t, 1, customers.RowCount)
	require.Equal(t, "sales_admin", customers.Owner)
	require.Equal(t, 1, customers.Classifications.PII)

	cols := report.TableScans[0].Columns
	require.Len(t, cols, 1)
	require.Equal(t, "email", cols[0].Name)
	require.Equal(t, 1, cols[0].Scanned)
	require.Equal(t, 1, cols[0].Matched)
	require.Equal(t, "100.00", cols[0].Accuracy)

	orders := report.Tables[1]
	require.Equal(t, "orders", orders.Name)
	require.Equal(t, 0, orders.RowCount)
	require.Equal(t, scanning.UnknownOwner, orders.Owner)
	require.Empty(t, report.TableScans[1].Columns)
}

func TestScanTablesAccuracyPercentage(t *testing.T) {
	o := newTestOrchestrator(t)

	rows := make([]scanning.Row, 10)
	for i := range rows {
		if i < 4 {
			rows[i] = scanning.Row{"contact": "user@example.com"}
		} else {
			rows[i] = scanning.Row{"contact": "n/a"}
		}
	}

	insp := &fakeInspector{rows: map[string][]scanning.Row{"leads": rows}}

	report, err := o.ScanTables(context.Background(),
		insp, "postgres://host/crm", []string{"leads"}, []string{"email"})
	require.NoError(t, err)

	cols := report.TableScans[0].Columns
	require.Len(t, cols, 1)
	require.Equal(t, 10, cols[0].Scanned)
	require.Equal(t, 4, cols[0].Matched)
	require.Equal(t, "40.00", cols[0].Accuracy)
}

func TestScanTablesCategoryTallies(t *testing.T) {
	o := newTestOrchestrator(t)

	insp := &fakeInspector{
		rows: map[string][]scanning.Row{
			"sessions": {
				{"client_ip": "10.1.2.3", "holder": "jane.doe@example.com"},
			},
		},
	}

	report, err := o.ScanTables(context.Background(),
		insp, "postgres://host/telemetry",
		[]string{"sessions"}, []string{"email", "ip_address"})
	require.NoError(t, err)

	tally := report.Tables[0].Classifications
	require.Equal(t, 1, tally.PII)
	require.Equal(t, 1, tally.Behavioral)
	require.Equal(t, 0, tally.Identifiers)
}

func TestScanTablesAbortsOnConnectionFailure(t *testing.T) {
	o := newTestOrchestrator(t)

	cause := errors.New("connection refused")
	insp := &fakeInspector{err: scanning.NewConnectionError("postgres", cause)}

	_, err := o.ScanTables(context.Background(),
		insp, "postgres://host/db", []string{"a", "b"}, nil)
	require.Error(t, err)

	var connErr *scanning.ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestClassifySchemaInfersFromColumnNames(t *testing.T) {
	o := newTestOrchestrator(t)

	insp := &fakeInspector{
		tables: []string{"users"},
		columns: map[string]map[string]string{
			"users": {
				"email_address": "text",
				"created_at":    "timestamp",
			},
		},
	}

	result, err := o.ClassifySchema(context.Background(), insp)
	require.NoError(t, err)

	users := result["users"]
	require.Equal(t, "email", users["email_address"].PIIType)
	require.Equal(t, "text", users["email_address"].DataType)
	require.Empty(t, users["created_at"].PIIType)
}
