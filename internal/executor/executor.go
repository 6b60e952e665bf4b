// Package executor implements the Query Executor: opens a driver-level
// connection to the Local Bridge's loopback port, runs one statement, and
// normalizes the result into field metadata + row-major cells + row
// count.
//
// Grounded on the teacher's getDb helper in cmd/server/server.go (open a
// *gorm.DB, point it at a connection string, AutoMigrate a fixed model)
// generalized to dial the bridge port instead of a local file and to read
// back column metadata via db.Raw(...).Rows() instead of a fixed schema.
// Driver stack (gorm.io/gorm, gorm.io/driver/postgres, gorm.io/driver/mysql)
// is unchanged from the teacher.
package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gomysql "gorm.io/driver/mysql"
	gopostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mateusfdl/infisical/internal/errs"
	"github.com/mateusfdl/infisical/internal/model"
)

const connectTimeout = 10 * time.Second

// Executor is the Query Executor.
type Executor struct {
	log zerolog.Logger
}

// New constructs an Executor.
func New(log zerolog.Logger) *Executor {
	return &Executor{log: log.With().Str("component", "query-executor").Logger()}
}

// Execute opens a driver connection to 127.0.0.1:localPort, runs sql with
// the given params, and returns the normalized result. The driver
// connection and its underlying pool are always closed before returning,
// on both the success and failure paths.
func (e *Executor) Execute(
	ctx context.Context,
	kind model.ResourceKind,
	creds model.DatabaseCredentials,
	localPort int,
	sql string,
	params []interface{},
) (*model.QueryResult, error) {
	dialector, err := openDialector(kind, creds, localPort)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errs.Driverf("Failed to open database connection: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.Driverf("Failed to open database connection: %v", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			e.log.Debug().Err(cerr).Msg("error closing driver connection")
		}
	}()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(connectCtx); err != nil {
		return nil, errs.Driverf("Failed to connect to database: %v", err)
	}

	return e.runQuery(ctx, db, kind, sql, params)
}

func (e *Executor) runQuery(ctx context.Context, db *gorm.DB, kind model.ResourceKind, sql string, params []interface{}) (*model.QueryResult, error) {
	sql = bindPlaceholders(kind, sql)

	rows, err := db.WithContext(ctx).Raw(sql, params...).Rows()
	if err != nil {
		return nil, errs.Driverf("Query failed: %v", err)
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, errs.Driverf("Failed to read column metadata: %v", err)
	}

	fields := make([]model.Field, len(cols))
	for i, c := range cols {
		fields[i] = model.Field{Name: c.Name(), DataType: c.DatabaseTypeName()}
	}

	result := &model.QueryResult{Fields: fields, Rows: [][]interface{}{}}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errs.Driverf("Failed to read row: %v", err)
		}
		result.Rows = append(result.Rows, values)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Driverf("Query failed: %v", err)
	}

	return result, nil
}

func openDialector(kind model.ResourceKind, creds model.DatabaseCredentials, localPort int) (gorm.Dialector, error) {
	switch kind {
	case model.ResourcePostgres:
		dsn := fmt.Sprintf(
			"host=127.0.0.1 port=%d user=%s password=%s dbname=%s sslmode=disable",
			localPort, escapeDSNValue(creds.Username), escapeDSNValue(creds.Password), escapeDSNValue(creds.Database),
		)
		return gopostgres.Open(dsn), nil
	case model.ResourceMySQL:
		dsn := fmt.Sprintf(
			"%s:%s@tcp(127.0.0.1:%d)/%s?parseTime=true&tls=false",
			creds.Username, creds.Password, localPort, creds.Database,
		)
		return gomysql.Open(dsn), nil
	default:
		return nil, errs.Driver("Unsupported resource kind")
	}
}

// escapeDSNValue quotes a libpq connection-string value so embedded
// spaces or quotes in credentials don't break field parsing.
func escapeDSNValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// bindPlaceholders translates the `?` positional placeholders accepted by
// the HTTP API into the target dialect's native placeholder syntax: `?`
// is already MySQL's native syntax, so only Postgres needs rewriting into
// `$1..$n`. Placeholders inside single-quoted string literals are left
// untouched.
func bindPlaceholders(kind model.ResourceKind, sql string) string {
	if kind != model.ResourcePostgres {
		return sql
	}

	var b strings.Builder
	n := 0
	inQuote := false
	for _, r := range sql {
		if r == '\'' {
			inQuote = !inQuote
		}
		if r == '?' && !inQuote {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
