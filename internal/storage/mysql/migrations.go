package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"CertVerify-Chain/deploy/migrations"
)

const (
	createSchemaTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`
	selectVersionsSQL = `SELECT version FROM schema_migrations`
	recordVersionSQL  = `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`
)

// schemaMigration 对应 deploy/migrations 下的一个 SQL 文件。
type schemaMigration struct {
	Version    string
	File       string
	Statements []string
}

// migrator 把内嵌的流水表结构同步到数据库，每个版本只执行一次。
type migrator struct {
	db     *sql.DB
	source fs.FS
	now    func() time.Time
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	m := &migrator{db: db, source: migrations.Files, now: time.Now}
	return m.up(ctx)
}

func (m *migrator) up(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createSchemaTableSQL); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}
	done, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}
	all, err := readMigrations(m.source)
	if err != nil {
		return err
	}
	for _, mig := range all {
		if done[mig.Version] {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return err
		}
	}
	return nil
}

func (m *migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, selectVersionsSQL)
	if err != nil {
		return nil, fmt.Errorf("查询已执行的迁移失败: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("读取迁移版本失败: %w", err)
		}
		done[version] = true
	}
	return done, rows.Err()
}

// apply 在一个事务里执行迁移语句并登记版本。
func (m *migrator) apply(ctx context.Context, mig schemaMigration) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range mig.Statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("迁移 %s 执行失败: %w", mig.File, err)
		}
	}
	if _, err = tx.ExecContext(ctx, recordVersionSQL, mig.Version, m.now().Unix()); err != nil {
		return fmt.Errorf("登记迁移 %s 失败: %w", mig.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移 %s 失败: %w", mig.Version, err)
	}
	return nil
}

// readMigrations 读取全部 .sql 文件并按版本排序，空文件会被跳过。
func readMigrations(source fs.FS) ([]schemaMigration, error) {
	files, err := fs.Glob(source, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("列出迁移文件失败: %w", err)
	}

	out := make([]schemaMigration, 0, len(files))
	for _, file := range files {
		content, err := fs.ReadFile(source, file)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", file, err)
		}
		stmts := sqlStatements(string(content))
		if len(stmts) == 0 {
			continue
		}
		out = append(out, schemaMigration{Version: migrationVersion(file), File: file, Statements: stmts})
	}

	slices.SortFunc(out, func(a, b schemaMigration) int {
		if c := strings.Compare(a.Version, b.Version); c != 0 {
			return c
		}
		return strings.Compare(a.File, b.File)
	})
	return out, nil
}

// sqlStatements 去掉 "--" 注释行后按分号切分语句。
func sqlStatements(content string) []string {
	var body strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	var stmts []string
	for _, part := range strings.Split(body.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// migrationVersion 取文件名中第一个下划线之前的部分，例如 0001_create.sql 为 0001。
func migrationVersion(file string) string {
	if version, _, ok := strings.Cut(file, "_"); ok && version != "" {
		return version
	}
	version, _, _ := strings.Cut(file, ".")
	return version
}
