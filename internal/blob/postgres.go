package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore はPostgreSQLの単一テーブルをキー→バイト列ストアとして
// 使うStore実装。セッションを複数インスタンスで共有する構成向け。
// スキーマはdatabaseパッケージのマイグレーションで管理する
// （blobsテーブル: key TEXT PRIMARY KEY, data BYTEA, updated_at）。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore は新しいPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put はキーに値をUPSERTで保存する。
func (p *PostgresStore) Put(ctx context.Context, key string, data []byte) error {
	query := `
		INSERT INTO blobs (key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

	if _, err := p.db.ExecContext(ctx, query, key, data); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Get はキーの値を返す。
func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

// List はプレフィックスに一致するキーの一覧をソート済みで返す。
func (p *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key FROM blobs WHERE key LIKE $1 || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keys: %w", err)
	}
	return keys, nil
}

// Delete はキーを削除する。存在しないキーでもエラーにならない。
func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Ping はデータベースへの疎通を確認する。
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
