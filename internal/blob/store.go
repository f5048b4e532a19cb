// Package blob はキー→バイト列のオブジェクトストア抽象を定義する。
//
// Storeは一貫性を一切保証しない。Putの直後のGetが古いデータや
// ErrNotFoundを返すことがあり、呼び出し側はすべての書き込みを
// 「いずれ見える」、すべての読み出しを「古い可能性がある」ものとして
// 扱わなければならない。この弱い契約の上での整合はreconcileパッケージの
// 責務であり、バックエンドがたまたま強い一貫性を持っていても
// 呼び出し側はそれに依存しない。
package blob

import (
	"context"
	"errors"
)

// ErrNotFound はキーが（少なくとも現時点の読み出しでは）存在しない
// ことを示す。結果整合性のため、存在するはずのキーに対しても
// 返りうる点に注意。
var ErrNotFound = errors.New("blob: key not found")

// Store はオブジェクトストアのインターフェース。
type Store interface {
	// Put はキーに対して値を保存する。既存キーへの上書きは冪等。
	Put(ctx context.Context, key string, data []byte) error

	// Get はキーの値を取得する。見つからない場合はErrNotFoundを返す。
	Get(ctx context.Context, key string) ([]byte, error)

	// List は指定プレフィックスを持つキーの一覧を返す。
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete はキーを削除する。存在しないキーの削除はエラーにならない。
	Delete(ctx context.Context, key string) error
}

// Pinger はバックエンドの疎通確認インターフェース。
// ヘルスチェックエンドポイントから利用する。
type Pinger interface {
	Ping(ctx context.Context) error
}
