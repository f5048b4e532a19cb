package blob

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore はインメモリのStore実装。
// テストと単一プロセスでの開発実行に使用する。
//
// VisibilityDelayを設定すると、Putされた値がその期間だけGet/Listに
// 見えない（直前の値または不在が見える）状態になり、本番バックエンドの
// 結果整合性を決定的に再現できる。0の場合は即時に可視となる。
type MemoryStore struct {
	mu              sync.RWMutex
	objects         map[string]memoryObject
	visibilityDelay time.Duration
	now             func() time.Time
}

type memoryObject struct {
	data      []byte
	prev      []byte
	hadPrev   bool
	visibleAt time.Time
}

// NewMemoryStore は新しいMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

// NewMemoryStoreWithDelay は書き込みが可視になるまでの遅延付きで
// MemoryStoreを生成する。結果整合性の挙動をテストするために使う。
func NewMemoryStoreWithDelay(delay time.Duration, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		objects:         make(map[string]memoryObject),
		visibilityDelay: delay,
		now:             now,
	}
}

// Put はキーに値を保存する。
func (m *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)

	obj := memoryObject{data: buf, visibleAt: m.now().Add(m.visibilityDelay)}
	if old, ok := m.objects[key]; ok {
		// 遅延窓の間は直前に可視だった値を見せ続ける
		obj.prev, obj.hadPrev = old.visible(m.now())
	}
	m.objects[key] = obj
	return nil
}

// visible は現時点で読み出しに見える値を返す。
func (o memoryObject) visible(now time.Time) ([]byte, bool) {
	if !now.Before(o.visibleAt) {
		return o.data, true
	}
	return o.prev, o.hadPrev
}

// Get はキーの値を返す。
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := obj.visible(m.now())
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// List はプレフィックスに一致するキーをソート済みで返す。
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key, obj := range m.objects {
		if _, ok := obj.visible(m.now()); !ok {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete はキーを削除する。
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Ping は常に成功する。
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
