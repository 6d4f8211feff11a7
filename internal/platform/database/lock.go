package database

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// LockID は名前からアドバイザリロックのキーを作る
func LockID(name string) int64 {
	sum := sha256.Sum256([]byte(name))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// LockTx はトランザクションスコープのアドバイザリロック（pg_advisory_xact_lock）を取得する。
// ロックはコミットまたはロールバックで解放される。
func LockTx(ctx context.Context, tx pgx.Tx, name string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", LockID(name)); err != nil {
		return fmt.Errorf("failed to acquire advisory lock %q: %w", name, err)
	}
	return nil
}
