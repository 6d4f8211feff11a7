// Package table はヘッダ付き CSV ファイルを表として読み書きします
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// ErrNotFound はファイルが存在しない場合のエラー
var ErrNotFound = errors.New("table not found")

// MergePolicy は追記時に既存ファイルと列集合が異なる場合の扱い
type MergePolicy int

const (
	// Overwrite は警告を出して既存の行を捨てる
	Overwrite MergePolicy = iota
	// Migrate は既存の列が新しい列に含まれていれば、欠けた列を空にして既存の行を引き継ぐ。
	// 引き継げない場合は Overwrite と同じ
	Migrate
)

// fileLocks はパスごとの書き込みロック。同じファイルを指す Table 同士で共有する
var fileLocks sync.Map // map[string]*sync.Mutex

func lockFor(path string) *sync.Mutex {
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}
	mu, _ := fileLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Table は 1 つの CSV ファイル。
// 同一プロセス内の Replace と Append はファイル単位で直列化される。プロセス間の排他はしない
type Table struct {
	path   string
	logger *slog.Logger
	policy MergePolicy
	mu     *sync.Mutex
}

// Option は Table のオプション
type Option func(*Table)

// WithMergePolicy は列が異なる場合の扱いを設定する（既定は Overwrite）
func WithMergePolicy(p MergePolicy) Option {
	return func(t *Table) {
		t.policy = p
	}
}

// New は path の Table を作成する
func New(path string, logger *slog.Logger, opts ...Option) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Table{path: path, logger: logger, mu: lockFor(path)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Path はファイルパスを返す
func (t *Table) Path() string { return t.path }

// ReadAll はヘッダと全行を返す。ファイルが無い場合は ErrNotFound を返す
func (t *Table) ReadAll() ([]string, [][]string, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, t.path)
		}
		return nil, nil, fmt.Errorf("failed to open %s: %w", t.path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", t.path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%s has no header", t.path)
	}
	return records[0], records[1:], nil
}

// Replace はファイル全体を header と rows で置き換える
func (t *Table) Replace(header []string, rows [][]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.replace(header, rows)
}

func (t *Table) replace(header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", t.path, err)
	}

	// 書き込み途中のファイルを読まれないよう一時ファイルから rename する
	tmp, err := os.CreateTemp(filepath.Dir(t.path), filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", t.path, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write rows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", t.path, err)
	}
	return nil
}

// Append は既存の列集合が header と一致すれば rows を末尾に追加する。
// 列の並びが異なるだけの場合は既存の並びに合わせて追加する。
// 列集合が異なる場合は MergePolicy に従い、既存の行を捨てたときは警告を出して overwrote=true を返す。
// 既存ファイルを読めない場合も同様に上書きする。
func (t *Table) Append(header []string, rows [][]string) (overwrote bool, err error) {
	// 読み込みから rename までを 1 つの区間にしないと並行する追記が行を失う
	t.mu.Lock()
	defer t.mu.Unlock()

	existingHeader, existingRows, err := t.ReadAll()
	switch {
	case errors.Is(err, ErrNotFound):
		return false, t.replace(header, rows)
	case err != nil:
		t.logger.Warn("既存ファイルを読めないため上書きします", "path", t.path, "error", err)
		return true, t.replace(header, rows)
	case !sameColumns(existingHeader, header) && t.policy == Migrate && isSubset(existingHeader, header):
		migrated, err := widen(existingHeader, header, existingRows)
		if err != nil {
			return false, err
		}
		t.logger.Info("既存の行を新しい列に移行します",
			"path", t.path,
			"existing", existingHeader,
			"new", header,
			"rows", len(migrated),
		)
		return false, t.replace(header, append(migrated, rows...))
	case !sameColumns(existingHeader, header):
		t.logger.Warn("列が一致しないため上書きします",
			"path", t.path,
			"existing", existingHeader,
			"new", header,
		)
		return true, t.replace(header, rows)
	}

	reordered, err := reorder(header, existingHeader, rows)
	if err != nil {
		return false, err
	}
	return false, t.replace(existingHeader, append(existingRows, reordered...))
}

// sameColumns は列名の集合が等しいかを判定する（順序は問わない）
func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// reorder は from の列順で並んだ rows を to の列順に並べ替える
func reorder(from, to []string, rows [][]string) ([][]string, error) {
	if slices.Equal(from, to) {
		return rows, nil
	}
	pos := make([]int, len(to))
	for i, col := range to {
		j := slices.Index(from, col)
		if j < 0 {
			return nil, fmt.Errorf("column %q not found", col)
		}
		pos[i] = j
	}

	out := make([][]string, len(rows))
	for r, row := range rows {
		if len(row) != len(from) {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", r, len(row), len(from))
		}
		reordered := make([]string, len(to))
		for i, j := range pos {
			reordered[i] = row[j]
		}
		out[r] = reordered
	}
	return out, nil
}

// isSubset は a の列がすべて b に含まれるかを判定する
func isSubset(a, b []string) bool {
	for _, col := range a {
		if !slices.Contains(b, col) {
			return false
		}
	}
	return true
}

// widen は from の列順で並んだ rows を to の列順に並べ替え、from に無い列を空文字で埋める
func widen(from, to []string, rows [][]string) ([][]string, error) {
	out := make([][]string, len(rows))
	for r, row := range rows {
		if len(row) != len(from) {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", r, len(row), len(from))
		}
		widened := make([]string, len(to))
		for i, col := range to {
			if j := slices.Index(from, col); j >= 0 {
				widened[i] = row[j]
			}
		}
		out[r] = widened
	}
	return out, nil
}
