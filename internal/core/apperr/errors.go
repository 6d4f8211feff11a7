package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig は設定値が不正な場合（チャンクサイズ・オーバーラップ不正、必須キー欠落など）に返されます
	ErrConfig = errors.New("config error")

	// ErrIndexLoad はベクトルインデックスが存在しない、または破損している場合に返されます
	ErrIndexLoad = errors.New("index load error")

	// ErrRetrieval は埋め込み生成やスコアリングに失敗した場合に返されます
	ErrRetrieval = errors.New("retrieval error")

	// ErrGeneration はトークナイズまたは生成モデル呼び出しに失敗した場合に返されます
	ErrGeneration = errors.New("generation error")

	// ErrIO はテーブルやファイルの読み書きに失敗した場合に返されます
	ErrIO = errors.New("io error")
)

// Error はステージ単位の処理で発生したエラーを表します
type Error struct {
	Kind error  // ErrConfig などの分類
	Op   string // 操作名
	Err  error  // 原因
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap は分類と原因の両方を返すため errors.Is でどちらにもマッチします
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New は新しい Error を作成します
func New(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Config は ErrConfig に分類されるエラーを作成します
func Config(op string, format string, args ...any) *Error {
	return New(ErrConfig, op, fmt.Errorf(format, args...))
}

// IO は ErrIO に分類されるエラーを作成します
func IO(op string, err error) *Error {
	return New(ErrIO, op, err)
}

// Retrieval は ErrRetrieval に分類されるエラーを作成します
func Retrieval(op string, err error) *Error {
	return New(ErrRetrieval, op, err)
}

// Generation は ErrGeneration に分類されるエラーを作成します
func Generation(op string, err error) *Error {
	return New(ErrGeneration, op, err)
}

// IndexLoad は ErrIndexLoad に分類されるエラーを作成します
func IndexLoad(op string, err error) *Error {
	return New(ErrIndexLoad, op, err)
}

// KindOf は err に含まれる最も外側の Error の分類を返します。分類できない場合は nil を返します
func KindOf(err error) error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return nil
}
