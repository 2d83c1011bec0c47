package user

import (
	"errors"
	"fmt"
)

// エラー分類。個別のエラーはいずれかを %w でラップしているため errors.Is で判定できます。
var (
	// ErrValidation は入力がフィールド制約に違反した場合の分類です。リトライ不可。
	ErrValidation = errors.New("validation failed")
	// ErrNotFound は参照先のレコードが存在しない場合の分類です。
	ErrNotFound = errors.New("not found")
	// ErrStorage は永続化基盤の障害を表す分類です。操作全体のリトライは安全です。
	ErrStorage = errors.New("storage failure")
)

var (
	// ErrUserNotFound はユーザーが存在しない場合に返却されます。
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// ErrEmailAlreadyExists はメールアドレス重複時に返却されます (WithUniqueEmail 指定時のみ)。
	ErrEmailAlreadyExists = fmt.Errorf("%w: email already exists", ErrValidation)
	// ErrInvalidEmail はメールアドレスが不正な場合に返却されます。
	ErrInvalidEmail = fmt.Errorf("%w: invalid email", ErrValidation)
	// ErrInvalidName は名前が不正な場合に返却されます。
	ErrInvalidName = fmt.Errorf("%w: invalid name", ErrValidation)
	// ErrInvalidNote はノートが不正な場合に返却されます。
	ErrInvalidNote = fmt.Errorf("%w: invalid note", ErrValidation)
	// ErrConflictingNote は Note と ClearNote が同時に指定された場合に返却されます。
	ErrConflictingNote = fmt.Errorf("%w: note and clear_note are mutually exclusive", ErrValidation)
	// ErrNoChanges は更新内容が空の場合に返却されます。
	ErrNoChanges = fmt.Errorf("%w: no fields to update", ErrValidation)
	// ErrInvalidID は ID の表記が解釈できない場合に返却されます。
	ErrInvalidID = fmt.Errorf("%w: invalid id", ErrValidation)
	// ErrInvalidPageSize は一覧取得時のページサイズが不正な場合に返却されます。
	ErrInvalidPageSize = fmt.Errorf("%w: invalid page size", ErrValidation)
	// ErrInvalidPageToken は一覧取得時のページトークンが不正な場合に返却されます。
	ErrInvalidPageToken = fmt.Errorf("%w: invalid page token", ErrValidation)
)

// storageError は永続化基盤のエラーを ErrStorage としてラップします。
// 既に分類済みのエラーはそのまま返します。
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
