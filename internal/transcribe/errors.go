package transcribe

import (
	"errors"
	"fmt"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
)

// ErrCancelled marks a pipeline aborted at a checkpoint after the cancel
// flag was set.
var ErrCancelled = errors.New("transcription cancelled")

// User-facing Japanese messages. Paths and internal detail stay in logs.
const (
	msgTranscribeBusy = "別の文字起こし処理が実行中です"
	msgBatchBusy      = "別のバッチ処理が実行中です"
	msgEngineBusy     = "音声認識エンジンが使用中です"
	msgNoFilePath     = "ファイルパスが指定されていません"
	msgPathNotAllowed = "許可されていないファイルパスです"
	msgBadExtension   = "サポートされていない音声形式です"
	msgFileNotFound   = "ファイルが見つかりません"
	msgNoBatchFiles   = "ファイルが指定されていません"
	msgUnknownEngine  = "不明な音声認識エンジンです"
	msgModelLoad      = "モデルの読み込みに失敗しました"
	msgTranscription  = "文字起こし処理に失敗しました"
	msgCancelled      = "文字起こしがキャンセルされました"
)

// CategorizedError tags a pipeline failure with the event category and the
// short message pushed to subscribers.
type CategorizedError struct {
	Category string
	Message  string
	Err      error
}

func (e *CategorizedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return e.Category
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// Categorize maps any pipeline error onto an event category, defaulting to
// the transcription category for unrecognized failures.
func Categorize(err error) *CategorizedError {
	var cerr *CategorizedError
	if errors.As(err, &cerr) {
		return cerr
	}
	if errors.Is(err, ErrCancelled) {
		return &CategorizedError{Category: apperr.CategoryCancelled, Message: msgCancelled, Err: err}
	}
	return &CategorizedError{Category: apperr.CategoryTranscription, Message: msgTranscription, Err: err}
}
