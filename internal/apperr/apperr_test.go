package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusByKind(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindAuth, http.StatusForbidden},
		{KindBusy, http.StatusConflict},
		{KindUnsupported, http.StatusNotImplemented},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(New(tc.kind, "x")), "kind %s", tc.kind)
	}
}

func TestStatusOverride(t *testing.T) {
	err := New(KindValidation, "schema violation").WithStatus(http.StatusUnprocessableEntity)
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(err))
}

func TestKindOfWrappedChain(t *testing.T) {
	inner := New(KindBusy, "別の文字起こし処理が実行中です")
	wrapped := fmt.Errorf("starting job: %w", inner)
	assert.Equal(t, KindBusy, KindOf(wrapped))
	assert.Equal(t, http.StatusConflict, HTTPStatus(wrapped))
	assert.Equal(t, "別の文字起こし処理が実行中です", UserMessage(wrapped))
}

func TestUnknownErrorIsInternal(t *testing.T) {
	err := errors.New("disk on fire")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	// Raw error text must not reach clients.
	assert.Equal(t, "内部エラーが発生しました", UserMessage(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("open /x: no such file")
	err := Wrap(KindNotFound, "ファイルが見つかりません", cause)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, "ファイルが見つかりません", UserMessage(err))
}

func TestWriteJSONBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, New(KindBusy, "別の文字起こし処理が実行中です"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"detail":"別の文字起こし処理が実行中です"}`, rec.Body.String())
}
