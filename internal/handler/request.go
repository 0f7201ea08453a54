// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hitoshi/taskmanager/internal/middleware"
	"github.com/hitoshi/taskmanager/internal/model"
)

// decodeJSON はリクエストボディをdstにデコードする。
// 空のボディは空オブジェクトとして扱い、個々のフィールドの必須チェックはサービス層に任せる。
// 構文エラーや型の不一致は400のフィールドエラーに変換する。
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return model.NewValidationError("Validation failed", model.FieldError{
			Field:   field,
			Message: fmt.Sprintf("%s must be of type %s", field, jsonTypeName(typeErr.Type.Kind().String())),
		})
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return model.NewValidationError("Request body too large")
	}

	return model.NewValidationError("Validation failed", model.FieldError{
		Field:   "body",
		Message: "Request body must be valid JSON",
	})
}

// jsonTypeName はGoの型の種類をJSONの型名に置き換える。
func jsonTypeName(kind string) string {
	switch {
	case kind == "string":
		return "string"
	case kind == "bool":
		return "boolean"
	case kind == "slice" || kind == "array":
		return "array"
	case kind == "struct" || kind == "map" || kind == "ptr":
		return "object"
	case strings.HasPrefix(kind, "int") || strings.HasPrefix(kind, "uint") || strings.HasPrefix(kind, "float"):
		return "number"
	default:
		return kind
	}
}

// currentUserID は認証ミドルウェアが設定したユーザーIDを返す。
// 取得できない場合は401を書き込みfalseを返す。
func currentUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteFailure(w, http.StatusUnauthorized, "Access denied. No token provided")
		return "", false
	}
	return userID, true
}
