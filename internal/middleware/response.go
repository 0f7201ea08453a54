package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/taskmanager/internal/model"
)

// Envelope はすべてのAPIレスポンスの統一フォーマット。
// Errorは開発モードの内部エラー時のみ設定される。
type Envelope struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    any              `json:"data,omitempty"`
	Errors  []FieldErrorBody `json:"errors,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// FieldErrorBody はフィールド単位のエラー。
type FieldErrorBody struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// WriteJSON はエンベロープをJSONで書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, body Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// WriteSuccess は成功レスポンスを書き込む。dataがnilの場合はdataを省略する。
func WriteSuccess(w http.ResponseWriter, statusCode int, message string, data any) {
	WriteJSON(w, statusCode, Envelope{Success: true, Message: message, Data: data})
}

// WriteFailure は失敗レスポンスを書き込む。
func WriteFailure(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, Envelope{Success: false, Message: message})
}

// StatusForKind はエラー分類に対応するHTTPステータスコードを返す。
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindAuthentication:
		return http.StatusUnauthorized
	case model.KindConflict:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WriteError はサービス層のエラーを統一フォーマットで書き込む。
// 分類済みエラー（*model.AppError）はそのメッセージとフィールドエラーを返す。
// それ以外は500とし、詳細はログのみに記録する。developmentがtrueの場合に限りerrorに詳細を含める。
func WriteError(w http.ResponseWriter, r *http.Request, err error, development bool) {
	var appErr *model.AppError
	if errors.As(err, &appErr) && appErr.Kind != model.KindInternal {
		body := Envelope{Success: false, Message: appErr.Message}
		for _, f := range appErr.Fields {
			body.Errors = append(body.Errors, FieldErrorBody{Field: f.Field, Message: f.Message, Value: f.Value})
		}
		WriteJSON(w, StatusForKind(appErr.Kind), body)
		return
	}

	slog.Error("internal error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	body := Envelope{Success: false, Message: "Internal server error"}
	if development {
		body.Error = err.Error()
	}
	WriteJSON(w, http.StatusInternalServerError, body)
}
