package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost はパスワードハッシュのbcryptコスト。
const DefaultBcryptCost = 12

// BcryptHasher はbcryptによるパスワードハッシュを提供する。
type BcryptHasher struct {
	cost      int
	dummyHash []byte
}

// NewBcryptHasher はBcryptHasherを生成する。costが範囲外の場合はDefaultBcryptCostを使う。
// 存在しないユーザーへのログイン試行でも同じ計算量を費やすため、ダミーハッシュを事前に作成する。
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &BcryptHasher{cost: cost, dummyHash: dummy}, nil
}

// Hash はパスワードをハッシュ化する。
func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Compare はパスワードがハッシュと一致するかを返す。
func (h *BcryptHasher) Compare(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CompareDummy はダミーハッシュと比較し、結果を捨てる。
func (h *BcryptHasher) CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}

// RandomHash は推測不能なランダム値のハッシュを返す。
// パスワードを持たない外部認証ユーザーのpassword欄に使う。
func (h *BcryptHasher) RandomHash() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return h.Hash(hex.EncodeToString(b))
}
