package util

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID 生成一个标准的 UUID (v4)
func GenerateUUID() string {
	return uuid.New().String()
}

// GenerateShortUUID 生成一个不带中划线的短 UUID
func GenerateShortUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// GenerateID 生成带前缀的短 ID，例如 GenerateID("doc") -> doc_xxxxxxxxxxxx
func GenerateID(prefix string) string {
	return prefix + "_" + GenerateShortUUID()[:16]
}
