package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkShortTextSinglePiece(t *testing.T) {
	c := NewSimpleChunker(100, 10)
	chunks := c.Chunk("short text")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0])
}

func TestChunkEmptyText(t *testing.T) {
	c := NewSimpleChunker(100, 10)
	assert.Empty(t, c.Chunk(""))
}

func TestChunkOverlap(t *testing.T) {
	c := NewSimpleChunker(10, 4)
	text := "abcdefghijklmnopqrstuvwxyz"
	chunks := c.Chunk(text)
	require.Greater(t, len(chunks), 1)

	// 相邻切片共享 overlap 长度的尾部/头部
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := string(prev[len(prev)-4:])
		assert.True(t, strings.HasPrefix(chunks[i], tail),
			"chunk %d %q should start with %q", i, chunks[i], tail)
	}

	// 拼回去必须覆盖原文
	assert.True(t, strings.HasPrefix(text, chunks[0]))
	last := chunks[len(chunks)-1]
	assert.True(t, strings.HasSuffix(text, last))
}

func TestChunkDeterministic(t *testing.T) {
	c := NewSimpleChunker(50, 10)
	text := strings.Repeat("商品描述文本，包含多字节字符。", 20)
	a := c.Chunk(text)
	b := c.Chunk(text)
	assert.Equal(t, a, b)
}

func TestChunkMultibyteSafety(t *testing.T) {
	c := NewSimpleChunker(7, 2)
	text := "红色跑鞋轻便透气适合日常慢跑使用"
	for _, chunk := range c.Chunk(text) {
		assert.True(t, len([]rune(chunk)) <= 7)
		// 逐切片必须是合法 UTF-8（rune 切分不产生半个字符）
		assert.Equal(t, chunk, string([]rune(chunk)))
	}
}
