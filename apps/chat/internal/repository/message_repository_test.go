package repository

import (
	"testing"
	"time"

	rediskey "ChatCore/consts/redisKey"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageRepositoryNonceTTL(t *testing.T) {
	// 显式配置生效
	repo, ok := NewMessageRepository(nil, nil, 3*time.Minute).(*messageRepositoryImpl)
	require.True(t, ok)
	assert.Equal(t, 3*time.Minute, repo.nonceTTL)

	// 未配置时回落到默认窗口
	repo, ok = NewMessageRepository(nil, nil, 0).(*messageRepositoryImpl)
	require.True(t, ok)
	assert.Equal(t, rediskey.MessageNonceTTL, repo.nonceTTL)
}
