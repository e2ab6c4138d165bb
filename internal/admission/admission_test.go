package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkillLimiterFIFOFairness(t *testing.T) {
	// Capacity 1 occupied by A. B asks first, then C; when A leaves, C
	// cannot jump the line ahead of B.
	l := NewSkillLimiter(1)
	require.True(t, l.TryEnter("A"))
	require.False(t, l.TryEnter("B"))
	require.False(t, l.TryEnter("C"))

	l.Leave("A")
	assert.False(t, l.TryEnter("C"))
	assert.True(t, l.TryEnter("B"))
	assert.False(t, l.TryEnter("C"))
	l.Leave("B")
	assert.True(t, l.TryEnter("C"))
}

func TestSkillLimiterReentrant(t *testing.T) {
	l := NewSkillLimiter(1)
	require.True(t, l.TryEnter("A"))
	assert.True(t, l.TryEnter("A"))
	assert.Equal(t, 1, l.Active())
}

func TestSkillLimiterWaiterJoinIdempotent(t *testing.T) {
	l := NewSkillLimiter(1)
	require.True(t, l.TryEnter("A"))
	require.False(t, l.TryEnter("B"))
	require.False(t, l.TryEnter("B"))
	l.Leave("A")
	// B is still a single waiter at the head.
	assert.True(t, l.TryEnter("B"))
	assert.Equal(t, 1, l.Active())
}

func TestSkillLimiterLeaveRemovesWaiter(t *testing.T) {
	l := NewSkillLimiter(1)
	require.True(t, l.TryEnter("A"))
	require.False(t, l.TryEnter("B"))
	require.False(t, l.TryEnter("C"))
	l.Leave("B")
	l.Leave("A")
	assert.True(t, l.TryEnter("C"))
}

func TestExplorerLimiter(t *testing.T) {
	l := NewExplorerLimiter(2)
	assert.True(t, l.TryEnter("A"))
	assert.True(t, l.TryEnter("A"))
	assert.True(t, l.TryEnter("B"))
	assert.False(t, l.TryEnter("C"))
	l.Leave("A")
	assert.True(t, l.TryEnter("C"))
}
