package history

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/truthguard-chat/internal/domain"
)

func TestAppendKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	now := time.Now()
	s.Append(domain.NewUserMessage("one", now))
	s.Append(domain.NewBotMessage("two", domain.SourcePrimary, "m", now))
	s.Append(domain.NewUserMessage("three", now))

	got := s.List()
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Text)
	assert.Equal(t, "two", got[1].Text)
	assert.Equal(t, "three", got[2].Text)
}

func TestListReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	s.Append(domain.NewUserMessage("original", time.Now()))

	got := s.List()
	got[0].Text = "mutated"

	assert.Equal(t, "original", s.List()[0].Text)
}

func TestListIsRestartable(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	s.Append(domain.NewUserMessage("a", time.Now()))
	s.Append(domain.NewUserMessage("b", time.Now()))

	assert.Equal(t, s.List(), s.List())
}

func TestClearEmptiesStore(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	s.Append(domain.NewUserMessage("a", time.Now()))
	s.Clear()

	assert.Empty(t, s.List())
	assert.Zero(t, s.Len())
}

func TestPopLastBotRemovesOnlyMostRecentBot(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	now := time.Now()
	s.Append(domain.NewUserMessage("q1", now))
	s.Append(domain.NewBotMessage("a1", domain.SourcePrimary, "m", now))
	s.Append(domain.NewUserMessage("q2", now))
	s.Append(domain.NewBotMessage("a2", domain.SourceFallback, "fallback", now))
	s.Append(domain.NewUserMessage("q3", now))

	popped, ok := s.PopLastBot()
	require.True(t, ok)
	assert.Equal(t, "a2", popped.Text)

	texts := make([]string, 0, s.Len())
	for _, m := range s.List() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"q1", "a1", "q2", "q3"}, texts)
}

func TestPopLastBotOnUserOnlyLog(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	s.Append(domain.NewUserMessage("q", time.Now()))

	_, ok := s.PopLastBot()
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestConcurrentAppend(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(domain.NewUserMessage("x", time.Now()))
			_ = s.List()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
}
