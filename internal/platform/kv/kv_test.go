package kv

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteAndGetJSON(t *testing.T) {
	s := openTestStore(t)

	err := s.Write(func(b *Batch) error {
		return b.PutJSON(Key("rec", "a"), record{Name: "a", Count: 1})
	})
	require.NoError(t, err)

	var got record
	ok, err := s.GetJSON(Key("rec", "a"), &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, record{Name: "a", Count: 1}, got)

	ok, err = s.GetJSON(Key("rec", "missing"), &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWrite_FailureWritesNothing(t *testing.T) {
	s := openTestStore(t)

	err := s.Write(func(b *Batch) error {
		if err := b.PutJSON(Key("rec", "x"), record{Name: "x"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	ok, err := s.Has(Key("rec", "x"))
	require.NoError(t, err)
	assert.False(t, ok, "aborted batch must not be applied")
}

func TestWrite_Delete(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Write(func(b *Batch) error {
		return b.PutJSON(Key("rec", "d"), record{Name: "d"})
	}))
	require.NoError(t, s.Write(func(b *Batch) error {
		b.Delete(Key("rec", "d"))
		return nil
	}))

	ok, err := s.Has(Key("rec", "d"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScan_PrefixIsolationAndOrder(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Write(func(b *Batch) error {
		for _, n := range []int64{10, 2, 1} {
			if err := b.PutJSON(Key("audit", "P1", Seq(n)), record{Count: int(n)}); err != nil {
				return err
			}
		}
		// "P10" shares a textual prefix with "P1" but must not appear in its scan.
		return b.PutJSON(Key("audit", "P10", Seq(1)), record{Count: 99})
	}))

	var counts []int
	err := s.Scan(Prefix("audit", "P1"), func(_ string, value []byte) error {
		counts = append(counts, len(value))
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, counts, 3)
}

func TestSeq_LexicalOrderMatchesNumeric(t *testing.T) {
	assert.Less(t, Seq(2), Seq(10))
	assert.Less(t, Seq(9), Seq(100))
}
