package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoFalseNegatives(t *testing.T) {
	f := NewForKeys(1000, 10)
	keys := make([][]byte, 1000)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%06d", i))
		f.Add(keys[i])
	}
	for _, k := range keys {
		require.True(t, f.MaybeContains(k), "no false negatives allowed: %s", k)
	}
}

func TestFalsePositiveRateBounded(t *testing.T) {
	f := NewForKeys(10000, 10)
	for i := 0; i < 10000; i++ {
		f.Add([]byte(fmt.Sprintf("present-%d", i)))
	}
	fp := 0
	total := 10000
	for i := 0; i < total; i++ {
		if f.MaybeContains([]byte(fmt.Sprintf("absent-%d", i))) {
			fp++
		}
	}
	rate := float64(fp) / float64(total)
	require.Less(t, rate, 0.05, "false positive rate should stay low with bits_per_key=10")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := NewForKeys(100, 10)
	for i := 0; i < 100; i++ {
		f.Add([]byte(fmt.Sprintf("k%d", i)))
	}
	enc := f.Encode()
	got, ok := Decode(enc)
	require.True(t, ok)
	for i := 0; i < 100; i++ {
		require.True(t, got.MaybeContains([]byte(fmt.Sprintf("k%d", i))))
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, ok := Decode([]byte{1, 2})
	require.False(t, ok)
}
