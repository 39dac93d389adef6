package bundle

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

func cert(subject string) Certificate {
	return Certificate{
		SubjectDER:   []byte(subject),
		IssuerDER:    []byte(subject),
		PublicKeyDER: []byte("key-" + subject),
		RawDER:       []byte("raw-" + subject),
	}
}

func TestNew_SortsBySubject(t *testing.T) {
	input := []Certificate{cert("B"), cert("A")}

	b, err := New(input)
	require.NoError(t, err)

	require.Equal(t, 2, b.Count())
	assert.Equal(t, []byte("A"), b.Certificates()[0].SubjectDER)
	assert.Equal(t, []byte("B"), b.Certificates()[1].SubjectDER)

	// The caller's slice is left alone.
	assert.Equal(t, []byte("B"), input[0].SubjectDER)
}

func TestNew_StableForEqualSubjects(t *testing.T) {
	first := cert("same")
	first.Label = "first"
	second := cert("same")
	second.Label = "second"

	b, err := New([]Certificate{cert("z"), first, second, cert("a")})
	require.NoError(t, err)

	labels := []string{}
	for _, c := range b.Certificates() {
		labels = append(labels, c.Label)
	}
	assert.Equal(t, []string{"", "first", "second", ""}, labels)
}

func TestNew_UnsignedByteOrder(t *testing.T) {
	high := Certificate{SubjectDER: []byte{0xff}, PublicKeyDER: []byte{1}}
	low := Certificate{SubjectDER: []byte{0x01}, PublicKeyDER: []byte{1}}
	prefix := Certificate{SubjectDER: []byte{0x01, 0x00}, PublicKeyDER: []byte{1}}

	b, err := New([]Certificate{high, prefix, low})
	require.NoError(t, err)

	got := b.Certificates()
	assert.Equal(t, []byte{0x01}, got[0].SubjectDER)
	assert.Equal(t, []byte{0x01, 0x00}, got[1].SubjectDER)
	assert.Equal(t, []byte{0xff}, got[2].SubjectDER)
}

func TestNew_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		cert Certificate
	}{
		{"no subject", Certificate{PublicKeyDER: []byte("k")}},
		{"no public key", Certificate{SubjectDER: []byte("s")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New([]Certificate{tt.cert})
			require.Error(t, err)
			assert.True(t, errors.Is(err, bakeerrors.ErrMissingField))
			assert.True(t, errors.Is(err, bakeerrors.ErrMalformedInput))
		})
	}
}

func TestNew_TooManyCertificates(t *testing.T) {
	certs := make([]Certificate, MaxCertificates+1)
	for i := range certs {
		certs[i] = Certificate{SubjectDER: []byte{1}, PublicKeyDER: []byte{1}}
	}

	_, err := New(certs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bakeerrors.ErrTooManyCertificates))
}

func TestNew_Empty(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Count())
}

func TestFind(t *testing.T) {
	b, err := New([]Certificate{cert("charlie"), cert("alpha"), cert("bravo")})
	require.NoError(t, err)

	i, ok := b.Find([]byte("bravo"))
	require.True(t, ok)
	assert.Equal(t, []byte("key-bravo"), b.Certificates()[i].PublicKeyDER)

	_, ok = b.Find([]byte("delta"))
	assert.False(t, ok)
}

// Sorting yields a permutation of the input whose adjacent pairs are ordered.
func TestSortProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		subjects := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 1, 8), 0, 200).Draw(t, "subjects")

		certs := make([]Certificate, len(subjects))
		for i, s := range subjects {
			certs[i] = Certificate{SubjectDER: s, PublicKeyDER: []byte{byte(i)}}
		}

		b, err := New(certs)
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		out := b.Certificates()

		if len(out) != len(certs) {
			t.Fatalf("len = %d, want %d", len(out), len(certs))
		}

		for i := 1; i < len(out); i++ {
			if bytes.Compare(out[i-1].SubjectDER, out[i].SubjectDER) > 0 {
				t.Fatalf("entries %d and %d out of order", i-1, i)
			}
			// Ties keep input order; PublicKeyDER carries the input index.
			if bytes.Equal(out[i-1].SubjectDER, out[i].SubjectDER) && out[i-1].PublicKeyDER[0] > out[i].PublicKeyDER[0] {
				t.Fatalf("entries %d and %d swapped", i-1, i)
			}
		}

		seen := make(map[byte]bool, len(out))
		for _, c := range out {
			seen[c.PublicKeyDER[0]] = true
		}
		if len(seen) != len(out) {
			t.Fatalf("output is not a permutation of the input")
		}

		if !IsSorted(out) {
			t.Fatalf("IsSorted() = false for sorted output")
		}
	})
}
