package md5zero

import (
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumTreatsFieldAsZero(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	fieldOffset := 20

	want := md5.New()
	want.Write(data[:fieldOffset])
	var zero [16]byte
	want.Write(zero[:])
	want.Write(data[fieldOffset+16:])
	var wantSum [16]byte
	copy(wantSum[:], want.Sum(nil))

	got := Sum(data, fieldOffset)
	assert.Equal(t, wantSum, got)
}

func TestSumDoesNotMutateInput(t *testing.T) {
	data := make([]byte, 32)
	for i := range data {
		data[i] = 0xAB
	}
	cp := append([]byte(nil), data...)
	Sum(data, 8)
	assert.Equal(t, cp, data)
}

func TestSumPartsIncludesPayload(t *testing.T) {
	header := make([]byte, 40)
	payload := []byte("cluster payload bytes")

	a := SumParts(header, 4, payload)
	b := SumParts(header, 4, append([]byte(nil), payload...))
	assert.Equal(t, a, b)

	c := SumParts(header, 4, []byte("different payload bytes"))
	assert.NotEqual(t, a, c)
}

func TestVerifySkip(t *testing.T) {
	c := &Checker{Skip: true}
	assert.True(t, c.Verify([16]byte{1}, [16]byte{2}))
}

func TestVerifyMismatch(t *testing.T) {
	c := &Checker{}
	assert.False(t, c.Verify([16]byte{1}, [16]byte{2}))
	assert.True(t, c.Verify([16]byte{1}, [16]byte{1}))
}
