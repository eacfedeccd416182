package omerr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAndKindOf(t *testing.T) {
	err := New(Input, "bad record")
	assert.Equal(t, Input, KindOf(err))
	assert.Contains(t, err.Error(), "input:")
}

func TestWrapPreservesKind(t *testing.T) {
	base := New(Other, "boom")
	wrapped := Wrap(Config, base, "while loading config")
	assert.True(t, Is(wrapped, Config))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(Input, nil, "x"))
}

func TestKindOfUntaggedIsOther(t *testing.T) {
	assert.Equal(t, Other, KindOf(assertError{}))
}

type assertError struct{}

func (assertError) Error() string { return "plain" }
