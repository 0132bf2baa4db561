package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence(t *testing.T) {
	numbers, err := sequence("A", 8, 11, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"A0008", "A0009", "A0010", "A0011"}, numbers)

	_, err = sequence("A", 5, 4, 4)
	assert.Error(t, err)
}
