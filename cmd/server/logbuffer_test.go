package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogBufferKeepsLastLines(t *testing.T) {
	lb := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(lb, "line %d\n", i)
	}

	logs := lb.GetLogs()
	assert.Equal(t, []string{"line 2\n", "line 3\n", "line 4\n"}, logs)

	logs[0] = "changed"
	assert.Equal(t, "line 2\n", lb.GetLogs()[0])
}
