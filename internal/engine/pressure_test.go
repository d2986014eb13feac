package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMemoryInfo(t *testing.T) {
	as := assert.New(t)

	info := "# Memory\r\n" +
		"used_memory:1048576\r\n" +
		"used_memory_human:1.00M\r\n" +
		"maxmemory:4194304\r\n" +
		"maxmemory_policy:noeviction\r\n"

	used, max := parseMemoryInfo(info)
	as.Equal(int64(1048576), used)
	as.Equal(int64(4194304), max)
}

func TestParseMemoryInfoUnbounded(t *testing.T) {
	as := assert.New(t)

	used, max := parseMemoryInfo("used_memory:2048\nmaxmemory:0\n")
	as.Equal(int64(2048), used)
	as.Zero(max)
}
