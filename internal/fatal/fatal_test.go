package fatal

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sniperarch/memsim/internal/simlog"
)

func TestAssertPassesSilently(t *testing.T) {
	require.NotPanics(t, func() {
		Assert(true, "should never fire")
	})
}

func TestAssertPanicsOnViolation(t *testing.T) {
	var buf bytes.Buffer
	simlog.SetOutput(&buf)
	log = simlog.For("fatal")
	defer func() {
		simlog.SetOutput(os.Stderr)
		log = simlog.For("fatal")
	}()

	require.Panics(t, func() {
		Assert(false, "mshr corrupted", "block_addr", uint64(0x1000))
	})
	require.Contains(t, buf.String(), "mshr corrupted")
	require.Contains(t, buf.String(), "4096")
}
