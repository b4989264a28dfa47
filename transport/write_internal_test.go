package transport

import (
	"fmt"
	"testing"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/pool"
	"github.com/momentics/hioload-ripc/protocol"
)

func TestBufferErrCode(t *testing.T) {
	cases := []struct {
		err  error
		want api.ReturnCode
	}{
		{protocol.ErrBufferTooSmall, api.BufferTooSmall},
		{fmt.Errorf("packed length: %w", protocol.ErrBufferTooSmall), api.BufferTooSmall},
		{pool.ErrNotPackable, api.InvalidArgument},
		{pool.ErrBufferState, api.InvalidArgument},
	}
	for _, tc := range cases {
		if got := bufferErrCode(tc.err); got != tc.want {
			t.Errorf("%v: code %v, want %v", tc.err, got, tc.want)
		}
	}
}
