// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package transport_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gloomers/node/internal/proto"
	"github.com/gloomers/node/internal/transport"
)

func Test_Reader_SkipsBlankLinesAndReturnsEOF(t *testing.T) {
	r := transport.NewReader(strings.NewReader("\n{\"src\":\"c1\",\"dest\":\"n1\",\"body\":{\"type\":\"echo\",\"echo\":\"hi\"}}\n\n"))

	msg, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "echo", msg.Body.Type)

	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func Test_Reader_DecodeErrorIsNotFatal(t *testing.T) {
	r := transport.NewReader(strings.NewReader("not json\n"))

	_, err := r.Read()
	var derr *transport.DecodeError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "not json", string(derr.Line))
}

func Test_Writer_SerializesConcurrentWriters(t *testing.T) {
	var buf bytes.Buffer
	w := transport.NewWriter(&buf)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = w.Write(proto.Message{Src: "n1", Dest: "c1", Body: mustBody(t, "echo_ok")})
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, n)
	for _, l := range lines {
		assert.True(t, strings.HasSuffix(l, `}`), "each write must be a complete, unsplit line")
	}
}

func mustBody(t *testing.T, typ string) proto.Body {
	t.Helper()
	b, err := proto.NewBody(typ, struct{}{})
	require.NoError(t, err)
	return b
}
