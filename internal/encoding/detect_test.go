package encoding_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/tally/internal/encoding"
)

func readAll(t *testing.T, input []byte) (string, encoding.Charset) {
	t.Helper()

	r, charset, err := encoding.NewUTF8Reader(bytes.NewReader(input))
	require.NoError(t, err)

	got, err := io.ReadAll(r)
	require.NoError(t, err)

	return string(got), charset
}

func TestNewUTF8Reader(t *testing.T) {
	const header = "reference;amount\nRecibo nº 3;12,50\n"

	tests := []struct {
		name        string
		input       []byte
		wantText    string
		wantCharset []encoding.Charset
	}{
		{
			name:        "PlainUTF8",
			input:       []byte(header),
			wantText:    header,
			wantCharset: []encoding.Charset{encoding.UTF8},
		},
		{
			name:        "UTF8BOMIsStripped",
			input:       append([]byte{0xEF, 0xBB, 0xBF}, header...),
			wantText:    header,
			wantCharset: []encoding.Charset{encoding.UTF8},
		},
		{
			name:        "UTF16LE",
			input:       []byte{0xFF, 0xFE, 'i', 0, 'd', 0, '\n', 0},
			wantText:    "id\n",
			wantCharset: []encoding.Charset{encoding.UTF16LE},
		},
		{
			name:        "UTF16BE",
			input:       []byte{0xFE, 0xFF, 0, 'i', 0, 'd', 0, '\n'},
			wantText:    "id\n",
			wantCharset: []encoding.Charset{encoding.UTF16BE},
		},
		{
			// "Fatura nº;Conceição" in Windows-1252.
			name: "Latin1FallsBackToWindows1252",
			input: []byte{
				'F', 'a', 't', 'u', 'r', 'a', ' ', 'n', 0xBA, ';',
				'C', 'o', 'n', 'c', 'e', 'i', 0xE7, 0xE3, 'o', '\n',
			},
			wantText:    "Fatura nº;Conceição\n",
			wantCharset: []encoding.Charset{encoding.Windows1252, encoding.ISO8859_15},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, charset := readAll(t, tt.input)
			assert.Equal(t, tt.wantText, got)
			assert.Contains(t, tt.wantCharset, charset)
		})
	}
}

func TestNewUTF8Reader_LargeInput(t *testing.T) {
	input := strings.Repeat("a;1\n", 5000)

	got, charset := readAll(t, []byte(input))
	assert.Equal(t, input, got)
	assert.Equal(t, encoding.UTF8, charset)
}

func TestNewUTF8Reader_Empty(t *testing.T) {
	got, charset := readAll(t, nil)
	assert.Empty(t, got)
	assert.Equal(t, encoding.UTF8, charset)
}
