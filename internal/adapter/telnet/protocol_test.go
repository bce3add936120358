package telnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	sizes   [][2]int
	refused int
	hangups int
}

func newParser(r *recorder) *parser {
	return &parser{
		onResize: func(w, h int) { r.sizes = append(r.sizes, [2]int{w, h}) },
		onNoSize: func() { r.refused++ },
		onHangup: func() { r.hangups++ },
	}
}

func naws(w, h int) []byte {
	return []byte{cmdIAC, cmdSB, optNAWS, byte(w >> 8), byte(w), byte(h >> 8), byte(h), cmdIAC, cmdSE}
}

func TestParser_NAWS(t *testing.T) {
	r := &recorder{}
	p := newParser(r)

	p.feed(naws(132, 43))

	assert.Equal(t, [][2]int{{132, 43}}, r.sizes)
}

func TestParser_NAWSSplitAcrossReads(t *testing.T) {
	r := &recorder{}
	p := newParser(r)

	msg := naws(300, 100)
	for _, b := range msg {
		p.feed([]byte{b})
	}

	assert.Equal(t, [][2]int{{300, 100}}, r.sizes)
}

func TestParser_NAWSWithEscapedIAC(t *testing.T) {
	r := &recorder{}
	p := newParser(r)

	// width 255 is sent as IAC IAC
	p.feed([]byte{cmdIAC, cmdSB, optNAWS, 0, cmdIAC, cmdIAC, 0, 24, cmdIAC, cmdSE})

	assert.Equal(t, [][2]int{{255, 24}}, r.sizes)
}

func TestParser_IgnoresOptionRepliesAndText(t *testing.T) {
	r := &recorder{}
	p := newParser(r)

	p.feed([]byte{cmdIAC, cmdDO, optEcho, cmdIAC, cmdWILL, optNAWS, 'h', 'i', '\r', '\n'})
	p.feed(naws(80, 24))

	assert.Equal(t, [][2]int{{80, 24}}, r.sizes)
	assert.Zero(t, r.hangups)
}

func TestParser_WontNAWS(t *testing.T) {
	tests := []struct {
		name        string
		input       []byte
		wantRefused int
	}{
		{"wont naws", []byte{cmdIAC, cmdWONT, optNAWS}, 1},
		{"wont naws split", []byte{cmdIAC, cmdWONT}, 0},
		{"wont echo", []byte{cmdIAC, cmdWONT, optEcho}, 0},
		{"dont naws", []byte{cmdIAC, cmdDONT, optNAWS}, 0},
		{"will naws", []byte{cmdIAC, cmdWILL, optNAWS}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			newParser(r).feed(tt.input)
			assert.Equal(t, tt.wantRefused, r.refused)
			assert.Empty(t, r.sizes)
		})
	}
}

func TestParser_WontNAWSAcrossReads(t *testing.T) {
	r := &recorder{}
	p := newParser(r)

	p.feed([]byte{cmdIAC})
	p.feed([]byte{cmdWONT})
	p.feed([]byte{optNAWS, 'x'})

	assert.Equal(t, 1, r.refused)
	assert.Zero(t, r.hangups)
}

func TestParser_Hangup(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"ctrl-c", []byte{ctrlC}},
		{"ctrl-d", []byte{ctrlD}},
		{"interrupt process", []byte{cmdIAC, cmdIP}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			newParser(r).feed(tt.input)
			assert.Equal(t, 1, r.hangups)
		})
	}
}

func TestParser_OtherSubnegotiationIgnored(t *testing.T) {
	r := &recorder{}
	p := newParser(r)

	// terminal type reply
	p.feed([]byte{cmdIAC, cmdSB, 24, 0, 'x', 't', 'e', 'r', 'm', cmdIAC, cmdSE})

	assert.Empty(t, r.sizes)
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "abc", "abc"},
		{"lf", "a\nb\n", "a\r\nb\r\n"},
		{"crlf untouched", "a\r\nb", "a\r\nb"},
		{"iac doubled", "a\xffb", "a\xff\xffb"},
		{"braille", "⣿\n⠀", "⣿\r\n⠀"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(encode([]byte(tt.in))))
		})
	}
}
