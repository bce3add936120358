package telnet

import "bytes"

// Telnet command and option bytes (RFC 854, RFC 857, RFC 858, RFC 1073).
const (
	cmdSE   byte = 240
	cmdIP   byte = 244
	cmdSB   byte = 250
	cmdWILL byte = 251
	cmdWONT byte = 252
	cmdDO   byte = 253
	cmdDONT byte = 254
	cmdIAC  byte = 255

	optEcho byte = 1
	optSGA  byte = 3
	optNAWS byte = 31
)

// greeting asks the client for character-at-a-time mode without local echo and for
// window size reports.
var greeting = []byte{
	cmdIAC, cmdWILL, optEcho,
	cmdIAC, cmdWILL, optSGA,
	cmdIAC, cmdDO, optNAWS,
}

const (
	ctrlC byte = 0x03
	ctrlD byte = 0x04
)

type parseState int

const (
	stateData parseState = iota
	stateIAC
	stateOption
	stateSub
	stateSubIAC
)

// parser consumes the client byte stream and reports window size changes, a refusal to
// send them, and hangup requests. Everything else the client types is discarded.
type parser struct {
	state parseState
	verb  byte
	sub   []byte

	onResize func(width, height int)
	onNoSize func()
	onHangup func()
}

func (p *parser) feed(data []byte) {
	for _, b := range data {
		switch p.state {
		case stateData:
			switch b {
			case cmdIAC:
				p.state = stateIAC
			case ctrlC, ctrlD:
				p.onHangup()
			}
		case stateIAC:
			switch b {
			case cmdWILL, cmdWONT, cmdDO, cmdDONT:
				p.verb = b
				p.state = stateOption
			case cmdSB:
				p.sub = p.sub[:0]
				p.state = stateSub
			case cmdIP:
				p.onHangup()
				p.state = stateData
			default:
				p.state = stateData
			}
		case stateOption:
			if p.verb == cmdWONT && b == optNAWS {
				p.onNoSize()
			}
			p.state = stateData
		case stateSub:
			if b == cmdIAC {
				p.state = stateSubIAC
				continue
			}
			if len(p.sub) < 64 {
				p.sub = append(p.sub, b)
			}
		case stateSubIAC:
			switch b {
			case cmdIAC:
				if len(p.sub) < 64 {
					p.sub = append(p.sub, cmdIAC)
				}
				p.state = stateSub
			case cmdSE:
				p.subnegotiation()
				p.state = stateData
			default:
				p.state = stateData
			}
		}
	}
}

func (p *parser) subnegotiation() {
	if len(p.sub) != 5 || p.sub[0] != optNAWS {
		return
	}
	width := int(p.sub[1])<<8 | int(p.sub[2])
	height := int(p.sub[3])<<8 | int(p.sub[4])
	p.onResize(width, height)
}

// encode prepares rendered text for the wire: bare LF becomes CRLF and data bytes equal
// to IAC are doubled.
func encode(p []byte) []byte {
	extra := bytes.Count(p, []byte{'\n'}) + bytes.Count(p, []byte{cmdIAC})
	if extra == 0 {
		return p
	}
	out := make([]byte, 0, len(p)+extra)
	var prev byte
	for _, b := range p {
		switch {
		case b == '\n' && prev != '\r':
			out = append(out, '\r', '\n')
		case b == cmdIAC:
			out = append(out, cmdIAC, cmdIAC)
		default:
			out = append(out, b)
		}
		prev = b
	}
	return out
}
