package terminal

// crlfNormalizer rewrites bare line feeds to CRLF. A carriage return at
// the end of one chunk pairs with a line feed starting the next.
type crlfNormalizer struct {
	lastCR bool
}

func (n *crlfNormalizer) normalize(data []byte) string {
	out := make([]byte, 0, len(data)+len(data)/8)
	for _, b := range data {
		if b == '\n' && !n.lastCR {
			out = append(out, '\r')
		}
		out = append(out, b)
		n.lastCR = b == '\r'
	}
	return string(out)
}

func (n *crlfNormalizer) reset() {
	n.lastCR = false
}
