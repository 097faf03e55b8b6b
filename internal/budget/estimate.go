package budget

// ByteEstimator approximates tokens as ceil(bytes/bytesPerToken). It needs no
// tables and is used when a BPE encoding is not wanted.
type ByteEstimator struct {
	bytesPerToken int
}

func NewByteEstimator(bytesPerToken int) ByteEstimator {
	if bytesPerToken <= 0 {
		bytesPerToken = 4
	}
	return ByteEstimator{bytesPerToken: bytesPerToken}
}

func (e ByteEstimator) Count(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + e.bytesPerToken - 1) / e.bytesPerToken
}

func (e ByteEstimator) Prefix(text string, n int) string {
	if n <= 0 {
		return ""
	}
	return text[:runeFloor(text, n*e.bytesPerToken)]
}
