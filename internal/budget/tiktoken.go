package budget

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

var loaderOnce sync.Once

// Tiktoken counts tokens with an OpenAI BPE encoding. Tables are loaded from
// the embedded offline loader, so no network access is needed.
type Tiktoken struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

func NewTiktoken(encoding string) (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) encode(text string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) decode(ids []int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enc.Decode(ids)
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encode(text))
}

// Prefix decodes the first n tokens. A token may end inside a multi-byte rune,
// so the cut is moved back to a rune boundary and re-checked against n.
func (t *Tiktoken) Prefix(text string, n int) string {
	if n <= 0 {
		return ""
	}
	ids := t.encode(text)
	if len(ids) <= n {
		return text
	}
	for k := n; k > 0; k-- {
		cut := runeFloor(text, len(t.decode(ids[:k])))
		prefix := text[:cut]
		if t.Count(prefix) <= n {
			return prefix
		}
	}
	return ""
}
