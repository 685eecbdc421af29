package dataset

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/VictoriaMetrics/fastcache"

	"tapt/pkg/contract"
)

// maxCachedValue: fastcache 单条 Set 的安全上限（超出则不缓存）。
const maxCachedValue = 60 * 1024

// EncodeCache 以 fastcache 缓存 Encode 结果；语料中重复句子只分词一次。
// 键 = 分词器指纹（实现名/词表大小/截断长度）+ 文本，指纹在扩词与启用截断后刷新。
type EncodeCache struct {
	inner  contract.Tokenizer
	cache  *fastcache.Cache
	path   string
	maxLen int
	prefix []byte
}

var _ contract.Tokenizer = (*EncodeCache)(nil)

// NewEncodeCache 包装 inner。path 非空时从该目录加载（不存在则新建），Save 时写回。
func NewEncodeCache(inner contract.Tokenizer, path string, maxBytes int) *EncodeCache {
	c := &EncodeCache{inner: inner, path: path}
	if path != "" {
		c.cache = fastcache.LoadFromFileOrNew(path, maxBytes)
	} else {
		c.cache = fastcache.New(maxBytes)
	}
	c.refresh()
	return c
}

func (c *EncodeCache) refresh() {
	fp := fmt.Sprintf("%T", c.inner)
	if f, ok := c.inner.(contract.Fingerprinted); ok {
		fp = f.Fingerprint()
	}
	c.prefix = []byte(fmt.Sprintf("%s|%d|%d\x00", fp, c.inner.Len(), c.maxLen))
}

func (c *EncodeCache) AddSpecialTokens(tokens []string) (int, error) {
	n, err := c.inner.AddSpecialTokens(tokens)
	c.refresh()
	return n, err
}

func (c *EncodeCache) EnableTruncation(maxLen int) {
	c.inner.EnableTruncation(maxLen)
	c.maxLen = maxLen
	c.refresh()
}

func (c *EncodeCache) Len() int                         { return c.inner.Len() }
func (c *EncodeCache) Specials() contract.SpecialTokens { return c.inner.Specials() }

// Encode 先查缓存；未命中时调用 inner 并写入。fastcache 并发安全。
func (c *EncodeCache) Encode(text string) (contract.Encoding, error) {
	key := make([]byte, 0, len(c.prefix)+len(text))
	key = append(key, c.prefix...)
	key = append(key, text...)
	if v, ok := c.cache.HasGet(nil, key); ok {
		if enc, err := decodeEncoding(v); err == nil {
			return enc, nil
		}
	}
	enc, err := c.inner.Encode(text)
	if err != nil {
		return enc, err
	}
	if v := encodeEncoding(enc); len(v) <= maxCachedValue {
		c.cache.Set(key, v)
	}
	return enc, nil
}

// Stats 返回 (条目数, 查询次数, 未命中次数)。
func (c *EncodeCache) Stats() (entries, gets, misses uint64) {
	var s fastcache.Stats
	c.cache.UpdateStats(&s)
	return s.EntriesCount, s.GetCalls, s.Misses
}

// Save 将缓存持久化到 path（path 为空时 no-op）。
func (c *EncodeCache) Save() error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	return c.cache.SaveToFileConcurrent(c.path, 0)
}

// 值布局：uvarint(n) | n×uvarint(id) | n×mask字节 | n×(uvarint(len) token)
func encodeEncoding(e contract.Encoding) []byte {
	n := len(e.IDs)
	buf := make([]byte, 0, 4+n*4)
	buf = binary.AppendUvarint(buf, uint64(n))
	for _, id := range e.IDs {
		buf = binary.AppendUvarint(buf, uint64(id))
	}
	for i := 0; i < n; i++ {
		var m byte
		if i < len(e.SpecialMask) && e.SpecialMask[i] != 0 {
			m = 1
		}
		buf = append(buf, m)
	}
	for i := 0; i < n; i++ {
		var s string
		if i < len(e.Tokens) {
			s = e.Tokens[i]
		}
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

func decodeEncoding(b []byte) (contract.Encoding, error) {
	var e contract.Encoding
	bad := fmt.Errorf("%w: corrupt cache entry", contract.ErrInvariantViolation)
	n64, k := binary.Uvarint(b)
	if k <= 0 || n64 > uint64(len(b)) {
		return e, bad
	}
	b = b[k:]
	n := int(n64)
	e.IDs = make([]int, n)
	for i := 0; i < n; i++ {
		v, k := binary.Uvarint(b)
		if k <= 0 {
			return contract.Encoding{}, bad
		}
		e.IDs[i] = int(v)
		b = b[k:]
	}
	if len(b) < n {
		return contract.Encoding{}, bad
	}
	e.SpecialMask = make([]int, n)
	for i := 0; i < n; i++ {
		e.SpecialMask[i] = int(b[i])
	}
	b = b[n:]
	e.Tokens = make([]string, n)
	for i := 0; i < n; i++ {
		l, k := binary.Uvarint(b)
		if k <= 0 || uint64(len(b)-k) < l {
			return contract.Encoding{}, bad
		}
		e.Tokens[i] = string(b[k : k+int(l)])
		b = b[k+int(l):]
	}
	return e, nil
}
