package proofs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ScanPrefix 是计算扫描摘要时拼接在字节字面量前的固定前缀。
const ScanPrefix = "scan_"

// Fingerprint 汇总同一份字节输入得到的全部摘要。
type Fingerprint struct {
	ContentDigest string
	ScanDigest    string
	CID           string
}

// ContentDigest 返回文件内容的 sha256 十六进制摘要。
func ContentDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ScanDigest 返回 "scan_" 前缀加文件字节字面量的 sha256 十六进制摘要。
// 已上链的扫描哈希都按这种形式计算，这里保持逐字节一致。
func ScanDigest(data []byte) string {
	h := sha256.New()
	h.Write([]byte(ScanPrefix))
	h.Write([]byte(bytesLiteral(data)))
	return hex.EncodeToString(h.Sum(nil))
}

const hexDigits = "0123456789abcdef"

// bytesLiteral 把字节渲染为 b'...' 字面量：默认单引号，
// 内容含单引号且不含双引号时改用双引号；不可打印字节写成 \xhh。
func bytesLiteral(data []byte) string {
	quote := byte('\'')
	if bytes.IndexByte(data, '\'') >= 0 && bytes.IndexByte(data, '"') < 0 {
		quote = '"'
	}

	var b strings.Builder
	b.Grow(len(data) + 3)
	b.WriteByte('b')
	b.WriteByte(quote)
	for _, c := range data {
		switch {
		case c == quote || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\t':
			b.WriteString(`\t`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c < ' ' || c >= 0x7f:
			b.WriteString(`\x`)
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(quote)
	return b.String()
}

// CID 返回 raw 编码、sha2-256 多重哈希的 CIDv1 字符串。
func CID(data []byte) (string, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// Compute 一次性计算全部摘要。
func Compute(data []byte) (Fingerprint, error) {
	contentID, err := CID(data)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		ContentDigest: ContentDigest(data),
		ScanDigest:    ScanDigest(data),
		CID:           contentID,
	}, nil
}
