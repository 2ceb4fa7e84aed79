package sqlgen

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// defaultMaxNameLength applies to engines without an identifier limit.
const defaultMaxNameLength = 200

// namesDigest hashes the arguments in order and returns the first length
// hex characters.
func namesDigest(length int, args ...string) string {
	h := md5.New()
	for _, arg := range args {
		h.Write([]byte(arg))
	}
	return hex.EncodeToString(h.Sum(nil))[:length]
}

// truncateName shortens name to length characters, replacing the tail with
// a four character hash of the full name.
func truncateName(name string, length int) string {
	if length <= 0 || len(name) <= length {
		return name
	}
	const hashLen = 4
	return name[:length-hashLen] + namesDigest(hashLen, name)
}

// indexName builds "<table>_<columns>_<hash><suffix>", shortening the table
// and column parts evenly when the result exceeds maxLength.
func indexName(maxLength int, table string, columns []string, suffix string) string {
	if maxLength <= 0 {
		maxLength = defaultMaxNameLength
	}
	plain := make([]string, len(columns))
	for i, col := range columns {
		plain[i] = strings.TrimPrefix(col, "-")
	}
	hashSuffix := namesDigest(8, append([]string{table}, plain...)...) + suffix
	joined := strings.Join(plain, "_")

	name := table + "_" + joined + "_" + hashSuffix
	if len(name) <= maxLength {
		return name
	}
	if len(hashSuffix) > maxLength/3 {
		hashSuffix = hashSuffix[:maxLength/3]
	}
	other := (maxLength-len(hashSuffix))/2 - 1
	name = prefix(table, other) + "_" + prefix(joined, other) + "_" + hashSuffix
	if name[0] == '_' || (name[0] >= '0' && name[0] <= '9') {
		name = "D" + name[:len(name)-1]
	}
	return name
}

func prefix(s string, n int) string {
	if n < 0 {
		return ""
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}
